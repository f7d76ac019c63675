package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"GTM/benchmark"
	"GTM/configs"
	"GTM/network/server"
	"github.com/jackc/pgx/v4"
)

var (
	node        string
	addr        string
	standbyAddr string
	syncBackup  bool
	ctrlStore   string
	ctrlPath    string
	con         int
	sessions    int
	sk          float64
	ro          float64
	rb          float64
	twoPC       int
	runFor      int
	iso         string
	local       bool
	debug       bool
	cpuProfile  string
	memProfile  string
)

func usage() {
	flag.PrintDefaults()
}

func init() {
	flag.StringVar(&node, "node", "gtm", "the role to start: gtm, standby, or bench")
	flag.StringVar(&addr, "addr", "", "the address for this node (default from the config file)")
	flag.StringVar(&standbyAddr, "standby", "", "the standby address mutations are mirrored to")
	flag.BoolVar(&syncBackup, "sync", false, "wait for the standby flush before answering clients")
	flag.StringVar(&ctrlStore, "control", configs.WALControl, "the control store backend (wal, sql, mongo, or mem)")
	flag.StringVar(&ctrlPath, "control_path", configs.ControlFileLocation, "the control store location / link")
	flag.IntVar(&con, "c", 8, "the number of benchmark clients")
	flag.IntVar(&sessions, "sessions", 1024, "the benchmark session universe")
	flag.Float64Var(&sk, "skew", 0.9, "the skew factor for the session zipf")
	flag.Float64Var(&ro, "ro", 0.2, "the read-only transaction percentage")
	flag.Float64Var(&rb, "rollback", 0.1, "the rollback percentage")
	flag.IntVar(&twoPC, "twopc", 10, "the two-phase commit percentage (%)")
	flag.IntVar(&runFor, "t", 5, "the benchmark duration in seconds")
	flag.StringVar(&iso, "iso", "rc", "the default isolation level (s, si, rc, ru)")
	flag.BoolVar(&local, "local", false, "run with the local config file")
	flag.BoolVar(&debug, "debug", false, "log debug info into debug file")
	flag.StringVar(&cpuProfile, "cpu_prof", "", "write cpu profiling")
	flag.StringVar(&memProfile, "mem_prof", "", "write memory profiling")
	flag.Usage = usage
}

func main() {
	flag.Parse()
	if debug {
		f, err := os.OpenFile(fmt.Sprintf("logs/logfiles_%v.log", time.Now().String()), os.O_RDWR|os.O_CREATE, 0666)
		defer f.Close()
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		log.SetOutput(io.Writer(f))
	}
	if configs.TraceFile {
		traceFile, err := os.OpenFile(fmt.Sprintf("logs/trace_%v.log", time.Now().String()), os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		defer traceFile.Close()
		err = trace.Start(traceFile)
		if err != nil {
			panic(err)
		}
		defer trace.Stop()
	}
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}
	switch iso {
	case "s":
		configs.DefaultIsolationLevel = pgx.Serializable
	case "si":
		configs.DefaultIsolationLevel = pgx.RepeatableRead
	case "rc":
		configs.DefaultIsolationLevel = pgx.ReadCommitted
	default:
		configs.DefaultIsolationLevel = pgx.ReadUncommitted
	}
	configs.ShowWarnings = debug
	configs.ShowTestInfo = debug
	configs.ShowReplicationChanges = debug
	configs.StandbyServerAddress = standbyAddr
	configs.SynchronousBackup = syncBackup
	configs.ControlStorage = ctrlStore
	configs.ControlFileLocation = ctrlPath
	configs.ClientRoutineNumber = con
	configs.BenchmarkSessions = sessions
	configs.SessionSkewness = sk
	configs.ReadOnlyPercentage = ro
	configs.RollbackPercentage = rb
	configs.TwoPCPercentage = twoPC
	configs.BenchDuration = time.Duration(runFor) * time.Second
	if local {
		configs.SetLocal()
	}

	switch node {
	case "gtm":
		server.Main(addr, false)
	case "standby":
		server.Main(addr, true)
	case "bench":
		benchmark.TestGTM()
	default:
		panic("invalid parameter for node, 'gtm', 'standby', or 'bench'")
	}

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
