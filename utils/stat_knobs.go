package utils

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"GTM/configs"
)

// Info records the outcome of one client transaction for the load driver.
type Info struct {
	IsCommit   bool
	Failure    bool
	DelayedCnt int
	RetryCount int
	TwoPhase   bool
	Latency    time.Duration
}

func NewInfo() *Info {
	res := &Info{
		Failure: false, IsCommit: false, Latency: 0,
		RetryCount: 0, DelayedCnt: 0,
	}
	return res
}

type Stat struct {
	mu        *sync.Mutex
	txnInfos  []*Info
	beginTS   int
	endTS     int
	beginTime time.Time
	endTime   time.Time
}

func NewStat() *Stat {
	res := &Stat{
		txnInfos:  make([]*Info, 0),
		mu:        &sync.Mutex{},
		beginTS:   0,
		endTS:     0,
		beginTime: time.Now(),
		endTime:   time.Now(),
	}
	return res
}

func (st *Stat) Append(info *Info) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.endTS++
	st.endTime = time.Now()
	st.txnInfos = append(st.txnInfos, info)
}

func (st *Stat) Log() {
	st.mu.Lock()
	defer st.mu.Unlock()
	txnCnt, success, fail, rollback, twoPhase, delayed, tryCnt := 0, 0, 0, 0, 0, 0, 0
	latencySum := 0
	latencies := make([]int, 0)
	for i := st.beginTS; i < st.endTS; i++ {
		if st.txnInfos[i] != nil {
			tmp := st.txnInfos[i]
			txnCnt++
			tryCnt += tmp.RetryCount
			delayed += tmp.DelayedCnt
			if tmp.Failure {
				fail++
			}
			if tmp.TwoPhase {
				twoPhase++
			}
			if tmp.Latency > 0 {
				latencySum += int(tmp.Latency)
				latencies = append(latencies, int(tmp.Latency))
			}
			if tmp.IsCommit {
				success++
			} else if !tmp.Failure {
				rollback++
			}
		}
	}
	msg := "try_cnt:" + strconv.Itoa(tryCnt/configs.RunTestInterval) + ";"
	msg += "txn_cnt:" + strconv.Itoa(txnCnt/configs.RunTestInterval) + ";"
	msg += "client:" + strconv.Itoa(configs.ClientRoutineNumber) + ";"
	msg += "success_txn:" + strconv.Itoa(success/configs.RunTestInterval) + ";"
	msg += "rollback_txn:" + strconv.Itoa(rollback/configs.RunTestInterval) + ";"
	msg += "two_phase_txn:" + strconv.Itoa(twoPhase/configs.RunTestInterval) + ";"
	msg += "delayed_commit:" + strconv.Itoa(delayed/configs.RunTestInterval) + ";"
	msg += "failed_txn:" + strconv.Itoa(fail/configs.RunTestInterval) + ";"
	sort.Ints(latencies)
	if len(latencies) > 0 {
		i := Min((len(latencies)*99+99)/100, len(latencies)-1)
		msg += "p99_latency:" + time.Duration(time.Duration(latencies[i]).Nanoseconds()).String() + ";"
		i = Min((len(latencies)*9+9)/10, len(latencies)-1)
		msg += "p90_latency:" + time.Duration(time.Duration(latencies[i]).Nanoseconds()).String() + ";"
		i = Min((len(latencies)+1)/2, len(latencies)-1)
		msg += "p50_latency:" + time.Duration(time.Duration(latencies[i]).Nanoseconds()).String() + ";"
		msg += "ave_latency:" + time.Duration(time.Duration(float64(latencySum)/float64(len(latencies))).Nanoseconds()).String() + ";"
	} else {
		msg += "p99_latency:nil;"
		msg += "p90_latency:nil;"
		msg += "p50_latency:nil;"
		msg += "ave_latency:nil;"
	}
	fmt.Println(msg)
}

func (st *Stat) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.beginTS = st.endTS
	st.beginTime = time.Now()
}
