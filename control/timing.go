package control

import (
	"math"
	"sync/atomic"
	"time"
)

// CycleTimeInfo is the diagnostic view of the cycle loop's timing. Latency
// is wake time versus planned deadline, exec is wake to send-done, period is
// wake to wake. Minima start at the maximum representable value so the first
// cycle initializes them.
type CycleTimeInfo struct {
	PeriodNS  uint64
	ExecNS    uint64
	LatencyNS uint64

	LatencyMinNS uint64
	LatencyMaxNS uint64
	PeriodMinNS  uint64
	PeriodMaxNS  uint64
	ExecMinNS    uint64
	ExecMaxNS    uint64

	// Cycles is the number of completed cycles, MissedCycles the number
	// of cycles skipped on a transient receive failure.
	Cycles         uint64
	MissedCycles   uint64
	Intents        uint64
	InvalidIntents uint64
}

// timingMonitor accumulates CycleTimeInfo inside the cycle thread and
// republishes it after every cycle.
type timingMonitor struct {
	cur      CycleTimeInfo
	lastWake time.Time
	out      atomic.Value // CycleTimeInfo
}

func newTimingMonitor() *timingMonitor {
	m := &timingMonitor{}
	m.cur.LatencyMinNS = math.MaxUint64
	m.cur.PeriodMinNS = math.MaxUint64
	m.cur.ExecMinNS = math.MaxUint64
	m.out.Store(m.cur)
	return m
}

func (m *timingMonitor) observeWake(wake, deadline time.Time) {
	lat := wake.Sub(deadline)
	if lat < 0 {
		lat = 0
	}
	m.cur.LatencyNS = uint64(lat)
	if m.cur.LatencyNS < m.cur.LatencyMinNS {
		m.cur.LatencyMinNS = m.cur.LatencyNS
	}
	if m.cur.LatencyNS > m.cur.LatencyMaxNS {
		m.cur.LatencyMaxNS = m.cur.LatencyNS
	}
	if !m.lastWake.IsZero() {
		p := uint64(wake.Sub(m.lastWake))
		m.cur.PeriodNS = p
		if p < m.cur.PeriodMinNS {
			m.cur.PeriodMinNS = p
		}
		if p > m.cur.PeriodMaxNS {
			m.cur.PeriodMaxNS = p
		}
	}
	m.lastWake = wake
}

func (m *timingMonitor) observeExec(wake, done time.Time) {
	e := uint64(done.Sub(wake))
	m.cur.ExecNS = e
	if e < m.cur.ExecMinNS {
		m.cur.ExecMinNS = e
	}
	if e > m.cur.ExecMaxNS {
		m.cur.ExecMaxNS = e
	}
	m.cur.Cycles++
	m.out.Store(m.cur)
}

func (m *timingMonitor) missedCycle() {
	m.cur.MissedCycles++
	m.out.Store(m.cur)
}

func (m *timingMonitor) intentConsumed() { m.cur.Intents++ }
func (m *timingMonitor) intentRejected() { m.cur.InvalidIntents++ }

// info returns the last published view; safe from any goroutine.
func (m *timingMonitor) info() CycleTimeInfo {
	return m.out.Load().(CycleTimeInfo)
}
