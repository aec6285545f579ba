package control

import (
	"math"
	"testing"
	"time"
)

func TestTimingMonitor(t *testing.T) {
	m := newTimingMonitor()

	info := m.info()
	if info.LatencyMinNS != math.MaxUint64 || info.PeriodMinNS != math.MaxUint64 || info.ExecMinNS != math.MaxUint64 {
		t.Fatalf("minima not initialized to extremes: %+v", info)
	}

	base := time.Unix(0, 0)
	// Cycle 1: woke 10µs late, ran 100µs.
	m.observeWake(base.Add(10*time.Microsecond), base)
	m.observeExec(base.Add(10*time.Microsecond), base.Add(110*time.Microsecond))
	// Cycle 2: on time, period 1ms, ran 50µs.
	w2 := base.Add(10*time.Microsecond + time.Millisecond)
	m.observeWake(w2, w2)
	m.observeExec(w2, w2.Add(50*time.Microsecond))

	info = m.info()
	if info.Cycles != 2 {
		t.Errorf("Cycles = %d, want 2", info.Cycles)
	}
	if info.LatencyMaxNS != uint64(10*time.Microsecond) {
		t.Errorf("LatencyMaxNS = %d, want %d", info.LatencyMaxNS, 10*time.Microsecond)
	}
	if info.LatencyMinNS != 0 {
		t.Errorf("LatencyMinNS = %d, want 0", info.LatencyMinNS)
	}
	if info.PeriodNS != uint64(time.Millisecond) || info.PeriodMinNS != uint64(time.Millisecond) {
		t.Errorf("period = %d/%d, want 1ms", info.PeriodNS, info.PeriodMinNS)
	}
	if info.ExecMinNS != uint64(50*time.Microsecond) || info.ExecMaxNS != uint64(100*time.Microsecond) {
		t.Errorf("exec min/max = %d/%d", info.ExecMinNS, info.ExecMaxNS)
	}

	m.missedCycle()
	if got := m.info().MissedCycles; got != 1 {
		t.Errorf("MissedCycles = %d, want 1", got)
	}
}

// A wake earlier than the deadline must clamp latency at zero rather than
// going negative.
func TestTimingEarlyWake(t *testing.T) {
	m := newTimingMonitor()
	base := time.Unix(0, 0)
	m.observeWake(base, base.Add(time.Microsecond))
	m.observeExec(base, base.Add(time.Microsecond))
	if got := m.info().LatencyNS; got != 0 {
		t.Errorf("LatencyNS = %d, want 0", got)
	}
}
