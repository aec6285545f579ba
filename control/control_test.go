package control

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/w1xm/pedestal_interface/cia402"
	"github.com/w1xm/pedestal_interface/config"
	"github.com/w1xm/pedestal_interface/ecat"
	"github.com/w1xm/pedestal_interface/ecat/simulator"
)

const testPeriod = time.Millisecond

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestControl(t *testing.T, params config.Params) (*Control, *simulator.Simulator) {
	t.Helper()
	sim := simulator.New(simulator.Options{Period: testPeriod})
	c, err := New(sim, params, Options{
		CyclePeriod: testPeriod,
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, sim
}

// waitFor polls the published snapshot until cond holds.
func waitFor(t *testing.T, c *Control, desc string, cond func(SystemStatus) bool) SystemStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s := c.Status()
		if cond(s) {
			return s
		}
		time.Sleep(testPeriod)
	}
	t.Fatalf("timed out waiting for %s; last status: %+v", desc, c.Status())
	return SystemStatus{}
}

// containsSubsequence reports whether seq contains all of want in order,
// not necessarily adjacent.
func containsSubsequence(seq, want []uint16) bool {
	i := 0
	for _, v := range seq {
		if i < len(want) && v == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestInitHappyPath(t *testing.T) {
	params, err := config.Parse(strings.NewReader("6083=20000\n6084=20000\n60FF=0"))
	require.NoError(t, err)

	c, sim := newTestControl(t, params)

	info := c.Info()
	for a := Axis(0); a < NumAxes; a++ {
		require.Equal(t, "L7NHA-SIM", info.Axes[a].DevName)
		require.Equal(t, uint32(1<<20), info.Axes[a].EncoderPulsesPerRev)
		require.NotEmpty(t, info.Axes[a].HWVersion)
		require.NotEmpty(t, info.Axes[a].SWVersion)
	}

	// The staged registers must have reached both drives.
	for slave := 0; slave < ecat.SlaveCount; slave++ {
		b, err := sim.SDORead(slave, 0x6083, 0, time.Second)
		require.NoError(t, err)
		require.Equal(t, []byte{0x20, 0x4E, 0, 0}, b)
	}

	s := waitFor(t, c, "both axes disabled", func(s SystemStatus) bool {
		return s.Axes[Azimuth].State == AxisDisabled && s.Axes[Elevation].State == AxisDisabled
	})
	require.Equal(t, SystemReady, s.State)
}

func TestPointToPoint(t *testing.T) {
	c, sim := newTestControl(t, nil)

	require.NoError(t, c.PointTo(Azimuth, 1048576))

	s := waitFor(t, c, "azimuth at target", func(s SystemStatus) bool {
		az := s.Axes[Azimuth]
		return az.State == AxisEnabled && az.Mode == ModePoint && az.CurPos == 1048576
	})
	require.Equal(t, int32(1048576), s.Axes[Azimuth].TgtPos)
	require.Equal(t, SystemProcessing, s.State)

	want := []uint16{
		cia402.ControlShutdown,
		cia402.ControlSwitchOn,
		cia402.ControlEnableOperation,
		cia402.ControlEnableOperation | cia402.ControlNewSetpoint,
		cia402.ControlEnableOperation,
	}
	history := sim.ControlwordHistory(int(Azimuth))
	require.Truef(t, containsSubsequence(history, want),
		"controlword history %#v missing enable sequence %#v", history, want)

	// The untouched elevation axis must still be disabled.
	require.Equal(t, AxisDisabled, c.Status().Axes[Elevation].State)
}

func TestNewTargetWhileInPointMode(t *testing.T) {
	c, sim := newTestControl(t, nil)

	require.NoError(t, c.PointTo(Azimuth, 500000))
	waitFor(t, c, "first target reached", func(s SystemStatus) bool {
		return s.Axes[Azimuth].CurPos == 500000
	})

	mark := len(sim.ControlwordHistory(int(Azimuth)))
	require.NoError(t, c.PointTo(Azimuth, 800000))
	waitFor(t, c, "second target reached", func(s SystemStatus) bool {
		return s.Axes[Azimuth].CurPos == 800000
	})

	// The new target is committed with a fresh setpoint toggle and no
	// intervening stop.
	later := sim.ControlwordHistory(int(Azimuth))[mark:]
	require.Contains(t, later, cia402.ControlEnableOperation|cia402.ControlNewSetpoint)
	require.NotContains(t, later, cia402.ControlShutdown)
	require.NotContains(t, later, cia402.ControlSwitchOn)
}

func TestScanReversal(t *testing.T) {
	c, sim := newTestControl(t, nil)

	require.NoError(t, c.ScanAt(Azimuth, 100000))
	waitFor(t, c, "scanning clockwise", func(s SystemStatus) bool {
		az := s.Axes[Azimuth]
		return az.State == AxisEnabled && az.Mode == ModeScan && az.CurVel == 100000
	})

	mark := len(sim.ControlwordHistory(int(Azimuth)))
	require.NoError(t, c.ScanAt(Azimuth, -100000))
	s := waitFor(t, c, "scanning counterclockwise", func(s SystemStatus) bool {
		return s.Axes[Azimuth].CurVel == -100000
	})
	require.Equal(t, ModeScan, s.Axes[Azimuth].Mode)
	require.Equal(t, int32(-100000), s.Axes[Azimuth].TgtVel)

	// No intermediate idle: the drive was never commanded out of
	// operation enabled during the reversal.
	later := sim.ControlwordHistory(int(Azimuth))[mark:]
	require.NotContains(t, later, cia402.ControlShutdown)
	require.NotContains(t, later, cia402.ControlSwitchOn)
}

func TestFaultAndReset(t *testing.T) {
	c, sim := newTestControl(t, nil)

	require.NoError(t, c.ScanAt(Azimuth, 100000))
	waitFor(t, c, "scanning", func(s SystemStatus) bool {
		return s.Axes[Azimuth].State == AxisEnabled
	})

	sim.InjectFault(int(Azimuth), 0x7320)
	s := waitFor(t, c, "fault observed", func(s SystemStatus) bool {
		return s.Axes[Azimuth].State == AxisError
	})
	require.Equal(t, uint16(0x7320), s.Axes[Azimuth].ErrorCode)
	require.Equal(t, SystemError, s.State)

	// RUN intents are ignored while faulted.
	require.NoError(t, c.ScanAt(Azimuth, 200000))
	time.Sleep(20 * testPeriod)
	require.Equal(t, AxisError, c.Status().Axes[Azimuth].State)
	require.NotEqual(t, int32(200000), c.Status().Axes[Azimuth].TgtVel)

	require.NoError(t, c.ResetFault(Azimuth))
	s = waitFor(t, c, "axis idle after reset", func(s SystemStatus) bool {
		return s.Axes[Azimuth].State == AxisIdle
	})
	require.Equal(t, uint16(0), s.Axes[Azimuth].ErrorCode)

	// The reset edge was sent exactly once.
	resets := 0
	for _, cw := range sim.ControlwordHistory(int(Azimuth)) {
		if cw&cia402.ControlFaultReset != 0 {
			resets++
		}
	}
	require.Equal(t, 1, resets)
}

func TestBusHiccup(t *testing.T) {
	c, sim := newTestControl(t, nil)

	waitFor(t, c, "first snapshot", func(s SystemStatus) bool { return s.AppTime != 0 })
	before := c.CycleInfo()

	sim.InjectNotReady(1)
	waitFor(t, c, "missed cycle accounted", func(SystemStatus) bool {
		return c.CycleInfo().MissedCycles == before.MissedCycles+1
	})

	// A single hiccup must not change axis state or kill the loop.
	s := c.Status()
	require.Equal(t, AxisDisabled, s.Axes[Azimuth].State)
	require.NotEqual(t, SystemFatalError, s.State)
	waitFor(t, c, "cycles resume", func(SystemStatus) bool {
		return c.CycleInfo().Cycles > before.Cycles+2
	})
}

func TestSustainedBusLossIsFatal(t *testing.T) {
	sim := simulator.New(simulator.Options{Period: testPeriod})
	c, err := New(sim, nil, Options{
		CyclePeriod:      testPeriod,
		BusLossThreshold: 4,
		Logger:           testLogger(),
	})
	require.NoError(t, err)
	defer c.Close()

	sim.InjectNotReady(100)
	waitFor(t, c, "fatal error", func(s SystemStatus) bool {
		return s.State == SystemFatalError
	})
}

func TestShutdown(t *testing.T) {
	sim := simulator.New(simulator.Options{Period: testPeriod})
	c, err := New(sim, nil, Options{CyclePeriod: testPeriod, Logger: testLogger()})
	require.NoError(t, err)

	require.NoError(t, c.ScanAt(Azimuth, 100000))
	require.NoError(t, c.ScanAt(Elevation, -50000))
	waitFor(t, c, "both axes enabled", func(s SystemStatus) bool {
		return s.Axes[Azimuth].State == AxisEnabled && s.Axes[Elevation].State == AxisEnabled
	})

	start := time.Now()
	require.NoError(t, c.Close())
	require.Less(t, time.Since(start), 100*testPeriod+time.Second)

	for slave := 0; slave < ecat.SlaveCount; slave++ {
		history := sim.ControlwordHistory(slave)
		require.NotEmpty(t, history)
		require.Equal(t, cia402.ControlShutdown, history[len(history)-1],
			"axis %d last controlword", slave)
	}
	require.False(t, sim.Opened(), "bus must be released after Close")
}

func TestSnapshotMonotonicAndConsistent(t *testing.T) {
	c, _ := newTestControl(t, nil)
	require.NoError(t, c.ScanAt(Azimuth, 100000))

	var last SystemStatus
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		s := c.Status()
		require.GreaterOrEqual(t, s.AppTime, last.AppTime, "apptime must be monotonic")
		for a := Axis(0); a < NumAxes; a++ {
			require.Equal(t, axisStateOf(s.Axes[a].Statusword), s.Axes[a].State,
				"published state must match same-cycle statusword")
		}
		last = s
	}
}

func TestInvalidConfigRegister(t *testing.T) {
	sim := simulator.New(simulator.Options{Period: testPeriod})
	_, err := New(sim, config.Params{{Index: 0x1000, Value: 1}}, Options{
		CyclePeriod: testPeriod,
		Logger:      testLogger(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown object")
}

func TestInvalidAxis(t *testing.T) {
	c, _ := newTestControl(t, nil)
	require.Error(t, c.PointTo(Axis(7), 0))
	require.Error(t, c.ScanAt(Azimuth, 0), "zero scan velocity is invalid")
}
