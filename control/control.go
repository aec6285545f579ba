package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/pedestal_interface/config"
	"github.com/w1xm/pedestal_interface/ecat"
)

// Options tune the controller. The zero value selects the defaults.
type Options struct {
	// CyclePeriod is the process-data cycle. Default 1ms.
	CyclePeriod time.Duration
	// SDOTimeout bounds each SDO transfer during init. Default 500ms.
	SDOTimeout time.Duration
	// BusLossThreshold is the number of consecutive missed receives
	// tolerated before the system goes FATAL_ERROR. Default 16.
	BusLossThreshold int
	// CPU pins the cycle thread to the given core when positive; zero
	// or negative leaves the thread unpinned.
	CPU int
	// RTPriority is the SCHED_FIFO priority for the cycle thread;
	// zero keeps normal scheduling.
	RTPriority int
	// Logger defaults to the logrus standard logger.
	Logger *logrus.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.CyclePeriod <= 0 {
		out.CyclePeriod = time.Millisecond
	}
	if out.SDOTimeout <= 0 {
		out.SDOTimeout = 500 * time.Millisecond
	}
	if out.BusLossThreshold <= 0 {
		out.BusLossThreshold = 16
	}
	if out.CPU <= 0 {
		out.CPU = -1
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// Control owns the whole motion-control stack: the bus, the cycle thread
// and the lock-free operator mailboxes. Construction brings both drives
// through init; Close brings them to a safe state and releases the bus.
type Control struct {
	log  *logrus.Entry
	bus  ecat.Master
	opts Options

	info SystemInfo

	cmdMu   sync.Mutex
	inboxes [NumAxes]inbox

	outbox outbox
	timing *timingMonitor

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New opens and activates the bus, stages the config-file registers over
// SDO, reads the static drive information and starts the cycle thread. On
// any failure the bus is released and an error returned; there is no
// partial success.
func New(bus ecat.Master, params config.Params, opts Options) (*Control, error) {
	opts = opts.withDefaults()
	c := &Control{
		log:    opts.Logger.WithField("component", "control"),
		bus:    bus,
		opts:   opts,
		timing: newTimingMonitor(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := bus.Open(); err != nil {
		return nil, fmt.Errorf("opening bus: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			bus.Close()
		}
	}()

	if err := bus.ConfigurePDOs(); err != nil {
		return nil, fmt.Errorf("configuring pdos: %w", err)
	}
	if err := bus.Activate(); err != nil {
		return nil, fmt.Errorf("activating bus: %w", err)
	}

	for slave := 0; slave < ecat.SlaveCount; slave++ {
		if err := c.writeParams(slave, params); err != nil {
			return nil, err
		}
		info, err := c.readAxisInfo(slave)
		if err != nil {
			return nil, fmt.Errorf("reading axis %v info: %w", Axis(slave), err)
		}
		c.info.Axes[slave] = info
	}

	eng := &engine{
		log:              opts.Logger.WithField("component", "cycle"),
		bus:              bus,
		period:           opts.CyclePeriod,
		busLossThreshold: opts.BusLossThreshold,
		cpu:              opts.CPU,
		rtPriority:       opts.RTPriority,
		inboxes:          &c.inboxes,
		outbox:           &c.outbox,
		timing:           c.timing,
		stop:             c.stop,
		first:            make(chan struct{}),
	}
	for a := Axis(0); a < NumAxes; a++ {
		eng.axes[a].ppr = c.info.Axes[a].EncoderPulsesPerRev
		eng.axes[a].paramsMode = ParamsAutomatic
	}
	go eng.run(c.done)

	select {
	case <-eng.first:
	case <-time.After(100 * opts.CyclePeriod):
		close(c.stop)
		<-c.done
		return nil, fmt.Errorf("cycle thread produced no snapshot within %v", 100*opts.CyclePeriod)
	}
	if s, okSnap := c.outbox.load(); okSnap && s.State == SystemFatalError {
		<-c.done
		return nil, fmt.Errorf("bus failed during startup")
	}

	c.log.WithFields(logrus.Fields{
		"period": opts.CyclePeriod,
		"az":     c.info.Axes[Azimuth].DevName,
		"el":     c.info.Axes[Elevation].DevName,
	}).Info("controller running")
	ok = true
	return c, nil
}

// Close requests the cycle thread to stop, waits a bounded time for it to
// command the drives to a safe state, and releases the bus regardless.
func (c *Control) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		select {
		case <-c.done:
		case <-time.After(100 * c.opts.CyclePeriod):
			c.log.Error("cycle thread did not stop in time; releasing bus anyway")
		}
		err = c.bus.Close()
	})
	return err
}

// PointTo commands the axis into profile position mode toward the given
// encoder count.
func (c *Control) PointTo(axis Axis, counts int32) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	c.post(axis, Intent{Kind: IntentRunPoint, TargetPosition: counts})
	return nil
}

// ScanAt commands the axis into profile velocity mode at the given rate in
// encoder counts per second. The sign selects the direction: for azimuth
// positive is clockwise, for elevation positive raises the antenna.
func (c *Control) ScanAt(axis Axis, countsPerSec int32) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if countsPerSec == 0 {
		return fmt.Errorf("scan velocity must be nonzero")
	}
	c.post(axis, Intent{Kind: IntentRunScan, TargetVelocity: countsPerSec})
	return nil
}

// SetIdle brings the axis to idle (motor powered, operation disabled).
func (c *Control) SetIdle(axis Axis) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	c.post(axis, Intent{Kind: IntentIdle})
	return nil
}

// ResetFault clears a drive fault with a single reset edge and returns the
// axis to idle. Idempotent on a healthy axis.
func (c *Control) ResetFault(axis Axis) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	c.post(axis, Intent{Kind: IntentResetFault})
	return nil
}

func (c *Control) post(axis Axis, intent Intent) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	seq := c.inboxes[axis].post(intent)
	c.log.WithFields(logrus.Fields{
		"axis": axis,
		"kind": intent.Kind,
		"seq":  seq,
	}).Debug("posted intent")
}

func checkAxis(axis Axis) error {
	if axis < 0 || axis >= NumAxes {
		return fmt.Errorf("invalid axis %d", int(axis))
	}
	return nil
}

// Status returns the most recent snapshot. The returned value is immutable
// and internally consistent; it may lag the bus by up to one cycle.
func (c *Control) Status() SystemStatus {
	s, _ := c.outbox.load()
	return s
}

// Info returns the static drive information read at init.
func (c *Control) Info() SystemInfo { return c.info }

// CycleInfo returns the cycle timing diagnostics.
func (c *Control) CycleInfo() CycleTimeInfo { return c.timing.info() }

// writeParams stages the config-file register writes on one slave.
func (c *Control) writeParams(slave int, params config.Params) error {
	for _, p := range params {
		width, ok := registerWidth(p.Index)
		if !ok {
			return fmt.Errorf("config register %04X: unknown object", p.Index)
		}
		if err := checkRange(p.Value, width); err != nil {
			return fmt.Errorf("config register %04X: %w", p.Index, err)
		}
		buf := make([]byte, width)
		switch width {
		case 1:
			buf[0] = byte(p.Value)
		case 2:
			binary.LittleEndian.PutUint16(buf, uint16(p.Value))
		case 4:
			binary.LittleEndian.PutUint32(buf, uint32(p.Value))
		}
		if err := c.bus.SDOWrite(slave, p.Index, 0, buf, c.opts.SDOTimeout); err != nil {
			return fmt.Errorf("writing register %04X to axis %v: %w", p.Index, Axis(slave), err)
		}
	}
	return nil
}

// registerWidth returns the SDO payload width for a configurable object.
// Objects outside the drive profile and vendor ranges are rejected.
func registerWidth(index uint16) (int, bool) {
	switch index {
	case ecat.ObjControlword, ecat.ObjStatusword:
		// Never staged from config.
		return 0, false
	case ecat.ObjModeOfOperation:
		return 1, true
	case ecat.ObjErrorCode, ecat.ObjTorqueActual:
		return 2, true
	}
	switch {
	case index >= 0x2000 && index < 0x6000:
		// Vendor range.
		return 4, true
	case index >= 0x6000 && index < 0x6800:
		// Drive profile range.
		return 4, true
	}
	return 0, false
}

func checkRange(v int64, width int) error {
	var min, max int64
	switch width {
	case 1:
		min, max = math.MinInt8, math.MaxUint8
	case 2:
		min, max = math.MinInt16, math.MaxUint16
	case 4:
		min, max = math.MinInt32, math.MaxUint32
	}
	if v < min || v > max {
		return fmt.Errorf("value %d does not fit in %d bytes", v, width)
	}
	return nil
}

// readAxisInfo reads the static identification objects of one drive.
func (c *Control) readAxisInfo(slave int) (AxisInfo, error) {
	var info AxisInfo

	readString := func(index uint16) (string, error) {
		b, err := c.bus.SDORead(slave, index, 0, c.opts.SDOTimeout)
		if err != nil {
			return "", err
		}
		return string(bytes.TrimRight(b, "\x00")), nil
	}

	var err error
	if info.DevName, err = readString(ecat.ObjDeviceName); err != nil {
		return info, fmt.Errorf("device name: %w", err)
	}
	if info.HWVersion, err = readString(ecat.ObjHardwareVersion); err != nil {
		return info, fmt.Errorf("hardware version: %w", err)
	}
	if info.SWVersion, err = readString(ecat.ObjSoftwareVersion); err != nil {
		return info, fmt.Errorf("software version: %w", err)
	}

	b, err := c.bus.SDORead(slave, ecat.ObjEncoderResolution, 0, c.opts.SDOTimeout)
	if err != nil {
		return info, fmt.Errorf("encoder resolution: %w", err)
	}
	if len(b) < 4 {
		return info, fmt.Errorf("encoder resolution: short read (%d bytes)", len(b))
	}
	info.EncoderPulsesPerRev = binary.LittleEndian.Uint32(b)
	if info.EncoderPulsesPerRev == 0 {
		return info, fmt.Errorf("drive reports zero encoder resolution")
	}
	return info, nil
}
