// Package simulator provides an in-memory ecat.Master with two simulated
// servo amplifiers. Each drive runs the CiA-402 state machine against the
// controlwords it is sent and integrates simple profile kinematics, which is
// enough to exercise the full controller stack without hardware.
package simulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/w1xm/pedestal_interface/cia402"
	"github.com/w1xm/pedestal_interface/ecat"
)

// Options configure the simulated bus.
type Options struct {
	// Period is the integration step, normally the controller's cycle
	// period. Default 1ms.
	Period time.Duration
	// EncoderPulsesPerRev reported over SDO. Default 1<<20 (20-bit
	// absolute encoder).
	EncoderPulsesPerRev uint32
	// MaxVelocity clamps profile moves, counts/s. Default 2,000,000.
	MaxVelocity int32
}

type drive struct {
	state cia402.State
	mode  int8

	position int32
	velocity int32
	torque   int16

	// dmdPos is the setpoint latched by the new-setpoint handshake.
	dmdPos int32
	tgtVel int32

	setpointAck bool
	lastCW      uint16

	faultCode uint16

	// history records each change of the received controlword, oldest
	// first; consecutive repeats are collapsed into one entry.
	history []uint16
}

// Simulator implements ecat.Master over two simulated drives.
type Simulator struct {
	opts Options

	mu     sync.Mutex
	opened bool
	mapped bool
	active bool

	drives [ecat.SlaveCount]drive
	inImg  [ecat.SlaveCount][ecat.InputImageLen]byte
	outImg [ecat.SlaveCount][ecat.OutputImageLen]byte

	// notReady makes the next n Receive calls fail transiently.
	notReady int
	// receiveErr, if set, makes Receive fail hard.
	receiveErr error

	// sdo holds the per-slave object store backing SDO transfers.
	sdo [ecat.SlaveCount]map[uint16][]byte
}

// New creates a simulated bus with both drives powered but switched off.
func New(opts Options) *Simulator {
	if opts.Period <= 0 {
		opts.Period = time.Millisecond
	}
	if opts.EncoderPulsesPerRev == 0 {
		opts.EncoderPulsesPerRev = 1 << 20
	}
	if opts.MaxVelocity <= 0 {
		opts.MaxVelocity = 2000000
	}
	s := &Simulator{opts: opts}
	for i := range s.drives {
		s.drives[i].state = cia402.SwitchOnDisabled
		s.sdo[i] = map[uint16][]byte{
			ecat.ObjDeviceName:      []byte("L7NHA-SIM"),
			ecat.ObjHardwareVersion: []byte("1.00"),
			ecat.ObjSoftwareVersion: []byte("0.91"),
			ecat.ObjEncoderResolution: {
				byte(opts.EncoderPulsesPerRev),
				byte(opts.EncoderPulsesPerRev >> 8),
				byte(opts.EncoderPulsesPerRev >> 16),
				byte(opts.EncoderPulsesPerRev >> 24),
			},
		}
		s.latchInputs(i)
	}
	return s
}

func (s *Simulator) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *Simulator) ConfigurePDOs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return fmt.Errorf("simulator: configure before open")
	}
	s.mapped = true
	return nil
}

func (s *Simulator) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mapped {
		return fmt.Errorf("simulator: activate before pdo configuration")
	}
	s.active = true
	return nil
}

func (s *Simulator) Receive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiveErr != nil {
		return s.receiveErr
	}
	if s.notReady > 0 {
		s.notReady--
		return ecat.ErrNotReady
	}
	for i := range s.drives {
		s.latchInputs(i)
	}
	return nil
}

func (s *Simulator) Inputs(slave int) []byte  { return s.inImg[slave][:] }
func (s *Simulator) Outputs(slave int) []byte { return s.outImg[slave][:] }

// Send applies the output images: each drive steps its state machine on the
// received controlword and integrates one cycle of motion.
func (s *Simulator) Send() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.drives {
		out := ecat.DecodeOutputs(s.outImg[i][:])
		s.drives[i].apply(out, s.opts)
	}
	return nil
}

func (s *Simulator) SDORead(slave int, index uint16, subindex uint8, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.sdo[slave][index]
	if !ok {
		return nil, &ecat.SlaveError{Slave: slave, Op: "sdo read", Err: fmt.Errorf("object %04X not found", index)}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (s *Simulator) SDOWrite(slave int, index uint16, subindex uint8, value []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, len(value))
	copy(b, value)
	s.sdo[slave][index] = b
	return nil
}

func (s *Simulator) DCSkew() time.Duration { return 100 * time.Nanosecond }

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.opened = false
	return nil
}

// latchInputs refreshes the input image of one drive from its state.
func (s *Simulator) latchInputs(slave int) {
	d := &s.drives[slave]
	in := ecat.DriveInputs{
		Statusword:   d.statusword(),
		Mode:         d.mode,
		Position:     d.position,
		Velocity:     d.velocity,
		Torque:       d.torque,
		ErrorCode:    d.faultCode,
		Temperatures: [ecat.TemperatureChannels]int16{38, 41, 36},
	}
	in.Put(s.inImg[slave][:])
}

// InjectFault trips the drive into FAULT with the given CiA-402 error code.
func (s *Simulator) InjectFault(slave int, code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &s.drives[slave]
	d.state = cia402.Fault
	d.faultCode = code
	d.velocity = 0
	d.torque = 0
}

// InjectNotReady makes the next n Receive calls return ErrNotReady.
func (s *Simulator) InjectNotReady(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notReady = n
}

// FailReceive makes every subsequent Receive fail hard with err.
func (s *Simulator) FailReceive(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveErr = err
}

// ControlwordHistory returns the controlwords the drive has received,
// oldest first, with consecutive repeats collapsed. A word can appear more
// than once if the drive received other words in between.
func (s *Simulator) ControlwordHistory(slave int) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, len(s.drives[slave].history))
	copy(out, s.drives[slave].history)
	return out
}

// Opened reports whether the bus is currently claimed.
func (s *Simulator) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Drive returns a snapshot of the drive's externally visible state, for
// test assertions.
func (s *Simulator) Drive(slave int) (state cia402.State, position, velocity int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &s.drives[slave]
	return d.state, d.position, d.velocity
}

func (d *drive) statusword() uint16 {
	var sw uint16
	switch d.state {
	case cia402.NotReadyToSwitchOn:
		sw = 0x0000
	case cia402.SwitchOnDisabled:
		sw = 0x0040
	case cia402.ReadyToSwitchOn:
		sw = 0x0021
	case cia402.SwitchedOn:
		sw = 0x0023
	case cia402.OperationEnabled:
		sw = 0x0027
	case cia402.QuickStopActive:
		sw = 0x0007
	case cia402.FaultReactionActive:
		sw = 0x000F
	case cia402.Fault:
		sw = 0x0008
	}
	if d.state != cia402.SwitchOnDisabled && d.state != cia402.NotReadyToSwitchOn {
		sw |= cia402.StatusVoltageEnabled
	}
	if d.setpointAck {
		sw |= cia402.StatusSetpointAck
	}
	if d.state == cia402.OperationEnabled && d.atTarget() {
		sw |= cia402.StatusTargetReached
	}
	return sw
}

func (d *drive) atTarget() bool {
	switch cia402.Mode(d.mode) {
	case cia402.ModeProfilePosition:
		diff := d.position - d.dmdPos
		return diff >= -2 && diff <= 2
	case cia402.ModeProfileVelocity:
		return d.velocity == d.tgtVel
	}
	return false
}

// apply processes one cycle's outputs: CiA-402 transitions, the setpoint
// handshake and one integration step.
func (d *drive) apply(out ecat.DriveOutputs, opts Options) {
	cw := out.Controlword
	rising := cw & ^d.lastCW

	// Fault reset is edge sensitive and dominates everything else.
	if d.state == cia402.Fault && rising&cia402.ControlFaultReset != 0 {
		d.state = cia402.SwitchOnDisabled
		d.faultCode = 0
	}

	if d.state != cia402.Fault && d.state != cia402.FaultReactionActive {
		d.mode = out.Mode
		d.transition(cw)

		if d.state == cia402.OperationEnabled {
			switch cia402.Mode(d.mode) {
			case cia402.ModeProfilePosition:
				if rising&cia402.ControlNewSetpoint != 0 {
					d.dmdPos = out.TargetPosition
					d.setpointAck = true
				}
				if cw&cia402.ControlNewSetpoint == 0 {
					d.setpointAck = false
				}
			case cia402.ModeProfileVelocity:
				d.tgtVel = out.TargetVelocity
				d.setpointAck = false
			}
			d.integrate(opts)
		} else {
			d.velocity = 0
			d.torque = 0
			d.setpointAck = false
		}
	}

	d.lastCW = cw
	if len(d.history) == 0 || d.history[len(d.history)-1] != cw {
		d.history = append(d.history, cw)
	}
}

// transition walks the power state machine for the command encoded in the
// controlword.
func (d *drive) transition(cw uint16) {
	switch {
	case cw&0x8F == cia402.ControlEnableOperation&0x8F:
		switch d.state {
		case cia402.SwitchedOn, cia402.QuickStopActive:
			d.state = cia402.OperationEnabled
		}
	case cw&0x8F == cia402.ControlSwitchOn&0x8F:
		switch d.state {
		case cia402.ReadyToSwitchOn, cia402.OperationEnabled:
			d.state = cia402.SwitchedOn
		}
	case cw&0x87 == cia402.ControlShutdown&0x87:
		switch d.state {
		case cia402.SwitchOnDisabled, cia402.SwitchedOn,
			cia402.OperationEnabled, cia402.QuickStopActive:
			d.state = cia402.ReadyToSwitchOn
		}
	case cw&0x82 == 0x00:
		// Disable voltage.
		if d.state != cia402.NotReadyToSwitchOn {
			d.state = cia402.SwitchOnDisabled
		}
	case cw&0x86 == cia402.ControlQuickStop&0x86:
		if d.state == cia402.OperationEnabled {
			d.state = cia402.QuickStopActive
		}
	}
}

// integrate advances position and velocity by one cycle.
func (d *drive) integrate(opts Options) {
	dt := opts.Period.Seconds()
	switch cia402.Mode(d.mode) {
	case cia402.ModeProfilePosition:
		diff := int64(d.dmdPos) - int64(d.position)
		step := int64(float64(opts.MaxVelocity) * dt)
		switch {
		case diff > step:
			d.position += int32(step)
			d.velocity = opts.MaxVelocity
		case diff < -step:
			d.position -= int32(step)
			d.velocity = -opts.MaxVelocity
		default:
			d.position = d.dmdPos
			d.velocity = 0
		}
	case cia402.ModeProfileVelocity:
		d.velocity = clamp(d.tgtVel, opts.MaxVelocity)
		d.position += int32(float64(d.velocity) * dt)
	default:
		d.velocity = 0
	}
	if d.velocity != 0 {
		d.torque = 50
	} else {
		d.torque = 5
	}
}

func clamp(v, limit int32) int32 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
