package control

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/pedestal_interface/cia402"
	"github.com/w1xm/pedestal_interface/ecat"
)

// axisRuntime is the per-axis state owned exclusively by the cycle thread.
type axisRuntime struct {
	seq    cia402.Sequencer
	target cia402.Target

	lastSeq uint64 // sequence number of the last consumed intent

	mode   cia402.Mode
	tgtPos int32
	tgtVel int32
	dmdPos int32
	dmdVel int32

	// commitPos is set when a target position awaits the new-setpoint
	// handshake; setpointHigh while the bit is held waiting for the ack.
	commitPos    bool
	setpointHigh bool

	faulted bool
	lastCW  uint16

	moveMode   MoveMode
	paramsMode ParamsMode
	ppr        uint32
}

// engine runs the cycle loop. It is the sole mutator of axis runtime state
// and the sole writer of the outbox.
type engine struct {
	log    *logrus.Entry
	bus    ecat.Master
	period time.Duration

	busLossThreshold int
	cpu              int
	rtPriority       int

	inboxes *[NumAxes]inbox
	outbox  *outbox
	timing  *timingMonitor

	axes [NumAxes]axisRuntime

	stop      <-chan struct{}
	firstOnce sync.Once
	first     chan struct{}

	fatal bool
}

func (e *engine) signalFirst() {
	e.firstOnce.Do(func() { close(e.first) })
}

// run is the cycle thread body. It owns the bus between the lifecycle
// controller's activation and shutdown.
func (e *engine) run(done chan<- struct{}) {
	defer close(done)
	defer e.signalFirst()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	setupRT(e.cpu, e.rtPriority, e.log)

	var lastIn [NumAxes]ecat.DriveInputs
	haveIn := false
	consecMissed := 0

	deadline := time.Now().Add(e.period)
	for {
		time.Sleep(time.Until(deadline))
		wake := time.Now()
		e.timing.observeWake(wake, deadline)
		deadline = deadline.Add(e.period)
		for !deadline.After(wake) {
			// Overran one or more whole periods; realign instead
			// of bursting to catch up.
			deadline = deadline.Add(e.period)
		}

		select {
		case <-e.stop:
			e.shutdownDrives()
			return
		default:
		}

		if err := e.bus.Receive(); err != nil {
			if errors.Is(err, ecat.ErrNotReady) {
				e.timing.missedCycle()
				consecMissed++
				if consecMissed > e.busLossThreshold {
					e.enterFatal(&lastIn, haveIn, "bus receive not ready for %d consecutive cycles", consecMissed)
					return
				}
				continue
			}
			e.enterFatal(&lastIn, haveIn, "bus receive: %v", err)
			return
		}
		consecMissed = 0
		refTime := time.Now()

		var in [NumAxes]ecat.DriveInputs
		for a := Axis(0); a < NumAxes; a++ {
			in[a] = ecat.DecodeInputs(e.bus.Inputs(int(a)))
		}

		for a := Axis(0); a < NumAxes; a++ {
			e.consumeIntent(a, &in[a])
			out := e.stepAxis(a, &in[a])
			out.Put(e.bus.Outputs(int(a)))
		}

		if err := e.bus.Send(); err != nil {
			e.enterFatal(&in, true, "bus send: %v", err)
			return
		}
		sendDone := time.Now()

		lastIn = in
		haveIn = true
		e.outbox.publish(e.compose(&in, refTime, sendDone))
		e.signalFirst()
		e.timing.observeExec(wake, sendDone)
	}
}

// consumeIntent applies a freshly posted intent, if any. A consumed sequence
// number is never acted on again; stale RUN intents on a faulted axis are
// consumed and dropped.
func (e *engine) consumeIntent(a Axis, in *ecat.DriveInputs) {
	ax := &e.axes[a]
	intent, ok := e.inboxes[a].peek()
	if !ok || intent.Seq == ax.lastSeq {
		return
	}
	ax.lastSeq = intent.Seq

	switch intent.Kind {
	case IntentRunPoint:
		if ax.faulted {
			e.log.WithField("axis", a).Warn("ignoring RUN_POINT on faulted axis")
			return
		}
		ax.mode = cia402.ModeProfilePosition
		ax.tgtPos = intent.TargetPosition
		ax.commitPos = true
		ax.target = cia402.TargetOperationEnabled
		if ax.paramsMode == ParamsAutomatic {
			dist := CountsToDegrees(intent.TargetPosition-in.Position, ax.ppr)
			ax.moveMode = moveModeFor(dist)
		}
		e.timing.intentConsumed()

	case IntentRunScan:
		if intent.TargetVelocity == 0 {
			e.timing.intentRejected()
			return
		}
		if ax.faulted {
			e.log.WithField("axis", a).Warn("ignoring RUN_SCAN on faulted axis")
			return
		}
		ax.mode = cia402.ModeProfileVelocity
		ax.tgtVel = intent.TargetVelocity
		ax.target = cia402.TargetOperationEnabled
		if ax.paramsMode == ParamsAutomatic {
			ax.moveMode = moveModeScan
		}
		e.timing.intentConsumed()

	case IntentIdle:
		ax.target = cia402.TargetSwitchedOn
		ax.commitPos = false
		ax.setpointHigh = false
		e.timing.intentConsumed()

	case IntentResetFault:
		ax.seq.ArmFaultReset()
		ax.target = cia402.TargetSwitchedOn
		ax.commitPos = false
		ax.setpointHigh = false
		e.timing.intentConsumed()
	}
}

// stepAxis advances the CiA-402 sequencer and fills the cycle's outputs for
// one axis, including the profile-position new-setpoint handshake.
func (e *engine) stepAxis(a Axis, in *ecat.DriveInputs) ecat.DriveOutputs {
	ax := &e.axes[a]
	state := cia402.DecodeState(in.Statusword)

	wasFaulted := ax.faulted
	ax.faulted = state == cia402.Fault || state == cia402.FaultReactionActive
	if ax.faulted && !wasFaulted {
		e.log.WithFields(logrus.Fields{
			"axis":       a,
			"error_code": in.ErrorCode,
		}).Error("drive fault")
		// Stop seeking operation until the operator resets the fault.
		ax.target = cia402.TargetSwitchedOn
		ax.commitPos = false
		ax.setpointHigh = false
	}

	cw := ax.seq.Step(in.Statusword, ax.target)

	if ax.mode == cia402.ModeProfilePosition && state == cia402.OperationEnabled &&
		cia402.Mode(in.Mode) == cia402.ModeProfilePosition {
		if ax.setpointHigh {
			if cia402.SetpointAcknowledged(in.Statusword) {
				// Drive latched the target; drop the bit.
				ax.setpointHigh = false
				ax.commitPos = false
				ax.dmdPos = ax.tgtPos
			} else {
				cw |= cia402.ControlNewSetpoint
			}
		} else if ax.commitPos && !cia402.SetpointAcknowledged(in.Statusword) {
			cw |= cia402.ControlNewSetpoint
			ax.setpointHigh = true
		}
	}
	if ax.mode == cia402.ModeProfileVelocity && state == cia402.OperationEnabled &&
		cia402.Mode(in.Mode) == cia402.ModeProfileVelocity {
		ax.dmdVel = ax.tgtVel
	}

	ax.lastCW = cw
	return ecat.DriveOutputs{
		Controlword:    cw,
		Mode:           int8(ax.mode),
		TargetPosition: ax.tgtPos,
		TargetVelocity: ax.tgtVel,
	}
}

// compose builds the snapshot for the cycle just completed.
func (e *engine) compose(in *[NumAxes]ecat.DriveInputs, refTime, appTime time.Time) SystemStatus {
	var s SystemStatus
	for a := Axis(0); a < NumAxes; a++ {
		ax := &e.axes[a]
		di := &in[a]
		st := &s.Axes[a]

		st.CurPos = di.Position
		st.CurVel = di.Velocity
		st.TgtPos = ax.tgtPos
		st.TgtVel = ax.tgtVel
		st.DmdPos = ax.dmdPos
		st.DmdVel = ax.dmdVel

		st.CurPosDeg = CountsToDegrees(di.Position, ax.ppr)
		st.CurVelDeg = CountsToDegrees(di.Velocity, ax.ppr)
		st.TgtPosDeg = CountsToDegrees(ax.tgtPos, ax.ppr)
		st.TgtVelDeg = CountsToDegrees(ax.tgtVel, ax.ppr)
		st.DmdPosDeg = CountsToDegrees(ax.dmdPos, ax.ppr)
		st.DmdVelDeg = CountsToDegrees(ax.dmdVel, ax.ppr)

		st.CurTorque = int32(di.Torque)
		st.Temperatures = di.Temperatures
		st.Statusword = di.Statusword
		st.Controlword = ax.lastCW
		st.State = axisStateOf(di.Statusword)
		st.ErrorCode = di.ErrorCode
		st.Mode = OperationMode(di.Mode)
		st.MoveMode = ax.moveMode
		st.ParamsMode = ax.paramsMode
	}
	if e.fatal {
		s.State = SystemFatalError
	} else {
		s.State = aggregateState(&s.Axes)
	}
	s.RefTime = uint64(refTime.UnixNano())
	s.AppTime = uint64(appTime.UnixNano())
	s.DCSkew = uint32(e.bus.DCSkew())
	return s
}

// shutdownDrives is the final iteration: command both axes to shutdown,
// send once, leave.
func (e *engine) shutdownDrives() {
	for a := Axis(0); a < NumAxes; a++ {
		ax := &e.axes[a]
		ax.lastCW = cia402.ControlShutdown
		out := ecat.DriveOutputs{
			Controlword:    cia402.ControlShutdown,
			Mode:           int8(ax.mode),
			TargetPosition: ax.tgtPos,
			TargetVelocity: 0,
		}
		out.Put(e.bus.Outputs(int(a)))
	}
	if err := e.bus.Send(); err != nil {
		e.log.WithError(err).Warn("final send failed")
	}
	e.log.Info("cycle thread stopped")
}

// enterFatal marks the system FATAL_ERROR, publishes a terminal snapshot,
// commands the drives to shutdown and exits the loop.
func (e *engine) enterFatal(lastIn *[NumAxes]ecat.DriveInputs, haveIn bool, format string, args ...interface{}) {
	e.log.Errorf(format, args...)
	e.fatal = true
	if haveIn {
		now := time.Now()
		e.outbox.publish(e.compose(lastIn, now, now))
	} else {
		e.outbox.publish(SystemStatus{
			State:   SystemFatalError,
			AppTime: uint64(time.Now().UnixNano()),
		})
	}
	e.signalFirst()
	e.shutdownDrives()
}
