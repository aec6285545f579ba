// Package control implements the cyclic real-time controller for the
// dual-axis antenna pedestal: CiA-402 bring-up of both servo amplifiers,
// translation of operator intents into per-cycle process data, and
// lock-free publication of coherent status snapshots.
package control

import (
	"fmt"

	"github.com/w1xm/pedestal_interface/cia402"
	"github.com/w1xm/pedestal_interface/ecat"
)

// Axis identifies one pedestal axis. The numeric values are the slave
// positions on the bus and are used as array indices throughout.
type Axis int

const (
	Azimuth   Axis = ecat.SlaveAzimuth
	Elevation Axis = ecat.SlaveElevation
	NumAxes        = ecat.SlaveCount
)

func (a Axis) String() string {
	switch a {
	case Azimuth:
		return "azimuth"
	case Elevation:
		return "elevation"
	}
	return fmt.Sprintf("axis(%d)", int(a))
}

// AxisState is the observable per-axis state, derived from the CiA-402
// statusword of the same cycle.
type AxisState int32

const (
	// AxisDisabled: drive power stage off (switch on disabled).
	AxisDisabled AxisState = iota
	// AxisInit: walking the switch-on sequence.
	AxisInit
	// AxisIdle: motor powered, operation disabled (switched on).
	AxisIdle
	// AxisEnabled: operation enabled, executing or ready to execute moves.
	AxisEnabled
	// AxisQuickStop: quick stop function active.
	AxisQuickStop
	// AxisWarning: drive signals a warning; operation continues.
	AxisWarning
	// AxisError: drive fault. Cleared only by an explicit fault reset.
	AxisError
)

func (s AxisState) String() string {
	switch s {
	case AxisDisabled:
		return "DISABLED"
	case AxisInit:
		return "INIT"
	case AxisIdle:
		return "IDLE"
	case AxisEnabled:
		return "ENABLED"
	case AxisQuickStop:
		return "QUICK_STOP"
	case AxisWarning:
		return "WARNING"
	case AxisError:
		return "ERROR"
	}
	return fmt.Sprintf("STATE(%d)", int32(s))
}

// axisStateOf maps a statusword to the observable axis state. The fault bit
// dominates, then the warning bit, then the power-state decoding.
func axisStateOf(statusword uint16) AxisState {
	switch cia402.DecodeState(statusword) {
	case cia402.Fault, cia402.FaultReactionActive:
		return AxisError
	}
	if cia402.Warning(statusword) {
		return AxisWarning
	}
	switch cia402.DecodeState(statusword) {
	case cia402.SwitchOnDisabled:
		return AxisDisabled
	case cia402.NotReadyToSwitchOn, cia402.ReadyToSwitchOn:
		return AxisInit
	case cia402.SwitchedOn:
		return AxisIdle
	case cia402.OperationEnabled:
		return AxisEnabled
	case cia402.QuickStopActive:
		return AxisQuickStop
	}
	return AxisInit
}

// OperationMode is the active move mode of an axis, mirroring the CiA-402
// mode-of-operation display.
type OperationMode int16

const (
	ModeNotSet OperationMode = 0
	ModePoint  OperationMode = 1
	ModeScan   OperationMode = 3
)

func (m OperationMode) String() string {
	switch m {
	case ModeNotSet:
		return "NOT_SET"
	case ModePoint:
		return "POINT"
	case ModeScan:
		return "SCAN"
	}
	return fmt.Sprintf("MODE(%d)", int16(m))
}

// ParamsMode selects whether the controller picks a move parameter set per
// commanded move (AUTOMATIC) or leaves drive parameters untouched (MANUAL).
type ParamsMode int16

const (
	ParamsAutomatic ParamsMode = iota
	ParamsManual
)

func (m ParamsMode) String() string {
	if m == ParamsManual {
		return "MANUAL"
	}
	return "AUTOMATIC"
}

// MoveMode identifies the drive parameter set active for the current move.
// Point moves map the angular distance onto a mode; scans always use the
// widest set.
type MoveMode uint16

// IntentKind is the kind of operator intent for one axis.
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentRunPoint
	IntentRunScan
	IntentIdle
	IntentResetFault
)

func (k IntentKind) String() string {
	switch k {
	case IntentNone:
		return "NONE"
	case IntentRunPoint:
		return "RUN_POINT"
	case IntentRunScan:
		return "RUN_SCAN"
	case IntentIdle:
		return "IDLE"
	case IntentResetFault:
		return "RESET_FAULT"
	}
	return fmt.Sprintf("INTENT(%d)", int(k))
}

// Intent is one operator command for one axis. A newer intent supersedes an
// unconsumed older one; the sequence number lets the cycle engine detect
// fresh intents and never consume one twice.
type Intent struct {
	Kind           IntentKind
	TargetPosition int32 // encoder counts, RUN_POINT
	TargetVelocity int32 // encoder counts/s, RUN_SCAN
	Seq            uint64
}

// AxisStatus is the per-axis slice of a snapshot. All fields are from the
// same cycle.
type AxisStatus struct {
	// Engineering units.
	TgtPosDeg float64
	CurPosDeg float64
	DmdPosDeg float64
	TgtVelDeg float64
	CurVelDeg float64
	DmdVelDeg float64

	// Raw encoder counts.
	CurPos int32
	DmdPos int32
	TgtPos int32
	CurVel int32
	DmdVel int32
	TgtVel int32

	// CurTorque is in units of 0.1 % of the rated motor torque.
	CurTorque int32

	State     AxisState
	ErrorCode uint16

	Temperatures [ecat.TemperatureChannels]int16

	Controlword uint16
	Statusword  uint16

	Mode       OperationMode
	MoveMode   MoveMode
	ParamsMode ParamsMode
}

// SystemState is the aggregate state over both axes.
type SystemState int32

const (
	SystemOff SystemState = iota - 1
	SystemInit
	SystemReady
	SystemProcessing
	SystemWarning
	SystemError
	SystemFatalError
)

func (s SystemState) String() string {
	switch s {
	case SystemOff:
		return "OFF"
	case SystemInit:
		return "INIT"
	case SystemReady:
		return "READY"
	case SystemProcessing:
		return "PROCESSING"
	case SystemWarning:
		return "WARNING"
	case SystemError:
		return "ERROR"
	case SystemFatalError:
		return "FATAL_ERROR"
	}
	return fmt.Sprintf("SYSTEM(%d)", int32(s))
}

// aggregateState folds the per-axis states into the system state.
// PROCESSING wins while any axis is running; a fault only surfaces once no
// axis is still transitioning, so a bring-up in progress reports INIT.
func aggregateState(axes *[NumAxes]AxisStatus) SystemState {
	var anyError, anyWarning, anyEnabled, anyTransition bool
	for i := range axes {
		switch axes[i].State {
		case AxisError:
			anyError = true
		case AxisWarning:
			anyWarning = true
		case AxisEnabled:
			anyEnabled = true
		case AxisInit, AxisQuickStop:
			anyTransition = true
		}
	}
	switch {
	case anyEnabled:
		return SystemProcessing
	case anyError && !anyTransition:
		return SystemError
	case anyWarning:
		return SystemWarning
	case anyTransition:
		return SystemInit
	default:
		return SystemReady
	}
}

// SystemStatus is one published snapshot. Both axes' fields come from the
// same cycle; publication is atomic.
type SystemStatus struct {
	Axes  [NumAxes]AxisStatus
	State SystemState
	// RefTime is the host time the cycle's process data was latched,
	// nanoseconds since the epoch.
	RefTime uint64
	// AppTime is the host time the snapshot was composed.
	AppTime uint64
	// DCSkew is the upper-bound estimate of host-to-drive clock offset,
	// nanoseconds.
	DCSkew uint32
}

// AxisInfo is static per-axis information read once during init.
type AxisInfo struct {
	EncoderPulsesPerRev uint32
	DevName             string
	HWVersion           string
	SWVersion           string
}

// SystemInfo groups the static information for both axes.
type SystemInfo struct {
	Axes [NumAxes]AxisInfo
}

// CountsToDegrees converts encoder counts to degrees for the given encoder
// resolution. The resolution must be positive; init refuses drives that
// report zero.
func CountsToDegrees(counts int32, pulsesPerRev uint32) float64 {
	return float64(counts) * 360.0 / float64(pulsesPerRev)
}

// DegreesToCounts converts degrees to the nearest encoder count.
func DegreesToCounts(deg float64, pulsesPerRev uint32) int32 {
	c := deg * float64(pulsesPerRev) / 360.0
	if c < 0 {
		return int32(c - 0.5)
	}
	return int32(c + 0.5)
}

// moveModeFor picks the drive parameter set for a point move covering the
// given angular distance. Scans use the widest set.
func moveModeFor(distanceDeg float64) MoveMode {
	if distanceDeg < 0 {
		distanceDeg = -distanceDeg
	}
	switch {
	case distanceDeg <= 5:
		return 0
	case distanceDeg <= 20:
		return 1
	case distanceDeg <= 90:
		return 2
	default:
		return 3
	}
}

// moveModeScan is the parameter set used for velocity moves.
const moveModeScan MoveMode = 3
