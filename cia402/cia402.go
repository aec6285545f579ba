// Package cia402 implements the CiA-402 drive profile state machine:
// statusword decoding, controlword sequencing and the operation modes used
// by the pedestal drives.
package cia402

import "fmt"

// State is a CiA-402 power state decoded from the statusword.
type State int

const (
	NotReadyToSwitchOn State = iota
	SwitchOnDisabled
	ReadyToSwitchOn
	SwitchedOn
	OperationEnabled
	QuickStopActive
	FaultReactionActive
	Fault
)

func (s State) String() string {
	switch s {
	case NotReadyToSwitchOn:
		return "NOT_READY_TO_SWITCH_ON"
	case SwitchOnDisabled:
		return "SWITCH_ON_DISABLED"
	case ReadyToSwitchOn:
		return "READY_TO_SWITCH_ON"
	case SwitchedOn:
		return "SWITCHED_ON"
	case OperationEnabled:
		return "OPERATION_ENABLED"
	case QuickStopActive:
		return "QUICK_STOP_ACTIVE"
	case FaultReactionActive:
		return "FAULT_REACTION_ACTIVE"
	case Fault:
		return "FAULT"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Statusword bits outside the state decoding.
const (
	StatusVoltageEnabled uint16 = 1 << 4
	StatusWarning        uint16 = 1 << 7
	StatusRemote         uint16 = 1 << 9
	StatusTargetReached  uint16 = 1 << 10
	StatusInternalLimit  uint16 = 1 << 11
	// StatusSetpointAck acknowledges the new-setpoint bit in profile
	// position mode.
	StatusSetpointAck uint16 = 1 << 12
)

// Controlword command patterns. FaultReset must be written as a rising edge.
const (
	ControlShutdown        uint16 = 0x0006
	ControlSwitchOn        uint16 = 0x0007
	ControlDisableVoltage  uint16 = 0x0000
	ControlQuickStop       uint16 = 0x0002
	ControlEnableOperation uint16 = 0x000F
	ControlFaultReset      uint16 = 0x0080

	// ControlNewSetpoint is OR-ed into EnableOperation to commit a target
	// position in profile position mode.
	ControlNewSetpoint uint16 = 1 << 4
	// ControlChangeSetImmediately makes a committed target preempt the
	// one in progress instead of queueing behind it.
	ControlChangeSetImmediately uint16 = 1 << 5
)

// Mode is the CiA-402 mode of operation (object 0x6060/0x6061).
type Mode int8

const (
	ModeNone            Mode = 0
	ModeProfilePosition Mode = 1
	ModeProfileVelocity Mode = 3
	ModeHoming          Mode = 6
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "NONE"
	case ModeProfilePosition:
		return "PROFILE_POSITION"
	case ModeProfileVelocity:
		return "PROFILE_VELOCITY"
	case ModeHoming:
		return "HOMING"
	}
	return fmt.Sprintf("MODE(%d)", int8(m))
}

// DecodeState maps a statusword to the drive power state per the standard
// bit patterns (bits 0-3, 5 and 6).
func DecodeState(statusword uint16) State {
	switch {
	case statusword&0x4F == 0x00:
		return NotReadyToSwitchOn
	case statusword&0x4F == 0x40:
		return SwitchOnDisabled
	case statusword&0x6F == 0x21:
		return ReadyToSwitchOn
	case statusword&0x6F == 0x23:
		return SwitchedOn
	case statusword&0x6F == 0x27:
		return OperationEnabled
	case statusword&0x6F == 0x07:
		return QuickStopActive
	case statusword&0x4F == 0x0F:
		return FaultReactionActive
	case statusword&0x4F == 0x08:
		return Fault
	}
	return NotReadyToSwitchOn
}

// Warning reports whether the statusword carries the warning bit.
func Warning(statusword uint16) bool {
	return statusword&StatusWarning != 0
}

// SetpointAcknowledged reports whether the drive has latched a committed
// target position.
func SetpointAcknowledged(statusword uint16) bool {
	return statusword&StatusSetpointAck != 0
}

// TargetReached reports whether the drive considers the active setpoint
// reached (position window or velocity window, mode dependent).
func TargetReached(statusword uint16) bool {
	return statusword&StatusTargetReached != 0
}
