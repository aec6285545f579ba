package cia402

import "testing"

// statuswords with the canonical bit patterns for each state.
const (
	swDisabled = 0x0040
	swReady    = 0x0021
	swOn       = 0x0023
	swEnabled  = 0x0027
	swQuick    = 0x0007
	swFault    = 0x0008
)

func TestEnableSequence(t *testing.T) {
	var s Sequencer
	for i, step := range []struct {
		statusword uint16
		want       uint16
	}{
		{swDisabled, ControlShutdown},
		{swReady, ControlSwitchOn},
		{swOn, ControlEnableOperation},
		{swEnabled, ControlEnableOperation},
		{swEnabled, ControlEnableOperation},
	} {
		if got := s.Step(step.statusword, TargetOperationEnabled); got != step.want {
			t.Fatalf("step %d: Step(%#04x) = %#04x, want %#04x", i, step.statusword, got, step.want)
		}
	}
}

func TestIdleSequence(t *testing.T) {
	var s Sequencer
	for i, step := range []struct {
		statusword uint16
		want       uint16
	}{
		{swEnabled, ControlSwitchOn},
		{swOn, ControlSwitchOn},
		{swOn, ControlSwitchOn},
	} {
		if got := s.Step(step.statusword, TargetSwitchedOn); got != step.want {
			t.Fatalf("step %d: Step(%#04x) = %#04x, want %#04x", i, step.statusword, got, step.want)
		}
	}
}

func TestQuickStopRecovery(t *testing.T) {
	var s Sequencer
	if got := s.Step(swQuick, TargetOperationEnabled); got != ControlShutdown {
		t.Fatalf("quick stop: got %#04x, want %#04x", got, ControlShutdown)
	}
	if got := s.Step(swReady, TargetOperationEnabled); got != ControlSwitchOn {
		t.Fatalf("after quick stop: got %#04x, want %#04x", got, ControlSwitchOn)
	}
}

func TestFaultResetEdge(t *testing.T) {
	var s Sequencer

	// Without an armed reset a faulted drive is held at shutdown.
	if got := s.Step(swFault, TargetSwitchedOn); got != ControlShutdown {
		t.Fatalf("unarmed fault: got %#04x, want %#04x", got, ControlShutdown)
	}

	s.ArmFaultReset()
	if got := s.Step(swFault, TargetSwitchedOn); got != ControlFaultReset {
		t.Fatalf("armed fault: got %#04x, want %#04x", got, ControlFaultReset)
	}
	// The reset bit must fall on the following cycle even if the drive
	// still reports the fault.
	if got := s.Step(swFault, TargetSwitchedOn); got != ControlShutdown {
		t.Fatalf("after edge: got %#04x, want %#04x", got, ControlShutdown)
	}
	// And it must not rise again without re-arming.
	if got := s.Step(swFault, TargetSwitchedOn); got != ControlShutdown {
		t.Fatalf("no re-arm: got %#04x, want %#04x", got, ControlShutdown)
	}

	// Once the drive clears the fault the normal sequence resumes.
	if got := s.Step(swDisabled, TargetSwitchedOn); got != ControlShutdown {
		t.Fatalf("cleared fault: got %#04x, want %#04x", got, ControlShutdown)
	}
	if got := s.Step(swReady, TargetSwitchedOn); got != ControlSwitchOn {
		t.Fatalf("cleared fault: got %#04x, want %#04x", got, ControlSwitchOn)
	}
}

func TestResetDisarmedWhenHealthy(t *testing.T) {
	var s Sequencer
	s.ArmFaultReset()
	// A reset armed while the drive is healthy must not fire on a later
	// fault from a stale request.
	s.Step(swOn, TargetSwitchedOn)
	if got := s.Step(swFault, TargetSwitchedOn); got != ControlShutdown {
		t.Fatalf("stale arm fired: got %#04x, want %#04x", got, ControlShutdown)
	}
}
