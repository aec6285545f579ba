package cia402

import "testing"

func TestDecodeState(t *testing.T) {
	for _, test := range []struct {
		statusword uint16
		want       State
	}{
		{0x0000, NotReadyToSwitchOn},
		{0x0040, SwitchOnDisabled},
		{0x0250, SwitchOnDisabled},
		{0x0021, ReadyToSwitchOn},
		{0x0231, ReadyToSwitchOn},
		{0x0023, SwitchedOn},
		{0x0233, SwitchedOn},
		{0x0027, OperationEnabled},
		{0x1637, OperationEnabled},
		{0x0007, QuickStopActive},
		{0x000F, FaultReactionActive},
		{0x0008, Fault},
		{0x0018, Fault},
		{0x0088, Fault},
	} {
		if got := DecodeState(test.statusword); got != test.want {
			t.Errorf("DecodeState(%#04x) = %v, want %v", test.statusword, got, test.want)
		}
	}
}

func TestStatusBits(t *testing.T) {
	if !Warning(0x00A7) {
		t.Error("Warning(0x00A7) = false, want true")
	}
	if Warning(0x0027) {
		t.Error("Warning(0x0027) = true, want false")
	}
	if !SetpointAcknowledged(0x1027) {
		t.Error("SetpointAcknowledged(0x1027) = false, want true")
	}
	if !TargetReached(0x0427) {
		t.Error("TargetReached(0x0427) = false, want true")
	}
}
