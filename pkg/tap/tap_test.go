package tap

import "testing"

func TestNextStateTable(t *testing.T) {
	cases := []struct {
		start State
		tms   bool
		end   State
	}{
		{StateTestLogicReset, false, StateRunTestIdle},
		{StateTestLogicReset, true, StateTestLogicReset},
		{StateRunTestIdle, true, StateSelectDRScan},
		{StateSelectDRScan, false, StateCaptureDR},
		{StateShiftDR, true, StateExit1DR},
		{StateExit2DR, false, StateShiftDR},
		{StateSelectIRScan, true, StateTestLogicReset},
		{StateCaptureIR, false, StateShiftIR},
		{StatePauseIR, true, StateExit2IR},
		{StateExit2IR, true, StateUpdateIR},
		{StateUpdateDR, false, StateRunTestIdle},
	}

	for _, tc := range cases {
		if got := NextState(tc.start, tc.tms); got != tc.end {
			t.Fatalf("NextState(%s, %v) = %s, want %s", tc.start, tc.tms, got, tc.end)
		}
	}
}

func TestResetPathFromEveryState(t *testing.T) {
	for s := StateTestLogicReset; s < numStates; s++ {
		if got := Walk(s, ResetPath); got != StateTestLogicReset {
			t.Errorf("Walk(%s, ResetPath) = %s", s, got)
		}
	}
}

func TestPathTo(t *testing.T) {
	tests := []struct {
		from, to State
		want     Path
	}{
		{StateRunTestIdle, StateShiftDR, Path{TMS: 0b001, Len: 3}},
		{StateRunTestIdle, StateShiftIR, Path{TMS: 0b0011, Len: 4}},
		{StateExit1DR, StateRunTestIdle, Path{TMS: 0b01, Len: 2}},
		{StateTestLogicReset, StateRunTestIdle, Path{TMS: 0, Len: 1}},
		{StateShiftDR, StateShiftDR, Path{}},
	}

	for _, tt := range tests {
		got, err := PathTo(tt.from, tt.to)
		if err != nil {
			t.Fatalf("PathTo(%s, %s) error: %v", tt.from, tt.to, err)
		}
		if got != tt.want {
			t.Errorf("PathTo(%s, %s) = %+v, want %+v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPathToReachesEveryState(t *testing.T) {
	for from := StateTestLogicReset; from < numStates; from++ {
		for to := StateTestLogicReset; to < numStates; to++ {
			p, err := PathTo(from, to)
			if err != nil {
				t.Fatalf("PathTo(%s, %s): %v", from, to, err)
			}
			if got := Walk(from, p); got != to {
				t.Fatalf("Walk(%s, %+v) = %s, want %s", from, p, got, to)
			}
		}
	}
}

func TestPathToRejectsInvalidState(t *testing.T) {
	if _, err := PathTo(State(42), StateRunTestIdle); err == nil {
		t.Error("expected error for invalid start state")
	}
	if _, err := PathTo(StateRunTestIdle, State(42)); err == nil {
		t.Error("expected error for invalid target state")
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	if tr.State() != StateTestLogicReset {
		t.Fatalf("initial state = %s", tr.State())
	}
	tr.Clock(false)

	p, err := tr.Move(StateShiftIR)
	if err != nil {
		t.Fatalf("Move returned error: %v", err)
	}
	if p.Len != 4 {
		t.Errorf("Move path length = %d, want 4", p.Len)
	}
	if tr.State() != StateShiftIR {
		t.Fatalf("State() = %s, want %s", tr.State(), StateShiftIR)
	}
	if got := tr.Apply(ResetPath); got != StateTestLogicReset {
		t.Errorf("Apply(ResetPath) = %s", got)
	}
}

func TestStateString(t *testing.T) {
	if StateShiftDR.String() != "ShiftDR" {
		t.Errorf("String() = %q", StateShiftDR.String())
	}
	if State(99).String() != "State(99)" {
		t.Errorf("String() = %q", State(99).String())
	}
	if !StateShiftIR.Shifting() || StateCaptureDR.Shifting() {
		t.Error("Shifting() mismatch")
	}
}
