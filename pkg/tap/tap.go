// Package tap models the IEEE 1149.1 TAP controller: the state graph that
// both the probe's JTAG codec and the simulated target chain walk.
package tap

import (
	"fmt"
)

// State represents one of the 16 defined IEEE 1149.1 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR

	numStates
)

var stateNames = [numStates]string{
	StateTestLogicReset: "TestLogicReset",
	StateRunTestIdle:    "RunTestIdle",
	StateSelectDRScan:   "SelectDRScan",
	StateCaptureDR:      "CaptureDR",
	StateShiftDR:        "ShiftDR",
	StateExit1DR:        "Exit1DR",
	StatePauseDR:        "PauseDR",
	StateExit2DR:        "Exit2DR",
	StateUpdateDR:       "UpdateDR",
	StateSelectIRScan:   "SelectIRScan",
	StateCaptureIR:      "CaptureIR",
	StateShiftIR:        "ShiftIR",
	StateExit1IR:        "Exit1IR",
	StatePauseIR:        "PauseIR",
	StateExit2IR:        "Exit2IR",
	StateUpdateIR:       "UpdateIR",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Shifting reports whether TDO carries register data in this state.
func (s State) Shifting() bool {
	return s == StateShiftDR || s == StateShiftIR
}

// edges[s] holds the successor for TMS=0 and TMS=1.
var edges = [numStates][2]State{
	StateTestLogicReset: {StateRunTestIdle, StateTestLogicReset},
	StateRunTestIdle:    {StateRunTestIdle, StateSelectDRScan},
	StateSelectDRScan:   {StateCaptureDR, StateSelectIRScan},
	StateCaptureDR:      {StateShiftDR, StateExit1DR},
	StateShiftDR:        {StateShiftDR, StateExit1DR},
	StateExit1DR:        {StatePauseDR, StateUpdateDR},
	StatePauseDR:        {StatePauseDR, StateExit2DR},
	StateExit2DR:        {StateShiftDR, StateUpdateDR},
	StateUpdateDR:       {StateRunTestIdle, StateSelectDRScan},
	StateSelectIRScan:   {StateCaptureIR, StateTestLogicReset},
	StateCaptureIR:      {StateShiftIR, StateExit1IR},
	StateShiftIR:        {StateShiftIR, StateExit1IR},
	StateExit1IR:        {StatePauseIR, StateUpdateIR},
	StatePauseIR:        {StatePauseIR, StateExit2IR},
	StateExit2IR:        {StateShiftIR, StateUpdateIR},
	StateUpdateIR:       {StateRunTestIdle, StateSelectDRScan},
}

// NextState returns the state reached after one TCK rising edge with the
// given TMS level. It panics on a state outside the graph.
func NextState(current State, tms bool) State {
	if current >= numStates {
		panic(fmt.Sprintf("tap: unhandled state %d", current))
	}
	if tms {
		return edges[current][1]
	}
	return edges[current][0]
}

// Path is a TMS pattern packed LSB first, the form the bit-bang driver
// clocks out directly.
type Path struct {
	TMS uint64
	Len int
}

// Bit returns the TMS level of cycle i.
func (p Path) Bit(i int) bool { return p.TMS>>uint(i)&1 != 0 }

// ResetPath is five TMS=1 cycles, which reach Test-Logic-Reset from any state.
var ResetPath = Path{TMS: 0x1F, Len: 5}

// Walk applies p from start and returns the final state.
func Walk(start State, p Path) State {
	s := start
	for i := 0; i < p.Len; i++ {
		s = NextState(s, p.Bit(i))
	}
	return s
}

// PathTo finds the shortest TMS pattern from one state to another by a
// breadth-first search over the graph.
func PathTo(from, to State) (Path, error) {
	if from >= numStates {
		return Path{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if to >= numStates {
		return Path{}, fmt.Errorf("tap: invalid target state %d", to)
	}

	var (
		seen  [numStates]bool
		via   [numStates]Path
		queue = []State{from}
	)
	seen[from] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return via[cur], nil
		}
		for bit := 0; bit < 2; bit++ {
			next := edges[cur][bit]
			if seen[next] {
				continue
			}
			seen[next] = true
			p := via[cur]
			p.TMS |= uint64(bit) << uint(p.Len)
			p.Len++
			via[next] = p
			queue = append(queue, next)
		}
	}
	return Path{}, fmt.Errorf("tap: no path from %s to %s", from, to)
}

// MustPathTo is PathTo for state pairs known at compile time.
func MustPathTo(from, to State) Path {
	p, err := PathTo(from, to)
	if err != nil {
		panic(err)
	}
	return p
}

// Tracker follows the TAP state of a chain as TCK cycles are applied.
type Tracker struct {
	state State
}

// NewTracker creates a tracker in Test-Logic-Reset, the power-on state.
func NewTracker() *Tracker {
	return &Tracker{state: StateTestLogicReset}
}

// State reports the tracked state.
func (t *Tracker) State() State {
	return t.state
}

// Clock advances one TCK cycle and returns the new state.
func (t *Tracker) Clock(tms bool) State {
	t.state = NextState(t.state, tms)
	return t.state
}

// Apply advances through every cycle of p.
func (t *Tracker) Apply(p Path) State {
	t.state = Walk(t.state, p)
	return t.state
}

// Move returns the path to target and records the arrival.
func (t *Tracker) Move(target State) (Path, error) {
	p, err := PathTo(t.state, target)
	if err != nil {
		return Path{}, err
	}
	t.state = target
	return p, nil
}
