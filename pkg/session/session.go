// Package session holds the probe's per-connection state: the selected wire
// discipline, clock rate, transfer policy and sticky error counters.
package session

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

var (
	ErrClockZero    = errors.New("session: clock rate must be non-zero")
	ErrClockTooSlow = errors.New("session: clock rate below hardware minimum")
	ErrChainLength  = errors.New("session: invalid JTAG chain description")
)

// State is the session lifecycle position.
type State uint8

const (
	StateIdle State = iota
	StateConnected
	StateQueuing
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateQueuing:
		return "queuing"
	case StateExecuting:
		return "executing"
	}
	return fmt.Sprintf("State(%d)", s)
}

// Discipline is the selected wire protocol.
type Discipline uint8

const (
	DisciplineNone Discipline = iota
	DisciplineSWD
	DisciplineJTAG
)

func (d Discipline) String() string {
	switch d {
	case DisciplineNone:
		return "none"
	case DisciplineSWD:
		return "swd"
	case DisciplineJTAG:
		return "jtag"
	}
	return fmt.Sprintf("Discipline(%d)", d)
}

// ClockLimits describes the clock grid the bit-bang driver can produce:
// Max divided by any whole number, down to Min.
type ClockLimits struct {
	Max physic.Frequency
	Min physic.Frequency
}

// DefaultClockLimits fits a GPIO bit-bang loop on a small host.
var DefaultClockLimits = ClockLimits{
	Max: 10 * physic.MegaHertz,
	Min: 1 * physic.KiloHertz,
}

// TransferConfig is the policy applied to every transfer operation.
type TransferConfig struct {
	IdleCycles   uint8
	WaitRetry    uint16
	MatchRetry   uint16
	AbortOnError bool
}

// SWDConfig is the SWD line configuration.
type SWDConfig struct {
	Turnaround uint8
	DataPhase  bool
}

// Counters are the sticky error counters. They saturate rather than wrap.
type Counters struct {
	ProtocolErrors uint16
	Overruns       uint16
	Faults         uint16
	Timeouts       uint16
}

func bump(c *uint16) {
	if *c != ^uint16(0) {
		*c++
	}
}

// Session is owned by the single dispatch loop and is not safe for
// concurrent use.
type Session struct {
	State      State
	Discipline Discipline
	Transfer   TransferConfig
	SWD        SWDConfig

	// MatchMask applies to value-match reads.
	MatchMask uint32
	// ResetAsserted mirrors the target reset line.
	ResetAsserted bool

	limits   ClockLimits
	divider  int64
	achieved physic.Frequency

	irLength []uint8
	irCache  []uint32
	irKnown  []bool

	counters Counters
}

// Defaults seeds a new Session.
type Defaults struct {
	Clock     physic.Frequency
	Transfer  TransferConfig
	SWD       SWDConfig
	IRLengths []uint8
}

// DefaultDefaults matches a single Cortex-M JTAG-DP at 1 MHz.
var DefaultDefaults = Defaults{
	Clock:     1 * physic.MegaHertz,
	Transfer:  TransferConfig{WaitRetry: 100, MatchRetry: 100},
	SWD:       SWDConfig{Turnaround: 1},
	IRLengths: []uint8{4},
}

// New creates an idle session.
func New(limits ClockLimits, d Defaults) *Session {
	if limits.Max <= 0 {
		limits = DefaultClockLimits
	}
	if limits.Min <= 0 || limits.Min > limits.Max {
		limits.Min = limits.Max
	}
	s := &Session{
		Transfer:  d.Transfer,
		SWD:       d.SWD,
		MatchMask: ^uint32(0),
		limits:    limits,
	}
	if s.SWD.Turnaround == 0 {
		s.SWD.Turnaround = 1
	}
	if _, err := s.SetClock(d.Clock); err != nil {
		s.divider = 1
		s.achieved = limits.Max
	}
	irLengths := d.IRLengths
	if len(irLengths) == 0 {
		irLengths = []uint8{4}
	}
	if err := s.SetChain(irLengths); err != nil {
		_ = s.SetChain([]uint8{4})
	}
	return s
}

// SetClock picks the fastest achievable rate that does not exceed hz.
// Requests above the hardware maximum clamp to it. A request below the
// minimum is refused and leaves the current rate in place.
func (s *Session) SetClock(hz physic.Frequency) (physic.Frequency, error) {
	if hz <= 0 {
		return s.achieved, ErrClockZero
	}
	if hz < s.limits.Min {
		return s.achieved, fmt.Errorf("%w: %s < %s", ErrClockTooSlow, hz, s.limits.Min)
	}
	// Smallest n with Max/n <= hz.
	n := int64((s.limits.Max + hz - 1) / hz)
	if n < 1 {
		n = 1
	}
	s.divider = n
	s.achieved = s.limits.Max / physic.Frequency(n)
	return s.achieved, nil
}

// Clock returns the achieved clock rate.
func (s *Session) Clock() physic.Frequency { return s.achieved }

// ClockHz returns the achieved clock rate in whole hertz, as reported on the wire.
func (s *Session) ClockHz() uint32 { return uint32(s.achieved / physic.Hertz) }

// HalfPeriod is the delay between clock edges at the achieved rate.
func (s *Session) HalfPeriod() time.Duration {
	return s.achieved.Period() / 2
}

// Connect selects a discipline and clears the sticky counters.
func (s *Session) Connect(d Discipline) {
	s.State = StateConnected
	s.Discipline = d
	s.counters = Counters{}
	s.InvalidateIR()
}

// Disconnect returns to Idle, drops the discipline and clears the counters.
func (s *Session) Disconnect() {
	s.State = StateIdle
	s.Discipline = DisciplineNone
	s.counters = Counters{}
}

// Connected reports whether a discipline is selected.
func (s *Session) Connected() bool {
	return s.State != StateIdle && s.Discipline != DisciplineNone
}

// Counters returns a snapshot of the sticky counters.
func (s *Session) Counters() Counters { return s.counters }

func (s *Session) NoteProtocolError() { bump(&s.counters.ProtocolErrors) }
func (s *Session) NoteOverrun()       { bump(&s.counters.Overruns) }
func (s *Session) NoteFault()         { bump(&s.counters.Faults) }
func (s *Session) NoteTimeout()       { bump(&s.counters.Timeouts) }

// SetChain records the IR length of every device on the JTAG chain, device
// 0 nearest TDO.
func (s *Session) SetChain(irLengths []uint8) error {
	if len(irLengths) == 0 || len(irLengths) > MaxChainDevices {
		return fmt.Errorf("%w: %d devices", ErrChainLength, len(irLengths))
	}
	for i, l := range irLengths {
		if l == 0 || l > 32 {
			return fmt.Errorf("%w: device %d IR length %d", ErrChainLength, i, l)
		}
	}
	s.irLength = append(s.irLength[:0], irLengths...)
	s.irCache = make([]uint32, len(irLengths))
	s.irKnown = make([]bool, len(irLengths))
	return nil
}

// MaxChainDevices bounds the JTAG chain description.
const MaxChainDevices = 8

// ChainLength returns the number of devices on the JTAG chain.
func (s *Session) ChainLength() int { return len(s.irLength) }

// IRLength returns the instruction register width of device i.
func (s *Session) IRLength(i int) int { return int(s.irLength[i]) }

// IRBefore is the total IR width of the devices between device i and TDO.
func (s *Session) IRBefore(i int) int {
	n := 0
	for _, l := range s.irLength[:i] {
		n += int(l)
	}
	return n
}

// IRTotal is the total IR width of the chain.
func (s *Session) IRTotal() int { return s.IRBefore(len(s.irLength)) }

// CachedIR reports the instruction last loaded into device i, if known.
func (s *Session) CachedIR(i int) (uint32, bool) {
	return s.irCache[i], s.irKnown[i]
}

// SetCachedIR records the instruction loaded into device i.
func (s *Session) SetCachedIR(i int, ir uint32) {
	s.irCache[i] = ir
	s.irKnown[i] = true
}

// InvalidateIR forgets every cached instruction, used after raw sequences.
func (s *Session) InvalidateIR() {
	for i := range s.irKnown {
		s.irKnown[i] = false
	}
}
