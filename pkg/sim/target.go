package sim

import (
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
)

// Mode is the wire protocol the SWJ-DP currently answers.
type Mode uint8

const (
	ModeSWD Mode = iota
	ModeJTAG
)

func (m Mode) String() string {
	if m == ModeJTAG {
		return "jtag"
	}
	return "swd"
}

// Switch sequences, sent LSB first after at least 50 ones.
const (
	SeqJTAGToSWD = 0xE79E
	SeqSWDToJTAG = 0xE73C
)

const lineResetOnes = 50

// Config describes a simulated target.
type Config struct {
	Mode   Mode
	IDCode uint32
	// Turnaround is the SWD turnaround period the target uses.
	Turnaround int
	// Chain lists JTAG devices, device 0 nearest TDO. When empty the chain
	// is a single JTAG-DP sharing the SWD debug port.
	Chain []*Device
	// TraceLimit bounds the cycle trace; zero disables tracing.
	TraceLimit int
}

// Target is an SWJ-DP behind the debug pins. It implements bitbang.Pins.
type Target struct {
	DP    *DebugPort
	Chain *Chain
	Trace *Trace

	mode      Mode
	swd       *swdPort
	level     [bitbang.NumLines]bool
	hostDrive bool

	ones       int
	history    uint16
	sinceReset int

	resets int
}

var _ bitbang.Pins = (*Target)(nil)

// New creates a target. Zero fields of cfg take defaults.
func New(cfg Config) *Target {
	if cfg.IDCode == 0 {
		cfg.IDCode = DefaultIDCode
	}
	dp := NewDebugPort(cfg.IDCode)
	devices := cfg.Chain
	if len(devices) == 0 {
		devices = []*Device{NewDPDevice(dp)}
	}
	t := &Target{
		DP:         dp,
		Chain:      NewChain(devices...),
		mode:       cfg.Mode,
		swd:        newSWDPort(dp, cfg.Turnaround),
		sinceReset: -1,
	}
	if cfg.TraceLimit > 0 {
		t.Trace = NewTrace(cfg.TraceLimit)
	}
	// Clock and reset idle high.
	t.level[bitbang.LineSWCLK] = true
	t.level[bitbang.LineReset] = true
	return t
}

// Mode returns the protocol the target answers.
func (t *Target) Mode() Mode { return t.mode }

// SetTurnaround changes the SWD turnaround period, as a DLCR write would.
func (t *Target) SetTurnaround(cycles int) {
	if cycles >= 1 {
		t.swd.turnaround = cycles
	}
}

// SWDStats returns the SW-DP wire counters.
func (t *Target) SWDStats() SWDStats { return t.swd.stats }

// ResetPulses counts assertions of nRESET.
func (t *Target) ResetPulses() int { return t.resets }

// InReset reports whether nRESET is held low.
func (t *Target) InReset() bool { return !t.level[bitbang.LineReset] }

// Set implements bitbang.Pins.
func (t *Target) Set(l bitbang.Line, high bool) {
	prev := t.level[l]
	t.level[l] = high
	switch {
	case l == bitbang.LineSWCLK && high && !prev:
		t.rise()
	case l == bitbang.LineReset && !high && prev:
		t.resets++
	}
}

// Get implements bitbang.Pins.
func (t *Target) Get(l bitbang.Line) bool {
	switch l {
	case bitbang.LineSWDIO:
		return t.swdio()
	case bitbang.LineTDO:
		if t.mode == ModeJTAG {
			return t.Chain.TDO()
		}
		return true
	}
	return t.level[l]
}

// Output implements bitbang.Pins.
func (t *Target) Output(l bitbang.Line, drive bool) {
	if l == bitbang.LineSWDIO {
		t.hostDrive = drive
	}
}

func (t *Target) targetDrive() bool {
	return t.mode == ModeSWD && t.swd.driving
}

// swdio resolves the shared data line; an undriven line reads high.
func (t *Target) swdio() bool {
	switch {
	case t.hostDrive:
		return t.level[bitbang.LineSWDIO]
	case t.targetDrive():
		return t.swd.out
	}
	return true
}

func (t *Target) rise() {
	level := t.swdio()
	if t.Trace != nil {
		t.Trace.record(Cycle{HostDrive: t.hostDrive, TargetDrive: t.targetDrive(), Level: level})
	}
	t.watch(level)

	switch t.mode {
	case ModeSWD:
		if t.ones >= lineResetOnes {
			t.swd.lineReset()
			return
		}
		t.swd.rise(t.hostDrive, level)
	case ModeJTAG:
		t.Chain.rise(level, t.level[bitbang.LineTDI])
	}
}

// watch tracks host-driven ones for line resets and the JTAG/SWD switch
// sequences that follow them.
func (t *Target) watch(level bool) {
	if !t.hostDrive {
		t.ones = 0
		t.sinceReset = -1
		return
	}
	if level {
		t.ones++
	} else {
		if t.ones >= lineResetOnes {
			t.sinceReset = 0
		}
		t.ones = 0
	}

	t.history >>= 1
	if level {
		t.history |= 1 << 15
	}
	if t.sinceReset < 0 {
		return
	}
	if t.sinceReset == 15 {
		switch {
		case t.history == SeqJTAGToSWD && t.mode == ModeJTAG:
			t.mode = ModeSWD
			t.swd.lineReset()
			t.swd.state = swdLockout
		case t.history == SeqSWDToJTAG && t.mode == ModeSWD:
			t.mode = ModeJTAG
			t.Chain.reset()
		}
		t.sinceReset = -1
		return
	}
	t.sinceReset++
}
