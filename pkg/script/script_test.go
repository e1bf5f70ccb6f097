package script

import (
	"context"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dapclient"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/session"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/sim"
)

func simClient(t *testing.T, cfg sim.Config) (*dapclient.Client, *sim.Target) {
	t.Helper()
	l := log.New()
	l.Out = io.Discard
	target := sim.New(cfg)
	ec := probe.DefaultConfig
	ec.Delay = bitbang.NoDelay
	e := probe.NewEngine(ec, target, session.New(session.DefaultClockLimits, session.DefaultDefaults), log.NewEntry(l))
	return dapclient.New(dapclient.NewEngineTransport(e)), target
}

func parse(t *testing.T, src string) *Script {
	t.Helper()
	p, err := NewParser()
	require.NoError(t, err)
	s, err := p.ParseString("test.dap", src)
	require.NoError(t, err)
	return s
}

const bringUp = `
# power up the debug domain and identify AP 0
connect swd
clock 4_000_000
configure idle 0 retry 100 match 10 abort-on-error
swd turnaround 1
sequence 51 0x7_ffff_ffff_ffff
sequence 8 0
read dp 0 expect 0x2ba01477
write dp 4 0x50000000
poll dp 4 0xa0000000 mask 0xa0000000
write dp 8 0xf0
read ap 0xc expect 0x24770011
queue write ap 8 0x12345678
queue read ap 8 expect 0x12345678
execute
reset pulse 100
status
disconnect
`

func TestRunBringUp(t *testing.T) {
	c, target := simClient(t, sim.Config{})
	s := parse(t, bringUp)
	require.Len(t, s.Statements, 17)

	var steps []Step
	err := Run(context.Background(), c, s, func(st Step) { steps = append(steps, st) })
	require.NoError(t, err)
	require.Len(t, steps, 17)

	assert.Equal(t, "3333333 Hz", steps[1].Result)
	assert.Equal(t, "0x2BA01477 (ARM DPv1 part 0xBA rev 2)", steps[6].Result)
	assert.Equal(t, 9, steps[6].Pos.Line)
	assert.Equal(t, "2 operations", steps[13].Result)
	assert.Equal(t, uint32(0x12345678), target.DP.APRegister(0, 0xF8))
	assert.Equal(t, 1, target.SWDStats().LineResets)
	assert.Equal(t, 1, target.ResetPulses())
	assert.Contains(t, steps[15].Result, "connected swd")
}

func TestRunJTAG(t *testing.T) {
	c, _ := simClient(t, sim.Config{Mode: sim.ModeJTAG})
	s := parse(t, `
jtag irlen 4
connect jtag
idcode 0 expect 0x2ba01477
read dp 0 expect 0x2ba01477
`)
	var steps []Step
	require.NoError(t, Run(context.Background(), c, s, func(st Step) { steps = append(steps, st) }))
	require.Len(t, steps, 4)
	assert.Equal(t, "0x2BA01477 (ARM part 0xBA01 rev 2)", steps[2].Result)
}

func TestRunStopsOnMismatch(t *testing.T) {
	c, _ := simClient(t, sim.Config{})
	s := parse(t, "connect swd\nread dp 0 expect 0x1 mask 0xff\nstatus\n")

	var steps []Step
	err := Run(context.Background(), c, s, func(st Step) { steps = append(steps, st) })
	assert.ErrorIs(t, err, ErrExpect)
	require.Len(t, steps, 2)
	assert.Error(t, steps[1].Err)
	assert.Contains(t, steps[1].String(), "FAILED")
}

func TestRunQueueFailure(t *testing.T) {
	c, target := simClient(t, sim.Config{})
	target.DP.Hook = sim.FaultAt(1, sim.AckFault)
	s := parse(t, `
connect swd
configure idle 0 retry 0 match 0 abort-on-error
queue write dp 8 1
queue write dp 8 2
queue read dp 0
execute
`)
	err := Run(context.Background(), c, s, nil)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.Contains(t, err.Error(), "operation 1")
}

func TestRunHonoursContext(t *testing.T) {
	c, _ := simClient(t, sim.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Run(ctx, c, parse(t, "connect swd"), nil), context.Canceled)
}

func TestParseErrors(t *testing.T) {
	p, err := NewParser()
	require.NoError(t, err)

	tests := []struct {
		name string
		src  string
	}{
		{"unknown port", "connect usb"},
		{"unknown command", "frobnicate 3"},
		{"missing address", "read dp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseString("", tt.src)
			assert.Error(t, err)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unaligned register", "read dp 3"},
		{"write without value", "write dp 4"},
		{"read with value", "read dp 4 5"},
		{"turnaround range", "swd turnaround 5"},
		{"pulse without duration", "reset pulse"},
		{"assert with duration", "reset assert 10"},
		{"sequence too wide", "sequence 8 0x1ff"},
		{"sequence too long", "sequence 300 0"},
		{"ir length", "jtag irlen 0"},
		{"clock overflow", "clock 0x1_0000_0000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(parse(t, tt.src))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestBitData(t *testing.T) {
	tests := []struct {
		s     string
		count int
		want  []byte
	}{
		{"0xe79e", 16, []byte{0x9E, 0xE7}},
		{"0x7ffffffffffff", 51, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x07}},
		{"0", 8, []byte{0x00}},
		{"300", 12, []byte{0x2C, 0x01}},
		{"0x00ff", 8, []byte{0xFF}},
	}
	for _, tt := range tests {
		got, err := bitData(tt.s, tt.count)
		require.NoError(t, err, tt.s)
		assert.Equal(t, tt.want, got, tt.s)
	}
}
