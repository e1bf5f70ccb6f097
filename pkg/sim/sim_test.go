package sim

import (
	"math/bits"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/tap"
)

type instant struct{}

func (instant) HalfPeriod() time.Duration { return 0 }

func newDriver(t *Target) *bitbang.Driver {
	return bitbang.NewDriver(t, instant{}, bitbang.NoDelay)
}

func header(ap, read bool, addr uint8) uint64 {
	var h uint64 = 1
	var p uint64
	set := func(pos uint, v bool) {
		if v {
			h |= 1 << pos
			p ^= 1
		}
	}
	set(1, ap)
	set(2, read)
	set(3, addr&0x4 != 0)
	set(4, addr&0x8 != 0)
	h |= p << 5
	h |= 1 << 7
	return h
}

func swdRead(d *bitbang.Driver, trn int, ap bool, addr uint8) (ack uint64, data uint32, parityOK bool) {
	d.WriteBits(header(ap, true, addr), 8)
	d.Turnaround(bitbang.Sample, trn)
	ack = d.ReadBits(3)
	if ack != uint64(AckOK) {
		d.Turnaround(bitbang.Drive, trn)
		return ack, 0, false
	}
	v := d.ReadBits(33)
	d.Turnaround(bitbang.Drive, trn)
	d.Idle(2)
	d.Park()
	data = uint32(v)
	return ack, data, uint64(bits.OnesCount32(data)&1) == v>>32
}

func swdWrite(d *bitbang.Driver, trn int, ap bool, addr uint8, v uint32) uint64 {
	d.WriteBits(header(ap, false, addr), 8)
	d.Turnaround(bitbang.Sample, trn)
	ack := d.ReadBits(3)
	d.Turnaround(bitbang.Drive, trn)
	if ack != uint64(AckOK) {
		return ack
	}
	d.WriteBits(uint64(v)|uint64(bits.OnesCount32(v)&1)<<32, 33)
	d.Idle(2)
	d.Park()
	return ack
}

func TestHeaderEncoding(t *testing.T) {
	assert.Equal(t, uint64(0xA5), header(false, true, 0x0), "DP IDCODE read")
	assert.Equal(t, uint64(0xB1), header(false, false, 0x8), "DP SELECT write")
}

func TestSWDReadIDCode(t *testing.T) {
	target := New(Config{TraceLimit: 256})
	d := newDriver(target)
	d.SetupSWD()

	ack, data, ok := swdRead(d, 1, false, 0x0)
	require.Equal(t, uint64(AckOK), ack)
	assert.Equal(t, uint32(DefaultIDCode), data)
	assert.True(t, ok, "parity")
	assert.Empty(t, target.Trace.Contentions())
	assert.Equal(t, 1, target.SWDStats().Requests)
}

func TestSWDWriteThenReadBack(t *testing.T) {
	for _, trn := range []int{1, 2, 4} {
		target := New(Config{Turnaround: trn, TraceLimit: 1024})
		d := newDriver(target)
		d.SetupSWD()

		require.Equal(t, uint64(AckOK), swdWrite(d, trn, false, 0x8, 0x000000F0), "trn=%d", trn)
		assert.Equal(t, uint32(0xF0), target.DP.Select())

		// AP reads are posted: the first returns stale data, RDBUFF holds the value.
		require.Equal(t, uint64(AckOK), swdWrite(d, trn, true, 0x4, 0xCAFEF00D))
		_, _, _ = swdRead(d, trn, true, 0x4)
		ack, data, ok := swdRead(d, trn, false, 0xC)
		require.Equal(t, uint64(AckOK), ack)
		assert.True(t, ok)
		assert.Equal(t, uint32(0xCAFEF00D), data, "trn=%d", trn)
		assert.Empty(t, target.Trace.Contentions(), "trn=%d", trn)
	}
}

func TestSWDFaultHookAndStickyBit(t *testing.T) {
	target := New(Config{})
	target.DP.Hook = FaultAt(1, AckFault)
	d := newDriver(target)
	d.SetupSWD()

	ack, _, _ := swdRead(d, 1, false, 0x0)
	assert.Equal(t, uint64(AckOK), ack)
	ack, _, _ = swdRead(d, 1, false, 0x0)
	assert.Equal(t, uint64(AckFault), ack)
	d.Park()
	assert.NotZero(t, target.DP.CtrlStat()&CtrlStickyErr)

	// ABORT.STKERRCLR clears it.
	require.Equal(t, uint64(AckOK), swdWrite(d, 1, false, 0x0, 1<<2))
	assert.Zero(t, target.DP.CtrlStat()&CtrlStickyErr)
}

func TestSWDCorruptParity(t *testing.T) {
	target := New(Config{})
	target.DP.Hook = func(r Request) Reply { return Reply{CorruptParity: r.Read} }
	d := newDriver(target)
	d.SetupSWD()

	ack, data, ok := swdRead(d, 1, false, 0x0)
	assert.Equal(t, uint64(AckOK), ack)
	assert.Equal(t, uint32(DefaultIDCode), data)
	assert.False(t, ok)
}

func TestSWDBadHeaderLocksOutUntilLineReset(t *testing.T) {
	target := New(Config{})
	d := newDriver(target)
	d.SetupSWD()

	// Wrong parity bit.
	d.WriteBits(0xA5^0x20, 8)
	d.Turnaround(bitbang.Sample, 1)
	assert.Equal(t, uint64(0x7), d.ReadBits(3), "no target response reads as all ones")
	d.Turnaround(bitbang.Drive, 34)
	assert.Equal(t, 1, target.SWDStats().BadHeaders)

	ack, _, _ := swdRead(d, 1, false, 0x0)
	assert.Equal(t, uint64(0x7), ack, "locked out")

	d.Sequence([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}, 64)
	ack, data, _ := swdRead(d, 1, false, 0x0)
	assert.Equal(t, uint64(AckOK), ack)
	assert.Equal(t, uint32(DefaultIDCode), data)
	assert.GreaterOrEqual(t, target.SWDStats().LineResets, 1)
}

func TestSWJSwitchToJTAG(t *testing.T) {
	target := New(Config{})
	d := newDriver(target)
	d.SetupSWD()

	ones := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	d.Sequence(ones, 56)
	d.Sequence([]byte{byte(SeqSWDToJTAG & 0xFF), byte(SeqSWDToJTAG >> 8)}, 16)
	assert.Equal(t, ModeJTAG, target.Mode())

	d.Sequence(ones, 56)
	d.Sequence([]byte{byte(SeqJTAGToSWD & 0xFF), byte(SeqJTAGToSWD >> 8)}, 16)
	assert.Equal(t, ModeSWD, target.Mode())

	d.Sequence(append(ones, 0x00), 64)
	ack, data, _ := swdRead(d, 1, false, 0x0)
	assert.Equal(t, uint64(AckOK), ack)
	assert.Equal(t, uint32(DefaultIDCode), data)
}

func TestJTAGChainIDCodes(t *testing.T) {
	other := NewDevice(5, 0x06431041)
	target := New(Config{Mode: ModeJTAG})
	target.Chain = NewChain(NewDPDevice(target.DP), other)
	d := newDriver(target)
	d.SetupJTAG()

	d.ShiftJTAG(uint64(tap.ResetPath.TMS), 0, tap.ResetPath.Len)
	p := tap.MustPathTo(tap.StateTestLogicReset, tap.StateShiftDR)
	d.ShiftJTAG(p.TMS, 0, p.Len)
	lo := d.ShiftJTAG(0, 0, 32)
	hi := d.ShiftJTAG(1<<31, 0, 32)
	assert.Equal(t, uint64(DefaultIDCode), lo)
	assert.Equal(t, uint64(0x06431041), hi)
	assert.Equal(t, tap.StateExit1DR, target.Chain.State())
}

func TestJTAGDPAccess(t *testing.T) {
	target := New(Config{Mode: ModeJTAG})
	dev := target.Chain.Devices[0]
	d := newDriver(target)
	d.SetupJTAG()
	d.ShiftJTAG(uint64(tap.ResetPath.TMS)|0<<5, 0, 6) // reset, then Run-Test/Idle

	scanIR := func(ir uint64) {
		p := tap.MustPathTo(tap.StateRunTestIdle, tap.StateShiftIR)
		d.ShiftJTAG(p.TMS, 0, p.Len)
		d.ShiftJTAG(1<<3, ir, 4)
		d.ShiftJTAG(0b01, 0, 2)
	}
	scanDR := func(v uint64) uint64 {
		p := tap.MustPathTo(tap.StateRunTestIdle, tap.StateShiftDR)
		d.ShiftJTAG(p.TMS, 0, p.Len)
		out := d.ShiftJTAG(1<<34, v, 35)
		d.ShiftJTAG(0b01, 0, 2)
		return out
	}

	scanIR(IRDPACC)
	assert.Equal(t, uint32(IRDPACC), dev.IR())

	// Write SELECT, then read it back: the value arrives in the following scan.
	out := scanDR(uint64(0xF0)<<3 | 0x8>>2<<1)
	assert.Equal(t, uint64(jtagAckOK), out&7)
	scanDR(0x8>>2<<1 | 1)
	out = scanDR(0xC>>2<<1 | 1)
	assert.Equal(t, uint64(jtagAckOK), out&7)
	assert.Equal(t, uint64(0xF0), out>>3)

	dev.WaitScans = 1
	out = scanDR(uint64(0x11)<<3 | 0x8>>2<<1)
	assert.Equal(t, uint64(jtagAckWait), out&7)
	assert.Equal(t, uint32(0xF0), target.DP.Select(), "a WAIT scan drops its request")
}

func TestTraceLimit(t *testing.T) {
	tr := NewTrace(4)
	for i := 0; i < 6; i++ {
		tr.record(Cycle{HostDrive: true, TargetDrive: i == 2})
	}
	assert.Equal(t, 4, tr.Len())
	assert.Equal(t, []int{2}, tr.Contentions())
	tr.Reset()
	assert.Equal(t, 0, tr.Len())
}

func TestResetLine(t *testing.T) {
	target := New(Config{})
	d := newDriver(target)
	d.SetReset(true)
	assert.True(t, target.InReset())
	d.SetReset(false)
	assert.False(t, target.InReset())
	assert.Equal(t, 1, target.ResetPulses())
}
