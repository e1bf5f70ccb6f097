package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/session"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/sim"
)

type fixture struct {
	codec  *Codec
	target *sim.Target
	s      *session.Session
}

func newFixture(t *testing.T, cfg sim.Config, disc session.Discipline) *fixture {
	t.Helper()
	target := sim.New(cfg)
	s := session.New(session.DefaultClockLimits, session.DefaultDefaults)
	s.Connect(disc)
	drv := bitbang.NewDriver(target, s, bitbang.NoDelay)
	c := New(drv, s)
	if disc == session.DisciplineJTAG {
		drv.SetupJTAG()
		c.ResetTAP()
	} else {
		drv.SetupSWD()
	}
	return &fixture{codec: c, target: target, s: s}
}

const (
	readIDCode   = dap.RequestRnW | dap.DPIDCode
	writeSelect  = dap.DPSelect
	readSelect   = dap.RequestRnW | dap.DPSelect
	writeAPReg4  = dap.RequestAPnDP | 0x04
	readAPReg4   = dap.RequestAPnDP | dap.RequestRnW | 0x04
	readCtrlStat = dap.RequestRnW | dap.DPCtrlStat
)

func TestSWDHeader(t *testing.T) {
	assert.Equal(t, uint64(0xA5), swdHeader(readIDCode))
	assert.Equal(t, uint64(0xB1), swdHeader(writeSelect))
	assert.Equal(t, uint64(0x9F), swdHeader(readAPReg4|dap.RequestA3))
}

func TestSWDReadIDCode(t *testing.T) {
	f := newFixture(t, sim.Config{}, session.DisciplineSWD)
	res := f.codec.Transfer(0, readIDCode, 0)
	assert.Equal(t, dap.StatusAckOK, res.Status)
	assert.Equal(t, uint32(sim.DefaultIDCode), res.Data)
}

// The cycles between the request and the ACK, and between the data and the
// host taking the line back, must match the configured turnaround exactly
// with no cycle in which both sides drive.
func TestSWDTurnaroundTrace(t *testing.T) {
	for trn := 1; trn <= 4; trn++ {
		f := newFixture(t, sim.Config{Turnaround: trn, TraceLimit: 512}, session.DisciplineSWD)
		f.s.SWD.Turnaround = uint8(trn)
		f.target.Trace.Reset()

		res := f.codec.Transfer(0, readIDCode, 0)
		require.Equal(t, dap.StatusAckOK, res.Status, "trn=%d", trn)

		tr := f.target.Trace
		assert.Empty(t, tr.Contentions(), "trn=%d", trn)
		for i := 0; i < 8; i++ {
			assert.True(t, tr.Cycle(i).HostDrive, "trn=%d header cycle %d", trn, i)
		}
		for i := 8; i < 8+trn; i++ {
			c := tr.Cycle(i)
			assert.False(t, c.HostDrive || c.TargetDrive, "trn=%d turnaround cycle %d", trn, i)
		}
		ackStart := 8 + trn
		for i := ackStart; i < ackStart+3+33; i++ {
			assert.True(t, tr.Cycle(i).TargetDrive, "trn=%d target cycle %d", trn, i)
		}
		for i := ackStart + 36; i < ackStart+36+trn; i++ {
			c := tr.Cycle(i)
			assert.False(t, c.HostDrive || c.TargetDrive, "trn=%d trailing turnaround cycle %d", trn, i)
		}
		assert.Equal(t, ackStart+36+trn, tr.Len(), "trn=%d", trn)
	}
}

func TestSWDWriteThenReadRoundTrip(t *testing.T) {
	f := newFixture(t, sim.Config{}, session.DisciplineSWD)

	require.Equal(t, dap.StatusAckOK, f.codec.Transfer(0, writeSelect, 0xF0).Status)
	res := f.codec.Transfer(0, readSelect, 0)
	require.Equal(t, dap.StatusAckOK, res.Status)
	assert.Equal(t, uint32(0xF0), res.Data)

	require.Equal(t, dap.StatusAckOK, f.codec.Transfer(0, writeAPReg4, 0x20000000).Status)
	assert.True(t, f.codec.Posted(readAPReg4))
	assert.False(t, f.codec.Posted(readSelect))
	require.Equal(t, dap.StatusAckOK, f.codec.Transfer(0, readAPReg4, 0).Status)
	res = f.codec.Transfer(0, dap.ReadRDBuff, 0)
	require.Equal(t, dap.StatusAckOK, res.Status)
	assert.Equal(t, uint32(0x20000000), res.Data)
}

func TestSWDAcknowledgeErrors(t *testing.T) {
	tests := []struct {
		name      string
		reply     sim.Reply
		dataPhase bool
		req       byte
		want      dap.Status
	}{
		{"wait read", sim.Reply{Ack: sim.AckWait}, false, readIDCode, dap.StatusAckWait},
		{"wait write", sim.Reply{Ack: sim.AckWait}, false, writeSelect, dap.StatusAckWait},
		{"fault read data phase", sim.Reply{Ack: sim.AckFault}, true, readIDCode, dap.StatusAckFault},
		{"fault write data phase", sim.Reply{Ack: sim.AckFault}, true, writeSelect, dap.StatusAckFault},
		{"no response", sim.Reply{Ack: sim.AckNone}, false, readIDCode, dap.StatusProtocolError},
		{"bad parity", sim.Reply{CorruptParity: true}, false, readIDCode, dap.StatusParityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, sim.Config{TraceLimit: 1024}, session.DisciplineSWD)
			f.s.SWD.DataPhase = tt.dataPhase
			f.target.DP.Hook = func(r sim.Request) sim.Reply {
				if r.Seq == 0 {
					return tt.reply
				}
				return sim.Reply{}
			}

			res := f.codec.Transfer(0, tt.req, 0x1234)
			assert.Equal(t, tt.want, res.Status)
			if tt.req == writeSelect {
				assert.Zero(t, f.target.DP.Select(), "rejected write must not land")
			}

			// The wire stays in sync for the next transaction.
			res = f.codec.Transfer(0, readIDCode, 0)
			assert.Equal(t, dap.StatusAckOK, res.Status)
			assert.Equal(t, uint32(sim.DefaultIDCode), res.Data)
			assert.Empty(t, f.target.Trace.Contentions())
		})
	}
}

func TestSWDIdleCycles(t *testing.T) {
	f := newFixture(t, sim.Config{TraceLimit: 512}, session.DisciplineSWD)
	f.s.Transfer.IdleCycles = 8
	f.target.Trace.Reset()
	f.codec.Transfer(0, writeSelect, 0x1)
	// header, turnaround, ack, turnaround, data+parity, idle
	assert.Equal(t, 8+1+3+1+33+8, f.target.Trace.Len())
	for i := 46; i < 54; i++ {
		c := f.target.Trace.Cycle(i)
		assert.True(t, c.HostDrive && !c.Level, "idle cycle %d", i)
	}
}

func TestJTAGIDCodeChain(t *testing.T) {
	f := newFixture(t, sim.Config{Mode: sim.ModeJTAG}, session.DisciplineJTAG)
	f.target.Chain = sim.NewChain(sim.NewDevice(5, 0x0BA00477), sim.NewDPDevice(f.target.DP))
	require.NoError(t, f.s.SetChain([]uint8{5, 4}))
	f.codec.ResetTAP()

	id, err := f.codec.IDCode(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(sim.DefaultIDCode), id)
	id, err = f.codec.IDCode(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0BA00477), id)

	_, err = f.codec.IDCode(2)
	assert.ErrorIs(t, err, ErrDeviceIndex)
}

func TestJTAGWriteThenReadRoundTrip(t *testing.T) {
	f := newFixture(t, sim.Config{Mode: sim.ModeJTAG}, session.DisciplineJTAG)
	f.target.Chain = sim.NewChain(sim.NewDevice(8, 0x1), sim.NewDPDevice(f.target.DP), sim.NewDevice(3, 0x3))
	require.NoError(t, f.s.SetChain([]uint8{8, 4, 3}))
	f.codec.ResetTAP()

	require.Equal(t, dap.StatusAckOK, f.codec.Transfer(1, writeSelect, 0xF0).Status)
	assert.Equal(t, uint32(0xF0), f.target.DP.Select())

	assert.True(t, f.codec.Posted(readSelect), "every JTAG read is posted")
	require.Equal(t, dap.StatusAckOK, f.codec.Transfer(1, readSelect, 0).Status)
	res := f.codec.Transfer(1, dap.ReadRDBuff, 0)
	require.Equal(t, dap.StatusAckOK, res.Status)
	assert.Equal(t, uint32(0xF0), res.Data)

	require.Equal(t, dap.StatusAckOK, f.codec.Transfer(1, writeAPReg4, 0xDEADBEEF).Status)
	require.Equal(t, dap.StatusAckOK, f.codec.Transfer(1, readAPReg4, 0).Status)
	res = f.codec.Transfer(1, dap.ReadRDBuff, 0)
	assert.Equal(t, uint32(0xDEADBEEF), res.Data)
}

func TestJTAGWait(t *testing.T) {
	f := newFixture(t, sim.Config{Mode: sim.ModeJTAG}, session.DisciplineJTAG)
	f.target.Chain.Devices[0].WaitScans = 2

	assert.Equal(t, dap.StatusAckWait, f.codec.Transfer(0, writeSelect, 0x1).Status)
	assert.Equal(t, dap.StatusAckWait, f.codec.Transfer(0, writeSelect, 0x1).Status)
	assert.Zero(t, f.target.DP.Select())
	assert.Equal(t, dap.StatusAckOK, f.codec.Transfer(0, writeSelect, 0x1).Status)
	assert.Equal(t, uint32(1), f.target.DP.Select())
}

func TestJTAGAbort(t *testing.T) {
	f := newFixture(t, sim.Config{Mode: sim.ModeJTAG}, session.DisciplineJTAG)
	f.target.DP.Hook = sim.FaultAt(0, sim.AckFault)
	f.codec.Transfer(0, writeSelect, 0x1)
	require.NotZero(t, f.target.DP.CtrlStat()&sim.CtrlStickyErr)

	require.NoError(t, f.codec.Abort(0, 1<<2))
	assert.Zero(t, f.target.DP.CtrlStat()&sim.CtrlStickyErr)
}

func TestBitHelpers(t *testing.T) {
	buf := make([]byte, 3)
	putBits(buf, 5, 11, 0x5A5)
	assert.Equal(t, uint64(0x5A5), getBits(buf, 5, 11))
	assert.Equal(t, uint64(0), getBits(buf, 0, 5))
	putBits(buf, 5, 11, 0)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}
