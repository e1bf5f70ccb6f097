package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func newTestSession() *Session {
	return New(ClockLimits{Max: 10 * physic.MegaHertz, Min: 1 * physic.KiloHertz}, DefaultDefaults)
}

func TestSetClockNeverExceedsRequest(t *testing.T) {
	s := newTestSession()
	for _, hz := range []physic.Frequency{
		1 * physic.KiloHertz,
		100 * physic.KiloHertz,
		333333 * physic.Hertz,
		1 * physic.MegaHertz,
		3 * physic.MegaHertz,
		7 * physic.MegaHertz,
		10 * physic.MegaHertz,
	} {
		got, err := s.SetClock(hz)
		require.NoError(t, err, "SetClock(%s)", hz)
		assert.LessOrEqual(t, int64(got), int64(hz), "SetClock(%s) = %s", hz, got)
		assert.Greater(t, int64(got), int64(0))
	}
}

func TestSetClockPicksClosestGridPoint(t *testing.T) {
	s := newTestSession()
	tests := []struct {
		req  physic.Frequency
		want physic.Frequency
	}{
		{10 * physic.MegaHertz, 10 * physic.MegaHertz},
		{5 * physic.MegaHertz, 5 * physic.MegaHertz},
		{4 * physic.MegaHertz, 10 * physic.MegaHertz / 3},
		{6 * physic.MegaHertz, 5 * physic.MegaHertz},
		{1 * physic.MegaHertz, 1 * physic.MegaHertz},
	}
	for _, tt := range tests {
		got, err := s.SetClock(tt.req)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "SetClock(%s)", tt.req)
	}
}

func TestSetClockMonotonic(t *testing.T) {
	s := newTestSession()
	var prev physic.Frequency
	for hz := 1 * physic.KiloHertz; hz <= 12*physic.MegaHertz; hz += 37 * physic.KiloHertz {
		got, err := s.SetClock(hz)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(got), int64(prev), "SetClock(%s) went down", hz)
		prev = got
	}
}

func TestSetClockAboveMaxClamps(t *testing.T) {
	s := newTestSession()
	got, err := s.SetClock(50 * physic.MegaHertz)
	require.NoError(t, err)
	assert.Equal(t, 10*physic.MegaHertz, got)
	assert.Equal(t, uint32(10000000), s.ClockHz())
	assert.Equal(t, 50*time.Nanosecond, s.HalfPeriod())
}

func TestSetClockRejects(t *testing.T) {
	s := newTestSession()
	before := s.Clock()

	_, err := s.SetClock(0)
	assert.True(t, errors.Is(err, ErrClockZero))
	_, err = s.SetClock(10 * physic.Hertz)
	assert.True(t, errors.Is(err, ErrClockTooSlow))
	assert.Equal(t, before, s.Clock(), "a refused request must keep the current rate")
}

func TestConnectClearsCounters(t *testing.T) {
	s := newTestSession()
	s.NoteFault()
	s.NoteProtocolError()
	s.NoteOverrun()
	s.NoteTimeout()
	assert.Equal(t, Counters{ProtocolErrors: 1, Overruns: 1, Faults: 1, Timeouts: 1}, s.Counters())

	s.Connect(DisciplineSWD)
	assert.Equal(t, Counters{}, s.Counters())
	assert.Equal(t, StateConnected, s.State)
	assert.True(t, s.Connected())

	s.NoteFault()
	s.Disconnect()
	assert.Equal(t, Counters{}, s.Counters())
	assert.Equal(t, StateIdle, s.State)
	assert.False(t, s.Connected())
}

func TestCountersSaturate(t *testing.T) {
	s := newTestSession()
	s.counters.Overruns = ^uint16(0)
	s.NoteOverrun()
	assert.Equal(t, ^uint16(0), s.Counters().Overruns)
}

func TestSetChain(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.SetChain([]uint8{4, 5, 8}))
	assert.Equal(t, 3, s.ChainLength())
	assert.Equal(t, 0, s.IRBefore(0))
	assert.Equal(t, 9, s.IRBefore(2))
	assert.Equal(t, 17, s.IRTotal())

	_, ok := s.CachedIR(1)
	assert.False(t, ok)
	s.SetCachedIR(1, 0x1F)
	ir, ok := s.CachedIR(1)
	assert.True(t, ok)
	assert.Equal(t, uint32(0x1F), ir)
	s.InvalidateIR()
	_, ok = s.CachedIR(1)
	assert.False(t, ok)

	assert.ErrorIs(t, s.SetChain(nil), ErrChainLength)
	assert.ErrorIs(t, s.SetChain([]uint8{4, 0}), ErrChainLength)
	assert.ErrorIs(t, s.SetChain(make([]uint8, MaxChainDevices+1)), ErrChainLength)
	assert.Equal(t, 3, s.ChainLength(), "a rejected chain keeps the previous one")
}
