// Package bitbang drives the debug wires one clock edge at a time. The same
// driver serves SWD (SWCLK, SWDIO) and JTAG (TCK, TMS, TDI, TDO), which share
// the clock and the TMS/SWDIO pin.
package bitbang

import (
	"time"
)

// Line names a debug signal.
type Line uint8

const (
	LineSWCLK Line = iota
	LineSWDIO
	LineTDI
	LineTDO
	LineReset

	NumLines
)

// JTAG aliases for the shared pins.
const (
	LineTCK = LineSWCLK
	LineTMS = LineSWDIO
)

var lineNames = [NumLines]string{"SWCLK", "SWDIO", "TDI", "TDO", "nRESET"}

func (l Line) String() string {
	if l < NumLines {
		return lineNames[l]
	}
	return "?"
}

// Pins is the electrical layer under the driver.
type Pins interface {
	// Set drives a line high or low. For LineReset, low asserts reset.
	Set(l Line, high bool)
	// Get samples a line.
	Get(l Line) bool
	// Output switches SWDIO between driven and released.
	Output(l Line, drive bool)
}

// Timing supplies the half clock period. It is read once at the start of
// every primitive so a rate change never lands mid-transfer.
type Timing interface {
	HalfPeriod() time.Duration
}

// Direction of the bidirectional data line after a turnaround.
type Direction bool

const (
	Sample Direction = false
	Drive  Direction = true
)

// Driver sequences pin transitions. It keeps no protocol state.
type Driver struct {
	pins   Pins
	timing Timing
	delay  func(time.Duration)
}

// NewDriver creates a driver. A nil delay uses BusyWait.
func NewDriver(pins Pins, timing Timing, delay func(time.Duration)) *Driver {
	if delay == nil {
		delay = BusyWait
	}
	return &Driver{pins: pins, timing: timing, delay: delay}
}

// Pins returns the underlying pin layer.
func (d *Driver) Pins() Pins { return d.pins }

func (d *Driver) cycle(half time.Duration) {
	d.pins.Set(LineSWCLK, false)
	d.delay(half)
	d.pins.Set(LineSWCLK, true)
	d.delay(half)
}

// ClockPulse emits one full clock cycle.
func (d *Driver) ClockPulse() {
	d.cycle(d.timing.HalfPeriod())
}

// Clock emits n cycles without touching the data lines.
func (d *Driver) Clock(n int) {
	half := d.timing.HalfPeriod()
	for i := 0; i < n; i++ {
		d.cycle(half)
	}
}

// WriteBits drives count bits of v on SWDIO, LSB first, one per cycle.
// The target samples each bit on the rising edge.
func (d *Driver) WriteBits(v uint64, count int) {
	half := d.timing.HalfPeriod()
	for i := 0; i < count; i++ {
		d.pins.Set(LineSWDIO, v&1 != 0)
		d.cycle(half)
		v >>= 1
	}
}

// ReadBits samples count bits from SWDIO, LSB first. The sample is taken
// while the clock is low, before the rising edge.
func (d *Driver) ReadBits(count int) uint64 {
	half := d.timing.HalfPeriod()
	var v uint64
	for i := 0; i < count; i++ {
		d.pins.Set(LineSWCLK, false)
		d.delay(half)
		if d.pins.Get(LineSWDIO) {
			v |= 1 << uint(i)
		}
		d.pins.Set(LineSWCLK, true)
		d.delay(half)
	}
	return v
}

// Turnaround hands the data line over. Releasing happens before the idle
// cycles; taking the line back happens after them, so host and target never
// drive at once.
func (d *Driver) Turnaround(to Direction, cycles int) {
	if to == Sample {
		d.pins.Output(LineSWDIO, false)
		d.Clock(cycles)
		return
	}
	d.Clock(cycles)
	d.pins.Output(LineSWDIO, true)
}

// Idle drives SWDIO low for n cycles.
func (d *Driver) Idle(n int) {
	if n == 0 {
		return
	}
	d.pins.Set(LineSWDIO, false)
	d.Clock(n)
}

// Park leaves SWDIO driven high between transactions.
func (d *Driver) Park() {
	d.pins.Set(LineSWDIO, true)
}

// Sequence drives count bits from data on SWDIO/TMS, LSB of data[0] first.
func (d *Driver) Sequence(data []byte, count int) {
	half := d.timing.HalfPeriod()
	for i := 0; i < count; i++ {
		d.pins.Set(LineSWDIO, data[i/8]>>(uint(i)%8)&1 != 0)
		d.cycle(half)
	}
}

// ShiftJTAG clocks count (at most 64) cycles with TMS and TDI taken LSB first
// from tms and tdi, and returns the TDO samples in the same order.
func (d *Driver) ShiftJTAG(tms, tdi uint64, count int) uint64 {
	half := d.timing.HalfPeriod()
	var tdo uint64
	for i := 0; i < count; i++ {
		d.pins.Set(LineTMS, tms&1 != 0)
		d.pins.Set(LineTDI, tdi&1 != 0)
		d.pins.Set(LineTCK, false)
		d.delay(half)
		if d.pins.Get(LineTDO) {
			tdo |= 1 << uint(i)
		}
		d.pins.Set(LineTCK, true)
		d.delay(half)
		tms >>= 1
		tdi >>= 1
	}
	return tdo
}

// SetupSWD puts the pins in the SWD idle state: clock and data high, data driven.
func (d *Driver) SetupSWD() {
	d.pins.Set(LineSWCLK, true)
	d.pins.Set(LineSWDIO, true)
	d.pins.Output(LineSWDIO, true)
}

// SetupJTAG puts the pins in the JTAG idle state.
func (d *Driver) SetupJTAG() {
	d.pins.Set(LineTCK, true)
	d.pins.Set(LineTMS, true)
	d.pins.Set(LineTDI, true)
	d.pins.Output(LineTMS, true)
}

// Release stops driving the data line, used on disconnect.
func (d *Driver) Release() {
	d.pins.Output(LineSWDIO, false)
}

// SetReset drives the active-low target reset line.
func (d *Driver) SetReset(asserted bool) {
	d.pins.Set(LineReset, !asserted)
}

// ResetLevel reports the sampled level of the reset line, true when high.
func (d *Driver) ResetLevel() bool {
	return d.pins.Get(LineReset)
}

// Wait blocks for dur using the driver's delay.
func (d *Driver) Wait(dur time.Duration) {
	d.delay(dur)
}
