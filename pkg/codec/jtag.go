package codec

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/tap"
)

// JTAG-DP instructions
const (
	irAbort  = 0x8
	irDPACC  = 0xA
	irAPACC  = 0xB
	irIDCode = 0xE
)

// JTAG-DP acknowledges, first bit shifted out in bit 0.
const (
	jtagAckOK   = 0b010
	jtagAckWait = 0b001
)

// drScanBits is RnW, A[3:2] and 32 data bits.
const drScanBits = 35

var ErrDeviceIndex = errors.New("codec: JTAG device index out of range")

// The codec keeps the TAP parked in Run-Test/Idle between scans.
var (
	enterDR = tap.MustPathTo(tap.StateRunTestIdle, tap.StateShiftDR)
	enterIR = tap.MustPathTo(tap.StateRunTestIdle, tap.StateShiftIR)
	leave   = tap.MustPathTo(tap.StateExit1DR, tap.StateRunTestIdle)
)

// ResetTAP forces every TAP on the chain through Test-Logic-Reset into
// Run-Test/Idle. Instructions revert to IDCODE.
func (c *Codec) ResetTAP() {
	p := tap.ResetPath
	idle := tap.MustPathTo(tap.StateTestLogicReset, tap.StateRunTestIdle)
	c.drv.ShiftJTAG(p.TMS|idle.TMS<<uint(p.Len), ^uint64(0), p.Len+idle.Len)
	for i := 0; i < c.s.ChainLength(); i++ {
		c.s.SetCachedIR(i, irIDCode&irMask(c.s.IRLength(i)))
	}
}

func irMask(n int) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return 1<<uint(n) - 1
}

// shift clocks bits through the selected register, leaving Shift-xR on the
// last one. tdi and the returned tdo are LSB first.
func (c *Codec) shift(tdi []byte, n int) []byte {
	tdo := make([]byte, (n+7)/8)
	for pos := 0; pos < n; pos += 64 {
		chunk := n - pos
		if chunk > 64 {
			chunk = 64
		}
		var tms uint64
		if pos+chunk == n {
			tms = 1 << uint(chunk-1)
		}
		out := c.drv.ShiftJTAG(tms, getBits(tdi, pos, chunk), chunk)
		putBits(tdo, pos, chunk, out)
	}
	return tdo
}

func (c *Codec) scan(enter tap.Path, tdi []byte, n int) []byte {
	c.drv.ShiftJTAG(enter.TMS, 0, enter.Len)
	tdo := c.shift(tdi, n)
	c.drv.ShiftJTAG(leave.TMS, 0, leave.Len)
	return tdo
}

// selectIR loads ir into device index and BYPASS into every other device,
// unless the chain already holds that configuration.
func (c *Codec) selectIR(index int, ir uint32) {
	if cur, ok := c.s.CachedIR(index); ok && cur == ir && c.othersBypassed(index) {
		return
	}
	total := c.s.IRTotal()
	tdi := make([]byte, (total+7)/8)
	for i := range tdi {
		tdi[i] = 0xFF
	}
	before := c.s.IRBefore(index)
	l := c.s.IRLength(index)
	putBits(tdi, before, l, uint64(ir))
	c.scan(enterIR, tdi, total)

	for i := 0; i < c.s.ChainLength(); i++ {
		c.s.SetCachedIR(i, irMask(c.s.IRLength(i)))
	}
	c.s.SetCachedIR(index, ir)
}

func (c *Codec) othersBypassed(index int) bool {
	for i := 0; i < c.s.ChainLength(); i++ {
		if i == index {
			continue
		}
		cur, ok := c.s.CachedIR(i)
		if !ok || cur != irMask(c.s.IRLength(i)) {
			return false
		}
	}
	return true
}

// drScan shifts a data register of width bits through device index, with
// every other device in BYPASS contributing one bit.
func (c *Codec) drScan(index int, value uint64, width int) uint64 {
	n := c.s.ChainLength() - 1 + width
	tdi := make([]byte, (n+7)/8)
	putBits(tdi, index, width, value)
	tdo := c.scan(enterDR, tdi, n)
	return getBits(tdo, index, width)
}

func (c *Codec) jtagTransfer(index int, req byte, value uint32) dap.Result {
	if index >= c.s.ChainLength() {
		return dap.Result{Status: dap.StatusProtocolError}
	}
	ir := uint32(irDPACC)
	if req&dap.RequestAPnDP != 0 {
		ir = irAPACC
	}
	c.selectIR(index, ir)

	// RnW then A[3:2].
	in := uint64(req>>1&1) | uint64(req>>2&3)<<1 | uint64(value)<<3
	out := c.drScan(index, in, drScanBits)
	c.drv.ShiftJTAG(0, 0, int(c.s.Transfer.IdleCycles))

	switch out & 7 {
	case jtagAckOK:
		return dap.Result{Status: dap.StatusAckOK, Data: uint32(out >> 3)}
	case jtagAckWait:
		return dap.Result{Status: dap.StatusAckWait}
	}
	return dap.Result{Status: dap.StatusProtocolError}
}

// IDCode reads the IDCODE register of device index.
func (c *Codec) IDCode(index int) (uint32, error) {
	if index < 0 || index >= c.s.ChainLength() {
		return 0, fmt.Errorf("%w: %d of %d", ErrDeviceIndex, index, c.s.ChainLength())
	}
	c.selectIR(index, irIDCode&irMask(c.s.IRLength(index)))
	return uint32(c.drScan(index, 0, 32)), nil
}

// Abort writes the JTAG-DP ABORT register of device index.
func (c *Codec) Abort(index int, value uint32) error {
	if index < 0 || index >= c.s.ChainLength() {
		return fmt.Errorf("%w: %d of %d", ErrDeviceIndex, index, c.s.ChainLength())
	}
	c.selectIR(index, irAbort)
	c.drScan(index, uint64(value)<<3, drScanBits)
	return nil
}

// Sequence clocks a raw JTAG sequence of 1 to 64 cycles with constant TMS.
// The TAP state and cached instructions are no longer known afterwards.
func (c *Codec) Sequence(tms bool, tdi uint64, n int) uint64 {
	var t uint64
	if tms {
		t = ^uint64(0)
	}
	c.s.InvalidateIR()
	return c.drv.ShiftJTAG(t, tdi, n)
}
