package sim

import "github.com/OpenTraceLab/OpenTraceProbe/pkg/tap"

// JTAG-DP instructions
const (
	IRAbort  = 0x8
	IRDPACC  = 0xA
	IRAPACC  = 0xB
	IRIDCode = 0xE
	IRBypass = 0xF
)

// JTAG-DP acknowledges as shifted out of DPACC/APACC, LSB first.
const (
	jtagAckOK   = 0b010
	jtagAckWait = 0b001
)

// Device is one TAP on the chain. With a DebugPort attached it behaves as a
// JTAG-DP; without one it only implements IDCODE and BYPASS.
type Device struct {
	IRLength int
	IDCode   uint32
	IDCodeIR uint32
	DP       *DebugPort

	// WaitScans makes the next n DPACC/APACC scans answer WAIT and drop
	// their request.
	WaitScans int

	ir      uint32
	shift   uint64
	n       int
	result  uint32
	dropped bool
}

// NewDevice creates a plain TAP.
func NewDevice(irLength int, idcode uint32) *Device {
	d := &Device{IRLength: irLength, IDCode: idcode, IDCodeIR: IRIDCode & mask(irLength)}
	d.reset()
	return d
}

// NewDPDevice creates a JTAG-DP TAP in front of dp.
func NewDPDevice(dp *DebugPort) *Device {
	d := NewDevice(4, dp.IDCode)
	d.DP = dp
	return d
}

// IR returns the current instruction.
func (d *Device) IR() uint32 { return d.ir }

func mask(n int) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return 1<<uint(n) - 1
}

func (d *Device) reset() {
	d.ir = d.IDCodeIR
	d.shift, d.n = 0, 1
}

func (d *Device) bypass() bool {
	return d.ir == mask(d.IRLength)
}

func (d *Device) acc() bool {
	return d.DP != nil && (d.ir == IRDPACC || d.ir == IRAPACC)
}

func (d *Device) captureDR() {
	switch {
	case d.bypass():
		d.shift, d.n = 0, 1
	case d.ir == d.IDCodeIR:
		d.shift, d.n = uint64(d.IDCode), 32
	case d.acc():
		ack := uint64(jtagAckOK)
		d.dropped = false
		if d.WaitScans > 0 {
			d.WaitScans--
			d.dropped = true
			ack = jtagAckWait
		}
		d.shift, d.n = ack|uint64(d.result)<<3, 35
	case d.DP != nil && d.ir == IRAbort:
		d.shift, d.n = 0, 35
	default:
		d.shift, d.n = 0, 1
	}
}

func (d *Device) captureIR() {
	d.shift, d.n = 0b01, d.IRLength
}

func (d *Device) updateIR() {
	d.ir = uint32(d.shift) & mask(d.IRLength)
}

func (d *Device) updateDR() {
	switch {
	case d.acc():
		if d.dropped {
			return
		}
		v := d.shift
		req := Request{
			AP:    d.ir == IRAPACC,
			Read:  v&1 != 0,
			Addr:  uint8(v>>1&3) << 2,
			Value: uint32(v >> 3),
		}
		if d.DP.consult(&req).Ack == AckFault {
			return
		}
		if req.Read {
			d.result = d.DP.read(req)
			return
		}
		d.DP.write(req)
	case d.DP != nil && d.ir == IRAbort:
		d.DP.write(Request{Addr: 0x0, Value: uint32(d.shift >> 3)})
	}
}

// Chain is a daisy chain of TAPs sharing TCK and TMS. Device 0 drives TDO;
// the last device receives TDI.
type Chain struct {
	Devices []*Device
	state   tap.State
}

// NewChain creates a chain in Test-Logic-Reset.
func NewChain(devices ...*Device) *Chain {
	return &Chain{Devices: devices, state: tap.StateTestLogicReset}
}

// State returns the TAP state shared by every device.
func (c *Chain) State() tap.State { return c.state }

// TDO is the chain output; it floats high outside the shift states.
func (c *Chain) TDO() bool {
	if !c.state.Shifting() || len(c.Devices) == 0 {
		return true
	}
	return c.Devices[0].shift&1 != 0
}

func (c *Chain) reset() {
	c.state = tap.StateTestLogicReset
	for _, d := range c.Devices {
		d.reset()
	}
}

func (c *Chain) rise(tms, tdi bool) {
	switch c.state {
	case tap.StateCaptureDR:
		for _, d := range c.Devices {
			d.captureDR()
		}
	case tap.StateCaptureIR:
		for _, d := range c.Devices {
			d.captureIR()
		}
	case tap.StateShiftDR, tap.StateShiftIR:
		c.shift(tdi)
	case tap.StateUpdateDR:
		for _, d := range c.Devices {
			d.updateDR()
		}
	case tap.StateUpdateIR:
		for _, d := range c.Devices {
			d.updateIR()
		}
	}

	next := tap.NextState(c.state, tms)
	if next == tap.StateTestLogicReset && c.state != tap.StateTestLogicReset {
		for _, d := range c.Devices {
			d.reset()
		}
	}
	c.state = next
}

func (c *Chain) shift(tdi bool) {
	in := tdi
	for i := len(c.Devices) - 1; i >= 0; i-- {
		d := c.Devices[i]
		out := d.shift&1 != 0
		d.shift >>= 1
		if in {
			d.shift |= 1 << uint(d.n-1)
		}
		in = out
	}
}
