// Package sim is a pin-level model of an ADIv5 debug target. It plugs into
// the bit-bang driver in place of real GPIO and answers SWD and JTAG
// transactions the way an SWJ-DP would, including posted reads, WAIT and
// FAULT responses and line-reset handling.
package sim

import "math/bits"

// Ack is a target acknowledge in SWD encoding.
type Ack uint8

const (
	AckOK    Ack = 0x1
	AckWait  Ack = 0x2
	AckFault Ack = 0x4
	// AckNone leaves the line undriven, which the host reads as all ones.
	AckNone Ack = 0x7
)

// Request is a decoded debug port access as the target sees it.
type Request struct {
	AP    bool
	Read  bool
	Addr  uint8
	Value uint32
	// Seq counts requests since the port was created, starting at zero.
	Seq int
}

// Reply lets a Hook override the target's answer to one request.
type Reply struct {
	Ack           Ack
	CorruptParity bool
}

// Hook is consulted before every access. A zero Reply means answer normally.
type Hook func(Request) Reply

// FaultAt returns a hook that answers request seq with ack.
func FaultAt(seq int, ack Ack) Hook {
	return func(r Request) Reply {
		if r.Seq == seq {
			return Reply{Ack: ack}
		}
		return Reply{}
	}
}

// DefaultIDCode is the DPIDR of a Cortex-M SW-DP.
const DefaultIDCode = 0x2BA01477

// DefaultAPIDR identifies an AHB-AP.
const DefaultAPIDR = 0x24770011

// CTRL/STAT bits
const (
	CtrlStickyErr     = 1 << 5
	CtrlWDataErr      = 1 << 7
	CtrlCDBGPwrUpReq  = 1 << 28
	CtrlCDBGPwrUpAck  = 1 << 29
	CtrlCSYSPwrUpReq  = 1 << 30
	CtrlCSYSPwrUpAck  = 1 << 31
	ctrlReadOnly      = CtrlStickyErr | CtrlWDataErr | CtrlCDBGPwrUpAck | CtrlCSYSPwrUpAck
	abortStickyErrClr = 1 << 2
	abortWDataErrClr  = 1 << 3
)

// DebugPort models the DP registers and a bank of AP registers.
type DebugPort struct {
	IDCode uint32
	Hook   Hook

	ctrl   uint32
	sel    uint32
	rdbuff uint32
	ap     map[uint32]uint32
	seq    int
}

// NewDebugPort creates a port whose AP 0 identifies as an AHB-AP.
func NewDebugPort(idcode uint32) *DebugPort {
	p := &DebugPort{IDCode: idcode, ap: make(map[uint32]uint32)}
	p.SetAPRegister(0, 0xFC, DefaultAPIDR)
	return p
}

func apKey(apsel uint8, reg uint8) uint32 {
	return uint32(apsel)<<8 | uint32(reg)
}

// APRegister returns AP register reg (bank and offset, e.g. 0xFC) of AP apsel.
func (p *DebugPort) APRegister(apsel, reg uint8) uint32 {
	return p.ap[apKey(apsel, reg)]
}

// SetAPRegister presets an AP register.
func (p *DebugPort) SetAPRegister(apsel, reg uint8, v uint32) {
	p.ap[apKey(apsel, reg)] = v
}

// Select returns the SELECT register.
func (p *DebugPort) Select() uint32 { return p.sel }

// CtrlStat returns CTRL/STAT as a read would.
func (p *DebugPort) CtrlStat() uint32 {
	v := p.ctrl
	v |= (v & CtrlCDBGPwrUpReq) << 1
	v |= (v & CtrlCSYSPwrUpReq) << 1
	return v
}

func (p *DebugPort) selected(addr uint8) uint32 {
	apsel := uint8(p.sel >> 24)
	bank := uint8(p.sel & 0xF0)
	return apKey(apsel, bank|addr)
}

// consult numbers the request and asks the hook for an override.
func (p *DebugPort) consult(req *Request) Reply {
	req.Seq = p.seq
	p.seq++
	var r Reply
	if p.Hook != nil {
		r = p.Hook(*req)
	}
	if r.Ack == 0 {
		r.Ack = AckOK
	}
	if r.Ack == AckFault {
		p.ctrl |= CtrlStickyErr
	}
	return r
}

// read returns a register value with no posting.
func (p *DebugPort) read(req Request) uint32 {
	if req.AP {
		return p.ap[p.selected(req.Addr)]
	}
	switch req.Addr {
	case 0x0:
		return p.IDCode
	case 0x4:
		return p.CtrlStat()
	case 0x8:
		return p.sel
	}
	return p.rdbuff
}

// readPosted is the SWD view: an AP read returns the previous AP result and
// parks the new one in RDBUFF.
func (p *DebugPort) readPosted(req Request) uint32 {
	if !req.AP {
		return p.read(req)
	}
	v := p.rdbuff
	p.rdbuff = p.read(req)
	return v
}

func (p *DebugPort) write(req Request) {
	if req.AP {
		p.ap[p.selected(req.Addr)] = req.Value
		return
	}
	switch req.Addr {
	case 0x0:
		if req.Value&abortStickyErrClr != 0 {
			p.ctrl &^= CtrlStickyErr
		}
		if req.Value&abortWDataErrClr != 0 {
			p.ctrl &^= CtrlWDataErr
		}
	case 0x4:
		p.ctrl = p.ctrl&ctrlReadOnly | req.Value&^ctrlReadOnly
	case 0x8:
		p.sel = req.Value
	}
}

func parity(v uint32) uint64 {
	return uint64(bits.OnesCount32(v) & 1)
}
