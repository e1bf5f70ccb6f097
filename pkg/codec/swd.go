package codec

import (
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
)

// swdHeader builds the 8-bit request: start, APnDP, RnW, A2, A3, parity,
// stop, park.
func swdHeader(req byte) uint64 {
	fields := uint64(req & 0x0F)
	p := uint64(bits4(req))
	return 1 | fields<<1 | p<<5 | 1<<7
}

func bits4(req byte) byte {
	v := req & 0x0F
	v ^= v >> 2
	v ^= v >> 1
	return v & 1
}

func (c *Codec) swdTransfer(req byte, value uint32) dap.Result {
	d := c.drv
	trn := int(c.s.SWD.Turnaround)
	read := req&dap.RequestRnW != 0

	d.WriteBits(swdHeader(req), 8)
	d.Turnaround(bitbang.Sample, trn)
	ack := d.ReadBits(3)

	switch ack {
	case ackOK:
		var res dap.Result
		if read {
			word := d.ReadBits(33)
			d.Turnaround(bitbang.Drive, trn)
			res.Data = uint32(word)
			res.Status = dap.StatusAckOK
			if parity32(res.Data) != word>>32 {
				res.Status = dap.StatusParityError
			}
		} else {
			d.Turnaround(bitbang.Drive, trn)
			d.WriteBits(uint64(value)|parity32(value)<<32, 33)
			res.Status = dap.StatusAckOK
		}
		d.Idle(int(c.s.Transfer.IdleCycles))
		d.Park()
		return res

	case ackWait, ackFault:
		if c.s.SWD.DataPhase && read {
			d.Clock(33)
		}
		d.Turnaround(bitbang.Drive, trn)
		if c.s.SWD.DataPhase && !read {
			d.Idle(33)
		}
		d.Park()
		if ack == ackWait {
			return dap.Result{Status: dap.StatusAckWait}
		}
		return dap.Result{Status: dap.StatusAckFault}
	}

	// No valid acknowledge: back off for a full data phase with the line released.
	d.Turnaround(bitbang.Drive, trn+33)
	d.Park()
	return dap.Result{Status: dap.StatusProtocolError}
}
