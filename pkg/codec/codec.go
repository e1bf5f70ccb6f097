// Package codec runs single debug-port transactions over the bit-bang
// driver, in SWD or JTAG framing depending on the session discipline. It
// performs no retries; policy lives with the caller.
package codec

import (
	"math/bits"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/session"
)

// SWD acknowledges
const (
	ackOK    = 0x1
	ackWait  = 0x2
	ackFault = 0x4
)

// Codec encodes transactions for the session's discipline.
type Codec struct {
	drv *bitbang.Driver
	s   *session.Session
}

// New creates a codec on drv reading its line configuration from s.
func New(drv *bitbang.Driver, s *session.Session) *Codec {
	return &Codec{drv: drv, s: s}
}

// Transfer performs one raw transaction. index selects the JTAG device and
// is ignored for SWD. A read result of a posted access is stale; see Posted.
func (c *Codec) Transfer(index uint8, req byte, value uint32) dap.Result {
	if c.s.Discipline == session.DisciplineJTAG {
		return c.jtagTransfer(int(index), req, value)
	}
	return c.swdTransfer(req, value)
}

// Posted reports whether a read with this request returns its data only in
// the next transaction, so a DP RDBUFF read must follow it.
func (c *Codec) Posted(req byte) bool {
	if req&dap.RequestRnW == 0 {
		return false
	}
	if c.s.Discipline == session.DisciplineJTAG {
		return true
	}
	return req&dap.RequestAPnDP != 0
}

func parity32(v uint32) uint64 {
	return uint64(bits.OnesCount32(v) & 1)
}
