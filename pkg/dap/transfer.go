package dap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortPayload = errors.New("dap: payload too short")
	ErrTooManyOps   = errors.New("dap: too many operations for one packet")
)

// Result is the outcome of an executed Operation.
type Result struct {
	Status Status
	Data   uint32
}

// Operation is one queued or inline debug-port access.
type Operation struct {
	// Index selects the device on a JTAG chain; ignored for SWD.
	Index   uint8
	Request byte
	// Value is the write payload, or the compare value of a match read.
	Value  uint32
	Result Result
}

// AP reports whether the operation targets the access port.
func (o Operation) AP() bool { return o.Request&RequestAPnDP != 0 }

// Read reports whether the operation reads a register.
func (o Operation) Read() bool { return o.Request&RequestRnW != 0 }

// Addr returns the register offset A[3:2] << 2.
func (o Operation) Addr() uint8 { return o.Request & requestAddrMask }

// MatchRead reports whether the operation polls until a masked value matches.
func (o Operation) MatchRead() bool {
	return o.Read() && o.Request&RequestMatchValue != 0
}

// SetsMask reports whether the operation only loads the match mask.
func (o Operation) SetsMask() bool {
	return !o.Read() && o.Request&RequestMatchMask != 0
}

// ReturnsData reports whether a successful result carries a data word.
func (o Operation) ReturnsData() bool {
	return o.Read() && !o.MatchRead() && o.Result.Status.OK()
}

// carriesValue reports whether the request byte is followed by a u32 on the wire.
func carriesValue(req byte) bool {
	return req&RequestRnW == 0 || req&RequestMatchValue != 0
}

func (o Operation) String() string {
	port := "DP"
	if o.AP() {
		port = "AP"
	}
	if o.Read() {
		return fmt.Sprintf("R %s[0x%X]", port, o.Addr())
	}
	return fmt.Sprintf("W %s[0x%X]=0x%08X", port, o.Addr(), o.Value)
}

// OperationSize is the worst-case encoded size of one request: a byte plus a u32.
const OperationSize = 5

// MaxOperations returns how many operations fit in one packet, bounded by
// both the request (4-byte header) and the result block (4-byte header, a
// status and a data word per op).
func MaxOperations(packetSize int) int {
	n := (packetSize - 4) / OperationSize
	if n < 0 {
		return 0
	}
	if n > 0xFE {
		n = 0xFE
	}
	return n
}

// ParseTransfer decodes a transfer list payload: dap index, count, then
// count request bytes each optionally followed by a little-endian u32.
func ParseTransfer(payload []byte, max int) ([]Operation, error) {
	if len(payload) < 2 {
		return nil, ErrShortPayload
	}
	index, count := payload[0], int(payload[1])
	if count > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyOps, count, max)
	}

	ops := make([]Operation, 0, count)
	p := payload[2:]
	for i := 0; i < count; i++ {
		if len(p) < 1 {
			return nil, fmt.Errorf("%w: request %d", ErrShortPayload, i)
		}
		op := Operation{Index: index, Request: p[0]}
		p = p[1:]
		if carriesValue(op.Request) {
			if len(p) < 4 {
				return nil, fmt.Errorf("%w: value of request %d", ErrShortPayload, i)
			}
			op.Value = binary.LittleEndian.Uint32(p)
			p = p[4:]
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// AppendTransfer encodes ops as a transfer list payload. All ops share the
// index of the first.
func AppendTransfer(dst []byte, ops []Operation) []byte {
	var index uint8
	if len(ops) > 0 {
		index = ops[0].Index
	}
	dst = append(dst, index, byte(len(ops)))
	for _, op := range ops {
		dst = append(dst, op.Request)
		if carriesValue(op.Request) {
			dst = binary.LittleEndian.AppendUint32(dst, op.Value)
		}
	}
	return dst
}

// AppendResults encodes a result block:
// [cmd, StatusOK, n, failIndex, status x n, u32 per successful read].
func AppendResults(dst []byte, cmd byte, ops []Operation, failIndex int) []byte {
	fail := byte(NoFailure)
	if failIndex >= 0 {
		fail = byte(failIndex)
	}
	dst = append(dst, cmd, StatusOK, byte(len(ops)), fail)
	for _, op := range ops {
		dst = append(dst, byte(op.Result.Status))
	}
	for _, op := range ops {
		if op.ReturnsData() {
			dst = binary.LittleEndian.AppendUint32(dst, op.Result.Data)
		}
	}
	return dst
}

// ParseResults decodes a result block into the statuses and data words of
// ops, which must hold the requests that produced it. It returns the fail
// index, or -1 when the batch ran to completion.
func ParseResults(resp []byte, cmd byte, ops []Operation) (int, error) {
	if len(resp) < 2 {
		return -1, ErrShortPayload
	}
	if resp[0] != cmd {
		return -1, fmt.Errorf("dap: invalid command ID 0x%02X", resp[0])
	}
	if resp[1] != StatusOK {
		return -1, fmt.Errorf("dap: command 0x%02X failed with status 0x%02X", cmd, resp[1])
	}
	if len(resp) < 4 {
		return -1, ErrShortPayload
	}
	n := int(resp[2])
	if n != len(ops) {
		return -1, fmt.Errorf("dap: result count %d, expected %d", n, len(ops))
	}
	if len(resp) < 4+n {
		return -1, ErrShortPayload
	}
	for i := range ops {
		ops[i].Result.Status = Status(resp[4+i])
	}
	p := resp[4+n:]
	for i := range ops {
		if !ops[i].ReturnsData() {
			continue
		}
		if len(p) < 4 {
			return -1, fmt.Errorf("%w: data of op %d", ErrShortPayload, i)
		}
		ops[i].Result.Data = binary.LittleEndian.Uint32(p)
		p = p[4:]
	}
	if resp[3] == NoFailure {
		return -1, nil
	}
	return int(resp[3]), nil
}
