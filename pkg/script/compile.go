package script

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dapclient"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/idcode"
)

var ErrInvalid = errors.New("script: invalid statement")

// instr is one compiled statement.
type instr struct {
	pos  lexer.Position
	text string
	exec func(*runner) (string, error)
}

// Program is a validated script ready to run.
type Program struct {
	instrs []instr
}

// Len is the number of statements.
func (p *Program) Len() int { return len(p.instrs) }

func number(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrInvalid, s)
	}
	return v, nil
}

func register(s string) (uint8, error) {
	v, err := number(s, 8)
	if err != nil {
		return 0, err
	}
	if v&^0x0C != 0 {
		return 0, fmt.Errorf("%w: register address 0x%X is not one of 0x0, 0x4, 0x8, 0xC", ErrInvalid, v)
	}
	return uint8(v), nil
}

// bitData converts a numeric literal to count bits, LSB first. Hex
// literals may be any length.
func bitData(s string, count int) ([]byte, error) {
	n := (count + 7) / 8
	var le []byte
	lower := strings.ToLower(strings.ReplaceAll(s, "_", ""))
	if strings.HasPrefix(lower, "0x") {
		digits := lower[2:]
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		be, err := hex.DecodeString(digits)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex %q", ErrInvalid, s)
		}
		for i := len(be) - 1; i >= 0; i-- {
			le = append(le, be[i])
		}
	} else {
		v, err := number(s, 64)
		if err != nil {
			return nil, err
		}
		for ; v != 0; v >>= 8 {
			le = append(le, byte(v))
		}
	}
	for len(le) > n {
		if le[len(le)-1] != 0 {
			return nil, fmt.Errorf("%w: %s does not fit in %d bits", ErrInvalid, s, count)
		}
		le = le[:len(le)-1]
	}
	out := make([]byte, n)
	copy(out, le)
	if rem := count % 8; rem != 0 && out[n-1]>>uint(rem) != 0 {
		return nil, fmt.Errorf("%w: %s does not fit in %d bits", ErrInvalid, s, count)
	}
	return out, nil
}

type expectation struct {
	value uint32
	mask  uint32
}

func compileExpect(e *Expect) (*expectation, error) {
	if e == nil {
		return nil, nil
	}
	v, err := number(e.Value, 32)
	if err != nil {
		return nil, err
	}
	x := &expectation{value: uint32(v), mask: ^uint32(0)}
	if e.Mask != "" {
		m, err := number(e.Mask, 32)
		if err != nil {
			return nil, err
		}
		x.mask = uint32(m)
	}
	return x, nil
}

func (x *expectation) String() string {
	if x.mask == ^uint32(0) {
		return fmt.Sprintf(" expect 0x%08X", x.value)
	}
	return fmt.Sprintf(" expect 0x%08X mask 0x%08X", x.value, x.mask)
}

// compileAccess turns a read or write into a transfer operation.
func compileAccess(a *Access) (dap.Operation, *expectation, error) {
	addr, err := register(a.Addr)
	if err != nil {
		return dap.Operation{}, nil, err
	}
	op := dap.Operation{Request: addr}
	if a.Port == "ap" {
		op.Request |= dap.RequestAPnDP
	}
	switch a.Op {
	case "read":
		if a.Value != "" {
			return op, nil, fmt.Errorf("%w: read takes no value", ErrInvalid)
		}
		op.Request |= dap.RequestRnW
	case "write":
		if a.Value == "" {
			return op, nil, fmt.Errorf("%w: write needs a value", ErrInvalid)
		}
		if a.Expect != nil {
			return op, nil, fmt.Errorf("%w: write takes no expectation", ErrInvalid)
		}
		v, err := number(a.Value, 32)
		if err != nil {
			return op, nil, err
		}
		op.Value = uint32(v)
	}
	x, err := compileExpect(a.Expect)
	return op, x, err
}

func describe(op dap.Operation, x *expectation) string {
	port := "dp"
	if op.AP() {
		port = "ap"
	}
	if op.Read() {
		s := fmt.Sprintf("read %s 0x%X", port, op.Addr())
		if x != nil {
			s += x.String()
		}
		return s
	}
	return fmt.Sprintf("write %s 0x%X 0x%08X", port, op.Addr(), op.Value)
}

// Compile validates every statement of s.
func Compile(s *Script) (*Program, error) {
	p := &Program{}
	for _, st := range s.Statements {
		in, err := compileStatement(st)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.Pos, err)
		}
		in.pos = st.Pos
		p.instrs = append(p.instrs, in)
	}
	return p, nil
}

func compileStatement(st *Statement) (instr, error) {
	switch {
	case st.Connect != nil:
		port := map[string]byte{"default": dap.PortDefault, "swd": dap.PortSWD, "jtag": dap.PortJTAG}[st.Connect.Port]
		return instr{text: "connect " + st.Connect.Port, exec: func(r *runner) (string, error) {
			got, err := r.c.Connect(port)
			if err != nil {
				return "", err
			}
			return dap.Port(got).String(), nil
		}}, nil

	case st.Disconnect != nil:
		return instr{text: "disconnect", exec: func(r *runner) (string, error) {
			r.pending = r.pending[:0]
			return "", r.c.Disconnect()
		}}, nil

	case st.Clock != nil:
		hz, err := number(st.Clock.Hz, 32)
		if err != nil {
			return instr{}, err
		}
		return instr{text: fmt.Sprintf("clock %d", hz), exec: func(r *runner) (string, error) {
			got, err := r.c.SetClock(uint32(hz))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d Hz", got), nil
		}}, nil

	case st.Configure != nil:
		return compileConfigure(st.Configure)

	case st.SWD != nil:
		trn, err := number(st.SWD.Turnaround, 8)
		if err != nil {
			return instr{}, err
		}
		if trn < 1 || trn > 4 {
			return instr{}, fmt.Errorf("%w: turnaround %d out of range 1..4", ErrInvalid, trn)
		}
		dataPhase := st.SWD.DataPhase
		return instr{text: fmt.Sprintf("swd turnaround %d", trn), exec: func(r *runner) (string, error) {
			return "", r.c.SWDConfigure(int(trn), dataPhase)
		}}, nil

	case st.JTAG != nil:
		irlen := make([]byte, 0, len(st.JTAG.IRLengths))
		for _, s := range st.JTAG.IRLengths {
			v, err := number(s, 8)
			if err != nil {
				return instr{}, err
			}
			if v < 1 || v > 32 {
				return instr{}, fmt.Errorf("%w: IR length %d out of range 1..32", ErrInvalid, v)
			}
			irlen = append(irlen, byte(v))
		}
		return instr{text: fmt.Sprintf("jtag irlen %v", irlen), exec: func(r *runner) (string, error) {
			return "", r.c.JTAGConfigure(irlen)
		}}, nil

	case st.Reset != nil:
		return compileReset(st.Reset)

	case st.Sequence != nil:
		bits, err := number(st.Sequence.Bits, 16)
		if err != nil {
			return instr{}, err
		}
		if bits < 1 || bits > 256 {
			return instr{}, fmt.Errorf("%w: sequence length %d out of range 1..256", ErrInvalid, bits)
		}
		data, err := bitData(st.Sequence.Data, int(bits))
		if err != nil {
			return instr{}, err
		}
		return instr{text: fmt.Sprintf("sequence %d", bits), exec: func(r *runner) (string, error) {
			return "", r.c.SWJSequence(int(bits), data)
		}}, nil

	case st.IDCode != nil:
		index, err := number(st.IDCode.Index, 8)
		if err != nil {
			return instr{}, err
		}
		x, err := compileExpect(st.IDCode.Expect)
		if err != nil {
			return instr{}, err
		}
		text := fmt.Sprintf("idcode %d", index)
		if x != nil {
			text += x.String()
		}
		return instr{text: text, exec: func(r *runner) (string, error) {
			id, err := r.c.JTAGIDCODE(byte(index))
			if err != nil {
				return "", err
			}
			return idcode.Parse(id).String(), x.check(id)
		}}, nil

	case st.Queue != nil:
		op, x, err := compileAccess(st.Queue.Access)
		if err != nil {
			return instr{}, err
		}
		return instr{text: "queue " + describe(op, x), exec: func(r *runner) (string, error) {
			depth, err := r.c.QueueAppend([]dap.Operation{op})
			if err != nil {
				return "", err
			}
			r.pending = append(r.pending, queued{op: op, expect: x})
			return fmt.Sprintf("depth %d", depth), nil
		}}, nil

	case st.Poll != nil:
		return compilePoll(st.Poll)

	case st.Access != nil:
		op, x, err := compileAccess(st.Access)
		if err != nil {
			return instr{}, err
		}
		return instr{text: describe(op, x), exec: func(r *runner) (string, error) {
			return r.transfer(op, x)
		}}, nil

	case st.Execute != nil:
		return instr{text: "execute", exec: (*runner).execute}, nil

	case st.Abort != nil:
		return instr{text: "abort", exec: func(r *runner) (string, error) {
			r.pending = r.pending[:0]
			return "", r.c.Abort()
		}}, nil

	case st.Status != nil:
		return instr{text: "status", exec: func(r *runner) (string, error) {
			s, err := r.c.Status()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s %s depth=%d protocol-errors=%d overruns=%d faults=%d timeouts=%d",
				s.State, s.Discipline, s.QueueDepth, s.ProtocolErrors, s.Overruns, s.Faults, s.Timeouts), nil
		}}, nil
	}
	return instr{}, fmt.Errorf("%w: empty statement", ErrInvalid)
}

func compileConfigure(c *Configure) (instr, error) {
	idle, err := number(c.Idle, 8)
	if err != nil {
		return instr{}, err
	}
	retry, err := number(c.Retry, 16)
	if err != nil {
		return instr{}, err
	}
	match, err := number(c.Match, 16)
	if err != nil {
		return instr{}, err
	}
	cfg := dapclient.TransferConfig{
		IdleCycles:   uint8(idle),
		WaitRetry:    uint16(retry),
		MatchRetry:   uint16(match),
		AbortOnError: c.AbortOnError,
	}
	text := fmt.Sprintf("configure idle %d retry %d match %d", idle, retry, match)
	if cfg.AbortOnError {
		text += " abort-on-error"
	}
	return instr{text: text, exec: func(r *runner) (string, error) {
		return "", r.c.TransferConfigure(cfg)
	}}, nil
}

func compileReset(rs *Reset) (instr, error) {
	var us uint64
	switch {
	case rs.Action == "pulse" && rs.Micros == "":
		return instr{}, fmt.Errorf("%w: reset pulse needs a duration in microseconds", ErrInvalid)
	case rs.Action != "pulse" && rs.Micros != "":
		return instr{}, fmt.Errorf("%w: reset %s takes no duration", ErrInvalid, rs.Action)
	case rs.Micros != "":
		var err error
		if us, err = number(rs.Micros, 32); err != nil {
			return instr{}, err
		}
	}
	assert := rs.Action == "assert"
	text := "reset " + rs.Action
	if us > 0 {
		text += fmt.Sprintf(" %d", us)
	}
	return instr{text: text, exec: func(r *runner) (string, error) {
		high, err := r.c.ResetTarget(assert, uint32(us))
		if err != nil {
			return "", err
		}
		if high {
			return "nRESET high", nil
		}
		return "nRESET low", nil
	}}, nil
}

func compilePoll(p *Poll) (instr, error) {
	addr, err := register(p.Addr)
	if err != nil {
		return instr{}, err
	}
	v, err := number(p.Value, 32)
	if err != nil {
		return instr{}, err
	}
	req := dap.RequestRnW | dap.RequestMatchValue | addr
	if p.Port == "ap" {
		req |= dap.RequestAPnDP
	}
	ops := []dap.Operation{{Request: req, Value: uint32(v)}}
	text := fmt.Sprintf("poll %s 0x%X 0x%08X", p.Port, addr, v)
	if p.Mask != "" {
		m, err := number(p.Mask, 32)
		if err != nil {
			return instr{}, err
		}
		ops = append([]dap.Operation{{Request: dap.RequestMatchMask, Value: uint32(m)}}, ops...)
		text += fmt.Sprintf(" mask 0x%08X", m)
	}
	return instr{text: text, exec: func(r *runner) (string, error) {
		batch := append([]dap.Operation(nil), ops...)
		if _, err := r.c.Transfer(batch); err != nil {
			return "", err
		}
		for _, op := range batch {
			if !op.Result.Status.OK() {
				return op.Result.Status.String(), fmt.Errorf("%w: %s", ErrTransfer, op.Result.Status)
			}
		}
		return "matched", nil
	}}, nil
}
