package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecthomas/participle/v2/lexer"
	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dapclient"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/idcode"
)

var (
	ErrExpect   = errors.New("script: value mismatch")
	ErrTransfer = errors.New("script: transfer failed")
)

// Step is the outcome of one statement.
type Step struct {
	Pos    lexer.Position
	Text   string
	Result string
	Err    error
}

func (s Step) String() string {
	out := fmt.Sprintf("%d: %s", s.Pos.Line, s.Text)
	if s.Result != "" {
		out += " -> " + s.Result
	}
	if s.Err != nil {
		out += " FAILED: " + s.Err.Error()
	}
	return out
}

type queued struct {
	op     dap.Operation
	expect *expectation
}

type runner struct {
	c       *dapclient.Client
	pending []queued
}

func (x *expectation) check(v uint32) error {
	if x == nil || v&x.mask == x.value&x.mask {
		return nil
	}
	return fmt.Errorf("%w: got 0x%08X, want 0x%08X (mask 0x%08X)", ErrExpect, v, x.value, x.mask)
}

func result(op dap.Operation) string {
	if op.ReturnsData() {
		if !op.AP() && op.Addr() == dap.DPIDCode {
			return idcode.ParseDPIDR(op.Result.Data).String()
		}
		return fmt.Sprintf("0x%08X", op.Result.Data)
	}
	return op.Result.Status.String()
}

func (r *runner) transfer(op dap.Operation, x *expectation) (string, error) {
	ops := []dap.Operation{op}
	if _, err := r.c.Transfer(ops); err != nil {
		return "", err
	}
	if st := ops[0].Result.Status; !st.OK() {
		return st.String(), fmt.Errorf("%w: %s", ErrTransfer, st)
	}
	return result(ops[0]), x.check(ops[0].Result.Data)
}

func (r *runner) execute() (string, error) {
	ops := make([]dap.Operation, len(r.pending))
	for i, q := range r.pending {
		ops[i] = q.op
	}
	pending := r.pending
	r.pending = r.pending[:0]

	fail, err := r.c.Execute(ops)
	if err != nil {
		return "", err
	}
	summary := fmt.Sprintf("%d operations", len(ops))
	if fail >= 0 {
		st := ops[fail].Result.Status
		return summary, fmt.Errorf("%w: operation %d (%s): %s", ErrTransfer, fail, ops[fail], st)
	}
	for i, op := range ops {
		if !op.Result.Status.OK() {
			return summary, fmt.Errorf("%w: operation %d (%s): %s", ErrTransfer, i, op, op.Result.Status)
		}
		if err := pending[i].expect.check(op.Result.Data); err != nil {
			return summary, fmt.Errorf("operation %d (%s): %w", i, op, err)
		}
	}
	return summary, nil
}

// RunProgram executes p statement by statement and stops at the first
// failure. report, when set, sees every step including the failing one.
func RunProgram(ctx context.Context, c *dapclient.Client, p *Program, report func(Step)) error {
	r := &runner{c: c}
	for _, in := range p.instrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := in.exec(r)
		step := Step{Pos: in.pos, Text: in.text, Result: res, Err: err}
		if report != nil {
			report(step)
		}
		if err != nil {
			return fmt.Errorf("%s: %s: %w", in.pos, in.text, err)
		}
	}
	return nil
}

// Run compiles s and executes it through c.
func Run(ctx context.Context, c *dapclient.Client, s *Script, report func(Step)) error {
	p, err := Compile(s)
	if err != nil {
		return err
	}
	return RunProgram(ctx, c, p, report)
}

// LogSteps returns a report function that logs each step.
func LogSteps(logger *log.Entry) func(Step) {
	return func(s Step) {
		e := logger.WithField("line", s.Pos.Line)
		if s.Result != "" {
			e = e.WithField("result", s.Result)
		}
		if s.Err != nil {
			e.WithError(s.Err).Warn(s.Text)
			return
		}
		e.Info(s.Text)
	}
}
