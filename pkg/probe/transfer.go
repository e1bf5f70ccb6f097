package probe

import (
	"errors"
	"math"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/queue"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/session"
)

func (e *Engine) transfer(p []byte) ([]byte, error) {
	if err := e.requireConnected(); err != nil {
		return nil, err
	}
	if e.s.State == session.StateQueuing {
		return nil, ErrQueuePending
	}
	ops, err := dap.ParseTransfer(p, e.maxOps)
	if err != nil {
		return nil, err
	}
	if err := e.checkIndex(ops); err != nil {
		return nil, err
	}

	fail := -1
	for i := range ops {
		e.step(&ops[i], i, &fail)
	}
	return dap.AppendResults(make([]byte, 0, e.cfg.PacketSize), dap.CmdTransfer, ops, fail), nil
}

func (e *Engine) queueAppend(p []byte) ([]byte, error) {
	if err := e.requireConnected(); err != nil {
		return nil, err
	}
	// Only the wire bounds the count here; the queue reports overruns.
	ops, err := dap.ParseTransfer(p, math.MaxUint8)
	if err != nil {
		return nil, err
	}
	if err := e.checkIndex(ops); err != nil {
		return nil, err
	}

	if err := e.q.PushAll(ops); err != nil {
		if !errors.Is(err, queue.ErrFull) {
			return nil, err
		}
		e.s.NoteOverrun()
		e.log.WithField("depth", e.q.Len()).WithField("rejected", len(ops)).Debug("queue overrun")
		return []byte{dap.CmdQueueAppend, dap.StatusQueueFull, byte(e.q.Len())}, nil
	}
	if e.q.Len() > 0 {
		e.s.State = session.StateQueuing
	}
	return []byte{dap.CmdQueueAppend, dap.StatusOK, byte(e.q.Len())}, nil
}

func (e *Engine) queueExecute([]byte) ([]byte, error) {
	if err := e.requireConnected(); err != nil {
		return nil, err
	}
	e.s.State = session.StateExecuting
	ops := make([]dap.Operation, 0, e.q.Len())
	fail := -1
	for {
		op, ok := e.q.Pop()
		if !ok {
			break
		}
		e.step(&op, len(ops), &fail)
		ops = append(ops, op)
	}
	e.s.State = session.StateConnected
	return dap.AppendResults(make([]byte, 0, e.cfg.PacketSize), dap.CmdQueueExecute, ops, fail), nil
}

// step executes op unless an earlier operation stopped the batch.
func (e *Engine) step(op *dap.Operation, i int, fail *int) {
	if *fail >= 0 {
		op.Result = dap.Result{Status: dap.StatusNotExecuted}
		return
	}
	e.execute(op)
	if e.s.Transfer.AbortOnError && !op.Result.Status.OK() {
		*fail = i
		e.log.WithField("index", i).WithField("status", op.Result.Status).Debug("batch stopped")
	}
}

func (e *Engine) execute(op *dap.Operation) {
	switch {
	case op.SetsMask():
		e.s.MatchMask = op.Value
		op.Result = dap.Result{Status: dap.StatusAckOK}
	case op.MatchRead():
		e.matchRead(op)
	case op.Read():
		op.Result = e.read(op.Index, op.Request)
	default:
		op.Result = e.attempt(op.Index, op.Request, op.Value)
	}

	switch op.Result.Status {
	case dap.StatusProtocolError, dap.StatusParityError:
		e.s.NoteProtocolError()
	case dap.StatusAckFault:
		e.s.NoteFault()
	case dap.StatusTimeout:
		e.s.NoteTimeout()
	}
}

// attempt runs one transaction, retrying on WAIT up to the configured
// budget. With a zero budget WAIT is reported as is.
func (e *Engine) attempt(index uint8, req byte, value uint32) dap.Result {
	budget := int(e.s.Transfer.WaitRetry)
	for n := 0; ; n++ {
		r := e.codec.Transfer(index, req, value)
		if r.Status != dap.StatusAckWait || budget == 0 {
			return r
		}
		if n >= budget {
			return dap.Result{Status: dap.StatusTimeout}
		}
	}
}

// read returns the register value, following a posted read with RDBUFF.
func (e *Engine) read(index uint8, req byte) dap.Result {
	r := e.attempt(index, req, 0)
	if r.Status.OK() && e.codec.Posted(req) {
		r = e.attempt(index, dap.ReadRDBuff, 0)
	}
	return r
}

func (e *Engine) matchRead(op *dap.Operation) {
	for n := 0; ; n++ {
		op.Result = e.read(op.Index, op.Request)
		if !op.Result.Status.OK() {
			return
		}
		if op.Result.Data&e.s.MatchMask == op.Value {
			return
		}
		if n >= int(e.s.Transfer.MatchRetry) {
			op.Result.Status = dap.StatusMismatch
			return
		}
	}
}
