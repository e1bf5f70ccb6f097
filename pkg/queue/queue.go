// Package queue implements the bounded FIFO of transfer operations that a
// host fills with QueueAppend and drains with QueueExecute.
package queue

import (
	"errors"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
)

// ErrFull is returned when an append would exceed the queue capacity.
var ErrFull = errors.New("queue: full")

// Queue is a fixed-capacity ring of operations. It never grows.
type Queue struct {
	ring []dap.Operation
	head int
	n    int
}

// New creates a queue holding at most capacity operations.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ring: make([]dap.Operation, capacity)}
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return len(q.ring) }

// Len returns the number of queued operations.
func (q *Queue) Len() int { return q.n }

// Free returns the number of operations that can still be appended.
func (q *Queue) Free() int { return len(q.ring) - q.n }

// Push appends one operation.
func (q *Queue) Push(op dap.Operation) error {
	if q.n == len(q.ring) {
		return ErrFull
	}
	q.ring[(q.head+q.n)%len(q.ring)] = op
	q.n++
	return nil
}

// PushAll appends every op or none of them. On ErrFull the queued entries
// are left exactly as they were.
func (q *Queue) PushAll(ops []dap.Operation) error {
	if len(ops) > q.Free() {
		return ErrFull
	}
	for _, op := range ops {
		q.ring[(q.head+q.n)%len(q.ring)] = op
		q.n++
	}
	return nil
}

// Pop removes and returns the oldest operation.
func (q *Queue) Pop() (dap.Operation, bool) {
	if q.n == 0 {
		return dap.Operation{}, false
	}
	op := q.ring[q.head]
	q.ring[q.head] = dap.Operation{}
	q.head = (q.head + 1) % len(q.ring)
	q.n--
	return op, true
}

// Peek returns the i-th queued operation without removing it.
func (q *Queue) Peek(i int) (dap.Operation, bool) {
	if i < 0 || i >= q.n {
		return dap.Operation{}, false
	}
	return q.ring[(q.head+i)%len(q.ring)], true
}

// Clear drops every queued operation.
func (q *Queue) Clear() {
	for q.n > 0 {
		q.Pop()
	}
	q.head = 0
}
