package probe

import (
	log "github.com/sirupsen/logrus"
)

// PacketPort is the packet-oriented USB endpoint pair the engine serves.
// TryReceive must not block.
type PacketPort interface {
	TryReceive(buf []byte) (n int, ok bool)
	Send(packet []byte) error
}

// Task moves one command packet through the engine per poll.
type Task struct {
	engine *Engine
	port   PacketPort
	buf    []byte
	log    *log.Entry
}

// NewTask binds engine to port.
func NewTask(engine *Engine, port PacketPort, logger *log.Entry) *Task {
	if logger == nil {
		logger = engine.log
	}
	return &Task{
		engine: engine,
		port:   port,
		buf:    make([]byte, engine.PacketSize()),
		log:    logger,
	}
}

// Poll handles at most one pending packet and reports whether it did any work.
func (t *Task) Poll() bool {
	n, ok := t.port.TryReceive(t.buf)
	if !ok {
		return false
	}
	resp := t.engine.Handle(t.buf[:n])
	if err := t.port.Send(resp); err != nil {
		t.log.WithError(err).Debug("response dropped")
	}
	return true
}
