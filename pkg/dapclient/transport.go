package dapclient

import (
	"sync"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/probe"
)

// Transport moves one command packet to the probe and returns its response.
type Transport interface {
	WriteRead(cmd []byte) ([]byte, error)
	PacketSize() int
	Close() error
}

// EngineTransport runs commands through an in-process engine, typically
// wired to the simulated target.
type EngineTransport struct {
	mu     sync.Mutex
	engine *probe.Engine
}

// NewEngineTransport wraps engine.
func NewEngineTransport(engine *probe.Engine) *EngineTransport {
	return &EngineTransport{engine: engine}
}

// WriteRead implements Transport.
func (t *EngineTransport) WriteRead(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.engine.Handle(cmd), nil
}

// PacketSize implements Transport.
func (t *EngineTransport) PacketSize() int { return t.engine.PacketSize() }

// Close implements Transport.
func (t *EngineTransport) Close() error { return nil }
