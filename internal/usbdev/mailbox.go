package usbdev

import (
	"context"
	"sync"
)

// mailbox hands packets from a blocking reader goroutine to the
// non-blocking poll loop. A full mailbox holds the reader back, which in
// turn NAKs the host.
type mailbox struct {
	ch       chan []byte
	once     sync.Once
	done     chan struct{}
	leftover []byte
}

func newMailbox(depth int) *mailbox {
	return &mailbox{ch: make(chan []byte, depth), done: make(chan struct{})}
}

// put copies p into the mailbox, blocking while it is full.
func (m *mailbox) put(ctx context.Context, p []byte) bool {
	select {
	case m.ch <- append([]byte(nil), p...):
		return true
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	}
}

// tryPut copies p into the mailbox unless it is full.
func (m *mailbox) tryPut(p []byte) bool {
	select {
	case m.ch <- append([]byte(nil), p...):
		return true
	default:
		return false
	}
}

// take waits for the next packet.
func (m *mailbox) take(ctx context.Context) ([]byte, bool) {
	select {
	case p := <-m.ch:
		return p, true
	case <-ctx.Done():
		return nil, false
	case <-m.done:
		return nil, false
	}
}

// tryTake copies the next packet into buf. Packets longer than buf are
// truncated.
func (m *mailbox) tryTake(buf []byte) (int, bool) {
	select {
	case p := <-m.ch:
		return copy(buf, p), true
	default:
		return 0, false
	}
}

// tryRead is the stream view used by the console: a packet larger than
// buf is delivered over several calls.
func (m *mailbox) tryRead(buf []byte) int {
	if len(m.leftover) == 0 {
		select {
		case p := <-m.ch:
			m.leftover = p
		default:
			return 0
		}
	}
	n := copy(buf, m.leftover)
	m.leftover = m.leftover[n:]
	return n
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}
