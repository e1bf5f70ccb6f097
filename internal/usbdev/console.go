package usbdev

import (
	"context"
	"sync"

	"github.com/ardnew/softusb/device/class/cdc"
)

// LineCoding is the serial format requested by the host.
type LineCoding struct {
	Baud     int
	DataBits int
	// StopBits is 0 for one, 1 for one and a half, 2 for two.
	StopBits int
	// Parity is 0 none, 1 odd, 2 even, 3 mark, 4 space.
	Parity int
}

func fromCDC(lc *cdc.LineCoding) LineCoding {
	return LineCoding{
		Baud:     int(lc.DTERate),
		DataBits: int(lc.DataBits),
		StopBits: int(lc.CharFormat),
		Parity:   int(lc.ParityType),
	}
}

// Console is the CDC-ACM side of the serial bridge.
type Console struct {
	d   *Device
	acm *cdc.ACM
	rx  *mailbox
	tx  *mailbox

	mu       sync.Mutex
	onCoding func(LineCoding)
}

func newConsole(d *Device, acm *cdc.ACM) *Console {
	c := &Console{d: d, acm: acm, rx: newMailbox(4), tx: newMailbox(4)}
	acm.SetOnLineCodingChange(func(lc *cdc.LineCoding) {
		c.mu.Lock()
		cb := c.onCoding
		c.mu.Unlock()
		if cb != nil {
			cb(fromCDC(lc))
		}
	})
	return c
}

// OnLineCoding registers a callback for host line coding changes. It runs
// on the USB stack goroutine.
func (c *Console) OnLineCoding(cb func(LineCoding)) {
	c.mu.Lock()
	c.onCoding = cb
	c.mu.Unlock()
}

// LineCoding returns the current host line coding.
func (c *Console) LineCoding() LineCoding {
	lc := c.acm.LineCoding()
	return fromCDC(&lc)
}

// TryRead copies pending host bytes into buf without blocking.
func (c *Console) TryRead(buf []byte) int {
	return c.rx.tryRead(buf)
}

// TryWrite queues p for the host and returns len(p), or 0 when the
// outgoing queue is full. It never waits on the bus.
func (c *Console) TryWrite(p []byte) int {
	if len(p) == 0 || !c.tx.tryPut(p) {
		return 0
	}
	return len(p)
}

// drain writes queued bytes to the host. Bytes queued while no host is
// attached, or whose write times out, are dropped.
func (c *Console) drain(ctx context.Context) {
	defer c.d.wg.Done()
	defer c.tx.close()
	for {
		p, ok := c.tx.take(ctx)
		if !ok {
			return
		}
		if !c.d.Connected() {
			c.d.log.WithField("bytes", len(p)).Trace("console output dropped, no host")
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, c.d.cfg.WriteTimeout)
		_, err := c.acm.Write(wctx, p)
		cancel()
		if err != nil {
			c.d.log.WithError(err).WithField("bytes", len(p)).Debug("console output dropped")
		}
	}
}
