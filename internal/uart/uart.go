// Package uart bridges the USB serial console to a hardware serial port.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/OpenTraceLab/OpenTraceProbe/internal/usbdev"
)

// ChunkSize bounds the bytes moved in each direction per poll.
const ChunkSize = 64

var ErrLineCoding = errors.New("uart: unsupported line coding")

// Port is the hardware side. serial.Port satisfies it.
type Port interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
}

// Console is the USB side. Neither method may block.
type Console interface {
	TryRead(buf []byte) int
	TryWrite(p []byte) int
}

// Open opens a serial device at baud, 8N1.
func Open(device string, baud int) (serial.Port, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("uart: set timeout: %w", err)
	}
	return port, nil
}

// Mode converts a host line coding into a serial mode.
func Mode(lc usbdev.LineCoding) (*serial.Mode, error) {
	m := &serial.Mode{BaudRate: lc.Baud, DataBits: lc.DataBits}
	if m.BaudRate <= 0 {
		return nil, fmt.Errorf("%w: baud %d", ErrLineCoding, lc.Baud)
	}
	switch lc.DataBits {
	case 5, 6, 7, 8:
	default:
		return nil, fmt.Errorf("%w: %d data bits", ErrLineCoding, lc.DataBits)
	}
	switch lc.StopBits {
	case 0:
		m.StopBits = serial.OneStopBit
	case 1:
		m.StopBits = serial.OnePointFiveStopBits
	case 2:
		m.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %d", ErrLineCoding, lc.StopBits)
	}
	switch lc.Parity {
	case 0:
		m.Parity = serial.NoParity
	case 1:
		m.Parity = serial.OddParity
	case 2:
		m.Parity = serial.EvenParity
	case 3:
		m.Parity = serial.MarkParity
	case 4:
		m.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %d", ErrLineCoding, lc.Parity)
	}
	return m, nil
}

// Bridge copies bytes between a console and a port. Port reads happen on
// a goroutine; everything else runs inside Poll.
type Bridge struct {
	port    Port
	console Console
	log     *log.Entry

	rx     chan []byte
	toHost []byte
	buf    []byte

	mu      sync.Mutex
	pending *serial.Mode

	cancel context.CancelFunc
	wg     sync.WaitGroup

	ToTarget uint64
	ToHost   uint64
}

// NewBridge starts reading from port.
func NewBridge(port Port, console Console, logger *log.Entry) *Bridge {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		port:    port,
		console: console,
		log:     logger,
		rx:      make(chan []byte, 8),
		buf:     make([]byte, ChunkSize),
		cancel:  cancel,
	}
	b.wg.Add(1)
	go b.read(ctx)
	return b
}

func (b *Bridge) read(ctx context.Context) {
	defer b.wg.Done()
	buf := make([]byte, ChunkSize)
	for {
		n, err := b.port.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			b.log.WithError(err).Debug("port read failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}
		select {
		case b.rx <- append([]byte(nil), buf[:n]...):
		case <-ctx.Done():
			return
		}
	}
}

// SetLineCoding schedules a mode change for the next Poll. It is safe to
// call from the USB stack goroutine.
func (b *Bridge) SetLineCoding(lc usbdev.LineCoding) {
	m, err := Mode(lc)
	if err != nil {
		b.log.WithError(err).Warn("line coding ignored")
		return
	}
	b.mu.Lock()
	b.pending = m
	b.mu.Unlock()
}

// Poll applies a pending mode change and moves at most one chunk each way.
func (b *Bridge) Poll() bool {
	busy := false

	b.mu.Lock()
	m := b.pending
	b.pending = nil
	b.mu.Unlock()
	if m != nil {
		busy = true
		if err := b.port.SetMode(m); err != nil {
			b.log.WithError(err).Warn("set mode failed")
		} else {
			b.log.WithField("baud", m.BaudRate).Info("line coding changed")
		}
	}

	if n := b.console.TryRead(b.buf); n > 0 {
		busy = true
		if _, err := b.port.Write(b.buf[:n]); err != nil {
			b.log.WithError(err).Debug("port write failed")
		} else {
			b.ToTarget += uint64(n)
		}
	}

	if len(b.toHost) == 0 {
		select {
		case p := <-b.rx:
			b.toHost = p
		default:
		}
	}
	if len(b.toHost) > 0 {
		// A full console keeps the chunk for a later poll.
		if n := b.console.TryWrite(b.toHost); n > 0 {
			busy = true
			b.toHost = b.toHost[n:]
			b.ToHost += uint64(n)
		}
	}
	return busy
}

// Close stops the reader and closes the port.
func (b *Bridge) Close() error {
	b.cancel()
	err := b.port.Close()
	b.wg.Wait()
	return err
}
