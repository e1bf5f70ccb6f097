// Package probe is the protocol engine of the debug probe: it decodes host
// command packets, drives the session state machine, executes transfers
// inline or through the queue and assembles the response packet.
package probe

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/codec"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/queue"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/session"
)

var (
	ErrNotConnected    = errors.New("probe: no wire discipline selected")
	ErrWrongDiscipline = errors.New("probe: command not valid for the selected discipline")
	ErrQueuePending    = errors.New("probe: queued operations pending")
	ErrResponseSize    = errors.New("probe: response would exceed packet size")
	ErrResetTooLong    = errors.New("probe: reset pulse exceeds limit")
)

// ProtocolVersion is reported by InfoProtocolVersion.
const ProtocolVersion = "2.1.0"

// Info is the static identity reported by the Info command.
type Info struct {
	Vendor          string
	Product         string
	Serial          string
	FirmwareVersion string
	TargetVendor    string
	TargetName      string
}

// Config fixes the engine's resources at construction.
type Config struct {
	Info Info
	// PacketSize bounds both request and response packets.
	PacketSize int
	// QueueCapacity is clamped to what one result block can report.
	QueueCapacity int
	Capabilities  byte
	MaxResetPulse time.Duration
	// Delay implements clock half periods; nil busy-waits.
	Delay func(time.Duration)
}

// DefaultConfig describes a full-speed USB probe.
var DefaultConfig = Config{
	Info: Info{
		Vendor:          "OpenTraceLab",
		Product:         "OpenTraceProbe CMSIS-DAP",
		FirmwareVersion: "0.1.0",
	},
	PacketSize:    64,
	QueueCapacity: 12,
	Capabilities:  dap.CapSWD | dap.CapJTAG | dap.CapQueue,
	MaxResetPulse: 500 * time.Millisecond,
}

type handler func(payload []byte) ([]byte, error)

// Engine owns the session, queue, codec and driver. Every command runs to
// completion inside Handle; it is not safe for concurrent use.
type Engine struct {
	cfg      Config
	s        *session.Session
	q        *queue.Queue
	drv      *bitbang.Driver
	codec    *codec.Codec
	log      *log.Entry
	maxOps   int
	handlers map[byte]handler
	handled  uint64
}

// NewEngine creates an engine driving pins with session s.
func NewEngine(cfg Config, pins bitbang.Pins, s *session.Session, logger *log.Entry) *Engine {
	if cfg.PacketSize < 8 {
		cfg.PacketSize = DefaultConfig.PacketSize
	}
	maxOps := dap.MaxOperations(cfg.PacketSize)
	if cfg.QueueCapacity < 1 || cfg.QueueCapacity > maxOps {
		cfg.QueueCapacity = maxOps
	}
	if cfg.MaxResetPulse <= 0 {
		cfg.MaxResetPulse = DefaultConfig.MaxResetPulse
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	drv := bitbang.NewDriver(pins, s, cfg.Delay)
	e := &Engine{
		cfg:    cfg,
		s:      s,
		q:      queue.New(cfg.QueueCapacity),
		drv:    drv,
		codec:  codec.New(drv, s),
		log:    logger,
		maxOps: maxOps,
	}
	e.handlers = map[byte]handler{
		dap.CmdInfo:              e.info,
		dap.CmdConnect:           e.connect,
		dap.CmdDisconnect:        e.disconnect,
		dap.CmdTransferConfigure: e.transferConfigure,
		dap.CmdTransfer:          e.transfer,
		dap.CmdTransferAbort:     e.abort,
		dap.CmdResetTarget:       e.resetTarget,
		dap.CmdSWJClock:          e.swjClock,
		dap.CmdSWJSequence:       e.swjSequence,
		dap.CmdSWDConfigure:      e.swdConfigure,
		dap.CmdJTAGSequence:      e.jtagSequence,
		dap.CmdJTAGConfigure:     e.jtagConfigure,
		dap.CmdJTAGIDCODE:        e.jtagIDCode,
		dap.CmdQueueAppend:       e.queueAppend,
		dap.CmdQueueExecute:      e.queueExecute,
		dap.CmdSessionStatus:     e.sessionStatus,
	}
	return e
}

// Session exposes the session for status displays.
func (e *Engine) Session() *session.Session { return e.s }

// PacketSize is the negotiated packet size.
func (e *Engine) PacketSize() int { return e.cfg.PacketSize }

// QueueCapacity is the effective queue capacity.
func (e *Engine) QueueCapacity() int { return e.q.Cap() }

// Handled counts command packets processed, for activity indication.
func (e *Engine) Handled() uint64 { return e.handled }

// Connected reports whether a wire discipline is selected.
func (e *Engine) Connected() bool { return e.s.Connected() }

// Handle processes one command packet and returns its response. It never
// fails: malformed input yields an error status.
func (e *Engine) Handle(req []byte) []byte {
	if len(req) == 0 {
		return []byte{dap.CmdInvalid}
	}
	e.handled++

	cmd := req[0]
	h, ok := e.handlers[cmd]
	if !ok {
		e.log.WithField("cmd", fmt.Sprintf("0x%02X", cmd)).Debug("unknown command")
		return []byte{dap.CmdInvalid}
	}
	resp, err := h(req[1:])
	if err != nil {
		e.log.WithError(err).WithField("cmd", fmt.Sprintf("0x%02X", cmd)).Debug("command rejected")
		return []byte{cmd, dap.StatusError}
	}
	if len(resp) > e.cfg.PacketSize {
		e.log.WithField("cmd", fmt.Sprintf("0x%02X", cmd)).Warn("response truncated to packet size")
		resp = resp[:e.cfg.PacketSize]
	}
	return resp
}

func (e *Engine) requireConnected() error {
	if !e.s.Connected() {
		return ErrNotConnected
	}
	return nil
}

func (e *Engine) requireJTAG() error {
	if err := e.requireConnected(); err != nil {
		return err
	}
	if e.s.Discipline != session.DisciplineJTAG {
		return ErrWrongDiscipline
	}
	return nil
}

func (e *Engine) checkIndex(ops []dap.Operation) error {
	if e.s.Discipline != session.DisciplineJTAG || len(ops) == 0 {
		return nil
	}
	if int(ops[0].Index) >= e.s.ChainLength() {
		return fmt.Errorf("%w: device %d of %d", codec.ErrDeviceIndex, ops[0].Index, e.s.ChainLength())
	}
	return nil
}
