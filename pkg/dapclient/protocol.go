package dapclient

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/session"
)

var (
	ErrShortResponse = errors.New("dapclient: response too short")
	ErrCommandID     = errors.New("dapclient: invalid command ID")
	ErrStatus        = errors.New("dapclient: command failed")
	ErrQueueFull     = errors.New("dapclient: probe queue full")
)

// Protocol handles encoding and decoding of probe commands.
type Protocol struct {
	PacketSize int
}

// NewProtocol creates a protocol handler for packets of packetSize bytes.
func NewProtocol(packetSize int) *Protocol {
	return &Protocol{PacketSize: packetSize}
}

// check validates the echoed command ID and the status byte.
func check(resp []byte, cmd byte, n int) error {
	if len(resp) < 1 {
		return ErrShortResponse
	}
	if resp[0] != cmd {
		return fmt.Errorf("%w: 0x%02X, want 0x%02X", ErrCommandID, resp[0], cmd)
	}
	if len(resp) < 2 {
		return ErrShortResponse
	}
	switch resp[1] {
	case dap.StatusOK:
	case dap.StatusQueueFull:
		return ErrQueueFull
	default:
		return fmt.Errorf("%w: command 0x%02X status 0x%02X", ErrStatus, cmd, resp[1])
	}
	if len(resp) < n {
		return fmt.Errorf("%w: %d bytes, want %d", ErrShortResponse, len(resp), n)
	}
	return nil
}

// EncodeInfo builds an Info command.
func (p *Protocol) EncodeInfo(id byte) []byte {
	return []byte{dap.CmdInfo, id}
}

// DecodeInfo returns the raw info payload: a string for the string ids,
// a little-endian number otherwise.
func (p *Protocol) DecodeInfo(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, ErrShortResponse
	}
	if resp[0] != dap.CmdInfo {
		return nil, fmt.Errorf("%w: 0x%02X", ErrCommandID, resp[0])
	}
	length := int(resp[1])
	if len(resp) < 2+length {
		return nil, fmt.Errorf("%w: incomplete info payload", ErrShortResponse)
	}
	return resp[2 : 2+length], nil
}

// EncodeConnect builds a Connect command.
func (p *Protocol) EncodeConnect(port byte) []byte {
	return []byte{dap.CmdConnect, port}
}

// DecodeConnect returns the port that was selected.
func (p *Protocol) DecodeConnect(resp []byte) (byte, error) {
	if len(resp) < 2 {
		return 0, ErrShortResponse
	}
	if resp[0] != dap.CmdConnect {
		return 0, fmt.Errorf("%w: 0x%02X", ErrCommandID, resp[0])
	}
	if resp[1] == dap.PortDefault {
		return 0, fmt.Errorf("%w: connection refused", ErrStatus)
	}
	return resp[1], nil
}

// EncodeDisconnect builds a Disconnect command.
func (p *Protocol) EncodeDisconnect() []byte {
	return []byte{dap.CmdDisconnect}
}

// EncodeTransferAbort builds a TransferAbort command.
func (p *Protocol) EncodeTransferAbort() []byte {
	return []byte{dap.CmdTransferAbort}
}

// DecodeStatus checks a response that carries nothing but a status.
func (p *Protocol) DecodeStatus(resp []byte, cmd byte) error {
	return check(resp, cmd, 2)
}

// TransferConfig mirrors the TransferConfigure command.
type TransferConfig struct {
	IdleCycles   uint8
	WaitRetry    uint16
	MatchRetry   uint16
	AbortOnError bool
}

// EncodeTransferConfigure builds a TransferConfigure command.
func (p *Protocol) EncodeTransferConfigure(cfg TransferConfig) []byte {
	cmd := []byte{dap.CmdTransferConfigure, cfg.IdleCycles}
	cmd = binary.LittleEndian.AppendUint16(cmd, cfg.WaitRetry)
	cmd = binary.LittleEndian.AppendUint16(cmd, cfg.MatchRetry)
	var flags byte
	if cfg.AbortOnError {
		flags |= dap.TransferAbortOnError
	}
	return append(cmd, flags)
}

// EncodeSWDConfigure builds an SWDConfigure command. turnaround is 1 to 4.
func (p *Protocol) EncodeSWDConfigure(turnaround int, dataPhase bool) []byte {
	cfg := byte(turnaround-1) & dap.SWDTurnaroundMask
	if dataPhase {
		cfg |= dap.SWDDataPhase
	}
	return []byte{dap.CmdSWDConfigure, cfg}
}

// EncodeSetClock builds an SWJClock command.
func (p *Protocol) EncodeSetClock(hz uint32) []byte {
	return binary.LittleEndian.AppendUint32([]byte{dap.CmdSWJClock}, hz)
}

// DecodeSetClock returns the achieved rate. A refused request still reports
// the rate left in effect alongside the error.
func (p *Protocol) DecodeSetClock(resp []byte) (uint32, error) {
	if len(resp) < 6 {
		if err := check(resp, dap.CmdSWJClock, 2); err != nil {
			return 0, err
		}
		return 0, ErrShortResponse
	}
	achieved := binary.LittleEndian.Uint32(resp[2:])
	return achieved, check(resp, dap.CmdSWJClock, 6)
}

// EncodeSWJSequence builds an SWJSequence command of count bits, LSB first.
func (p *Protocol) EncodeSWJSequence(count int, data []byte) []byte {
	buf := make([]byte, (count+7)/8)
	copy(buf, data)
	return append([]byte{dap.CmdSWJSequence, byte(count)}, buf...)
}

// EncodeResetTarget builds a ResetTarget command. A non-zero pulse asserts
// reset for that long and then releases it.
func (p *Protocol) EncodeResetTarget(assert bool, pulseMicros uint32) []byte {
	var a byte
	if assert {
		a = 1
	}
	return binary.LittleEndian.AppendUint32([]byte{dap.CmdResetTarget, a}, pulseMicros)
}

// DecodeResetTarget returns the sampled reset line level, true when high.
func (p *Protocol) DecodeResetTarget(resp []byte) (bool, error) {
	if err := check(resp, dap.CmdResetTarget, 3); err != nil {
		return false, err
	}
	return resp[2] != 0, nil
}

// EncodeJTAGConfigure builds a JTAGConfigure command.
func (p *Protocol) EncodeJTAGConfigure(irLengths []byte) []byte {
	cmd := make([]byte, 2+len(irLengths))
	cmd[0] = dap.CmdJTAGConfigure
	cmd[1] = byte(len(irLengths))
	copy(cmd[2:], irLengths)
	return cmd
}

// EncodeJTAGIDCODE builds a JTAGIDCODE command.
func (p *Protocol) EncodeJTAGIDCODE(index byte) []byte {
	return []byte{dap.CmdJTAGIDCODE, index}
}

// DecodeJTAGIDCODE extracts the IDCODE.
func (p *Protocol) DecodeJTAGIDCODE(resp []byte) (uint32, error) {
	if err := check(resp, dap.CmdJTAGIDCODE, 6); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(resp[2:6]), nil
}

// JTAGSequence is one JTAGSequence entry: count TCK cycles at a fixed TMS.
type JTAGSequence struct {
	Info byte
	TDI  []byte
}

// NewJTAGSequence creates a sequence descriptor. tckCount is 1 to 64.
func NewJTAGSequence(tckCount int, tms bool, captureTDO bool, tdi []byte) JTAGSequence {
	info := byte(tckCount & dap.JTAGSeqTCKMask)
	if tms {
		info |= dap.JTAGSeqTMS
	}
	if captureTDO {
		info |= dap.JTAGSeqTDO
	}
	seq := JTAGSequence{Info: info, TDI: make([]byte, (tckCount+7)/8)}
	copy(seq.TDI, tdi)
	return seq
}

// TCKCount returns the number of clocks in the sequence.
func (s JTAGSequence) TCKCount() int {
	n := int(s.Info & dap.JTAGSeqTCKMask)
	if n == 0 {
		return 64
	}
	return n
}

func (s JTAGSequence) TMS() bool        { return s.Info&dap.JTAGSeqTMS != 0 }
func (s JTAGSequence) CaptureTDO() bool { return s.Info&dap.JTAGSeqTDO != 0 }

// EncodeJTAGSequence builds a JTAGSequence command.
func (p *Protocol) EncodeJTAGSequence(seqs []JTAGSequence) []byte {
	cmd := []byte{dap.CmdJTAGSequence, byte(len(seqs))}
	for _, s := range seqs {
		cmd = append(cmd, s.Info)
		cmd = append(cmd, s.TDI...)
	}
	return cmd
}

// DecodeJTAGSequence returns the captured TDO bytes of every capturing
// sequence, in order.
func (p *Protocol) DecodeJTAGSequence(resp []byte, seqs []JTAGSequence) ([][]byte, error) {
	if err := check(resp, dap.CmdJTAGSequence, 2); err != nil {
		return nil, err
	}
	var out [][]byte
	off := 2
	for _, s := range seqs {
		if !s.CaptureTDO() {
			continue
		}
		n := (s.TCKCount() + 7) / 8
		if off+n > len(resp) {
			return nil, fmt.Errorf("%w: incomplete TDO data", ErrShortResponse)
		}
		out = append(out, append([]byte(nil), resp[off:off+n]...))
		off += n
	}
	return out, nil
}

// EncodeTransfer builds a Transfer or QueueAppend command.
func (p *Protocol) EncodeTransfer(cmd byte, ops []dap.Operation) []byte {
	return dap.AppendTransfer([]byte{cmd}, ops)
}

// DecodeTransfer fills in the results of ops and returns the index of the
// operation that stopped the batch, or -1.
func (p *Protocol) DecodeTransfer(resp []byte, cmd byte, ops []dap.Operation) (int, error) {
	if len(resp) >= 2 && resp[0] == cmd && resp[1] != dap.StatusOK {
		return -1, check(resp, cmd, 2)
	}
	return dap.ParseResults(resp, cmd, ops)
}

// DecodeQueueAppend returns the queue depth. A full queue reports its
// unchanged depth together with ErrQueueFull.
func (p *Protocol) DecodeQueueAppend(resp []byte) (int, error) {
	if len(resp) >= 3 && resp[0] == dap.CmdQueueAppend && resp[1] == dap.StatusQueueFull {
		return int(resp[2]), ErrQueueFull
	}
	if err := check(resp, dap.CmdQueueAppend, 3); err != nil {
		return 0, err
	}
	return int(resp[2]), nil
}

// Status is the decoded SessionStatus response.
type Status struct {
	State          session.State
	Discipline     session.Discipline
	ResetAsserted  bool
	AbortOnError   bool
	DataPhase      bool
	ProtocolErrors uint16
	Overruns       uint16
	Faults         uint16
	Timeouts       uint16
	QueueDepth     int
}

// Session status flag bits
const (
	flagReset        = 0x01
	flagAbortOnError = 0x02
	flagDataPhase    = 0x04
)

// EncodeSessionStatus builds a SessionStatus command.
func (p *Protocol) EncodeSessionStatus() []byte {
	return []byte{dap.CmdSessionStatus}
}

// DecodeSessionStatus parses a SessionStatus response.
func (p *Protocol) DecodeSessionStatus(resp []byte) (Status, error) {
	if len(resp) < 13 {
		return Status{}, ErrShortResponse
	}
	if resp[0] != dap.CmdSessionStatus {
		return Status{}, fmt.Errorf("%w: 0x%02X", ErrCommandID, resp[0])
	}
	le := binary.LittleEndian
	return Status{
		State:          session.State(resp[1]),
		Discipline:     session.Discipline(resp[2]),
		ResetAsserted:  resp[3]&flagReset != 0,
		AbortOnError:   resp[3]&flagAbortOnError != 0,
		DataPhase:      resp[3]&flagDataPhase != 0,
		ProtocolErrors: le.Uint16(resp[4:]),
		Overruns:       le.Uint16(resp[6:]),
		Faults:         le.Uint16(resp[8:]),
		Timeouts:       le.Uint16(resp[10:]),
		QueueDepth:     int(resp[12]),
	}, nil
}
