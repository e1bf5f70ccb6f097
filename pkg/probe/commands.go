package probe

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/session"
)

func short(payload []byte, n int) error {
	if len(payload) < n {
		return fmt.Errorf("%w: have %d bytes, need %d", dap.ErrShortPayload, len(payload), n)
	}
	return nil
}

func (e *Engine) info(p []byte) ([]byte, error) {
	if err := short(p, 1); err != nil {
		return nil, err
	}
	resp := []byte{dap.CmdInfo, 0}
	str := func(s string) ([]byte, error) {
		if len(s) > e.cfg.PacketSize-2 {
			s = s[:e.cfg.PacketSize-2]
		}
		resp[1] = byte(len(s))
		return append(resp, s...), nil
	}

	switch p[0] {
	case dap.InfoVendor:
		return str(e.cfg.Info.Vendor)
	case dap.InfoProduct:
		return str(e.cfg.Info.Product)
	case dap.InfoSerial:
		return str(e.cfg.Info.Serial)
	case dap.InfoProtocolVersion:
		return str(ProtocolVersion)
	case dap.InfoTargetVendor:
		return str(e.cfg.Info.TargetVendor)
	case dap.InfoTargetName:
		return str(e.cfg.Info.TargetName)
	case dap.InfoFirmwareVersion:
		return str(e.cfg.Info.FirmwareVersion)
	case dap.InfoCapabilities:
		return []byte{dap.CmdInfo, 1, e.cfg.Capabilities}, nil
	case dap.InfoQueueCapacity:
		return []byte{dap.CmdInfo, 1, byte(e.q.Cap())}, nil
	case dap.InfoPacketCount:
		return []byte{dap.CmdInfo, 1, 1}, nil
	case dap.InfoPacketSize:
		return binary.LittleEndian.AppendUint16([]byte{dap.CmdInfo, 2}, uint16(e.cfg.PacketSize)), nil
	}
	return resp, nil
}

func (e *Engine) connect(p []byte) ([]byte, error) {
	if err := short(p, 1); err != nil {
		return nil, err
	}
	port := p[0]
	if port == dap.PortDefault {
		port = dap.PortSWD
		if e.cfg.Capabilities&dap.CapSWD == 0 {
			port = dap.PortJTAG
		}
	}

	switch {
	case port == dap.PortSWD && e.cfg.Capabilities&dap.CapSWD != 0:
		e.q.Clear()
		e.drv.SetupSWD()
		e.s.Connect(session.DisciplineSWD)
	case port == dap.PortJTAG && e.cfg.Capabilities&dap.CapJTAG != 0:
		e.q.Clear()
		e.drv.SetupJTAG()
		e.s.Connect(session.DisciplineJTAG)
		e.codec.ResetTAP()
	default:
		e.log.WithField("port", dap.Port(p[0])).Debug("connect refused")
		return []byte{dap.CmdConnect, 0}, nil
	}
	e.log.WithField("port", dap.Port(port)).Debug("connected")
	return []byte{dap.CmdConnect, port}, nil
}

func (e *Engine) disconnect([]byte) ([]byte, error) {
	e.q.Clear()
	e.s.Disconnect()
	e.drv.Release()
	e.log.Debug("disconnected")
	return []byte{dap.CmdDisconnect, dap.StatusOK}, nil
}

// abort drops queued work and returns to Idle; the pins stay configured.
func (e *Engine) abort([]byte) ([]byte, error) {
	dropped := e.q.Len()
	e.q.Clear()
	e.s.Disconnect()
	e.log.WithField("dropped", dropped).Debug("transfer abort")
	return []byte{dap.CmdTransferAbort, dap.StatusOK}, nil
}

func (e *Engine) transferConfigure(p []byte) ([]byte, error) {
	if err := short(p, 5); err != nil {
		return nil, err
	}
	cfg := &e.s.Transfer
	cfg.IdleCycles = p[0]
	cfg.WaitRetry = binary.LittleEndian.Uint16(p[1:])
	cfg.MatchRetry = binary.LittleEndian.Uint16(p[3:])
	if len(p) >= 6 {
		cfg.AbortOnError = p[5]&dap.TransferAbortOnError != 0
	}
	return []byte{dap.CmdTransferConfigure, dap.StatusOK}, nil
}

func (e *Engine) swdConfigure(p []byte) ([]byte, error) {
	if err := short(p, 1); err != nil {
		return nil, err
	}
	e.s.SWD.Turnaround = p[0]&dap.SWDTurnaroundMask + 1
	e.s.SWD.DataPhase = p[0]&dap.SWDDataPhase != 0
	return []byte{dap.CmdSWDConfigure, dap.StatusOK}, nil
}

func (e *Engine) swjClock(p []byte) ([]byte, error) {
	if err := short(p, 4); err != nil {
		return nil, err
	}
	hz := binary.LittleEndian.Uint32(p)
	status := byte(dap.StatusOK)
	if _, err := e.s.SetClock(physic.Frequency(hz) * physic.Hertz); err != nil {
		e.log.WithError(err).Debug("clock request refused")
		status = dap.StatusError
	}
	resp := []byte{dap.CmdSWJClock, status}
	return binary.LittleEndian.AppendUint32(resp, e.s.ClockHz()), nil
}

func (e *Engine) swjSequence(p []byte) ([]byte, error) {
	if err := e.requireConnected(); err != nil {
		return nil, err
	}
	if err := short(p, 1); err != nil {
		return nil, err
	}
	count := int(p[0])
	if count == 0 {
		count = 256
	}
	if err := short(p[1:], (count+7)/8); err != nil {
		return nil, err
	}
	e.drv.Sequence(p[1:], count)
	e.s.InvalidateIR()
	return []byte{dap.CmdSWJSequence, dap.StatusOK}, nil
}

func (e *Engine) resetTarget(p []byte) ([]byte, error) {
	if err := short(p, 5); err != nil {
		return nil, err
	}
	assert := p[0]&1 != 0
	pulse := time.Duration(binary.LittleEndian.Uint32(p[1:])) * time.Microsecond
	if pulse > e.cfg.MaxResetPulse {
		return nil, fmt.Errorf("%w: %s > %s", ErrResetTooLong, pulse, e.cfg.MaxResetPulse)
	}

	if pulse > 0 {
		e.drv.SetReset(true)
		e.drv.Wait(pulse)
		assert = false
	}
	e.drv.SetReset(assert)
	e.s.ResetAsserted = assert

	level := byte(0)
	if e.drv.ResetLevel() {
		level = 1
	}
	return []byte{dap.CmdResetTarget, dap.StatusOK, level}, nil
}

func (e *Engine) jtagConfigure(p []byte) ([]byte, error) {
	if err := short(p, 1); err != nil {
		return nil, err
	}
	n := int(p[0])
	if err := short(p[1:], n); err != nil {
		return nil, err
	}
	if err := e.s.SetChain(p[1 : 1+n]); err != nil {
		return nil, err
	}
	return []byte{dap.CmdJTAGConfigure, dap.StatusOK}, nil
}

func (e *Engine) jtagIDCode(p []byte) ([]byte, error) {
	if err := e.requireJTAG(); err != nil {
		return nil, err
	}
	if err := short(p, 1); err != nil {
		return nil, err
	}
	id, err := e.codec.IDCode(int(p[0]))
	if err != nil {
		return nil, err
	}
	return binary.LittleEndian.AppendUint32([]byte{dap.CmdJTAGIDCODE, dap.StatusOK}, id), nil
}

func (e *Engine) jtagSequence(p []byte) ([]byte, error) {
	if err := e.requireJTAG(); err != nil {
		return nil, err
	}
	if err := short(p, 1); err != nil {
		return nil, err
	}
	count := int(p[0])
	p = p[1:]
	resp := []byte{dap.CmdJTAGSequence, dap.StatusOK}
	for i := 0; i < count; i++ {
		if err := short(p, 1); err != nil {
			return nil, err
		}
		info := p[0]
		n := int(info & dap.JTAGSeqTCKMask)
		if n == 0 {
			n = 64
		}
		nbytes := (n + 7) / 8
		if err := short(p[1:], nbytes); err != nil {
			return nil, err
		}
		var tdi uint64
		for j := 0; j < nbytes; j++ {
			tdi |= uint64(p[1+j]) << (8 * uint(j))
		}
		p = p[1+nbytes:]

		tdo := e.codec.Sequence(info&dap.JTAGSeqTMS != 0, tdi, n)
		if info&dap.JTAGSeqTDO != 0 {
			if len(resp)+nbytes > e.cfg.PacketSize {
				return nil, ErrResponseSize
			}
			for j := 0; j < nbytes; j++ {
				resp = append(resp, byte(tdo>>(8*uint(j))))
			}
		}
	}
	return resp, nil
}

// Session status flag bits
const (
	StatusFlagReset        = 0x01
	StatusFlagAbortOnError = 0x02
	StatusFlagDataPhase    = 0x04
)

func (e *Engine) sessionStatus([]byte) ([]byte, error) {
	var flags byte
	if e.s.ResetAsserted {
		flags |= StatusFlagReset
	}
	if e.s.Transfer.AbortOnError {
		flags |= StatusFlagAbortOnError
	}
	if e.s.SWD.DataPhase {
		flags |= StatusFlagDataPhase
	}
	c := e.s.Counters()
	resp := []byte{dap.CmdSessionStatus, byte(e.s.State), byte(e.s.Discipline), flags}
	resp = binary.LittleEndian.AppendUint16(resp, c.ProtocolErrors)
	resp = binary.LittleEndian.AppendUint16(resp, c.Overruns)
	resp = binary.LittleEndian.AppendUint16(resp, c.Faults)
	resp = binary.LittleEndian.AppendUint16(resp, c.Timeouts)
	return append(resp, byte(e.q.Len())), nil
}
