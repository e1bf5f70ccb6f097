// Package dapclient is the host side of the probe protocol: a command
// encoder/decoder, USB and in-process transports and a typed client.
package dapclient

import (
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dap"
)

// ProbeInfo is the identity a probe reports.
type ProbeInfo struct {
	Vendor          string
	Product         string
	Serial          string
	ProtocolVersion string
	FirmwareVersion string
	Capabilities    byte
	QueueCapacity   int
	PacketSize      int
}

// Client issues typed commands over a Transport. It is safe for concurrent
// use; each call is one exchange.
type Client struct {
	transport Transport
	protocol  *Protocol
	mu        sync.Mutex
}

// New creates a client over transport.
func New(transport Transport) *Client {
	return &Client{
		transport: transport,
		protocol:  NewProtocol(transport.PacketSize()),
	}
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Protocol exposes the encoder, for callers building their own packets.
func (c *Client) Protocol() *Protocol { return c.protocol }

func (c *Client) exchange(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(cmd) > c.protocol.PacketSize {
		return nil, fmt.Errorf("dapclient: command 0x%02X is %d bytes, packet size %d", cmd[0], len(cmd), c.protocol.PacketSize)
	}
	return c.transport.WriteRead(cmd)
}

// Raw sends a prepared packet and returns the response unchecked.
func (c *Client) Raw(cmd []byte) ([]byte, error) {
	return c.exchange(cmd)
}

// InfoBytes returns the raw payload of one Info id.
func (c *Client) InfoBytes(id byte) ([]byte, error) {
	resp, err := c.exchange(c.protocol.EncodeInfo(id))
	if err != nil {
		return nil, err
	}
	return c.protocol.DecodeInfo(resp)
}

// InfoString returns a string Info id.
func (c *Client) InfoString(id byte) (string, error) {
	b, err := c.InfoBytes(id)
	return string(b), err
}

func leUint(b []byte) int {
	v := 0
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int(b[i])
	}
	return v
}

// Info queries every identity field.
func (c *Client) Info() (ProbeInfo, error) {
	var info ProbeInfo
	strs := []struct {
		id  byte
		dst *string
	}{
		{dap.InfoVendor, &info.Vendor},
		{dap.InfoProduct, &info.Product},
		{dap.InfoSerial, &info.Serial},
		{dap.InfoProtocolVersion, &info.ProtocolVersion},
		{dap.InfoFirmwareVersion, &info.FirmwareVersion},
	}
	for _, s := range strs {
		v, err := c.InfoString(s.id)
		if err != nil {
			return info, fmt.Errorf("info 0x%02X: %w", s.id, err)
		}
		*s.dst = v
	}

	nums := []struct {
		id  byte
		dst func(int)
	}{
		{dap.InfoCapabilities, func(v int) { info.Capabilities = byte(v) }},
		{dap.InfoQueueCapacity, func(v int) { info.QueueCapacity = v }},
		{dap.InfoPacketSize, func(v int) { info.PacketSize = v }},
	}
	for _, n := range nums {
		b, err := c.InfoBytes(n.id)
		if err != nil {
			return info, fmt.Errorf("info 0x%02X: %w", n.id, err)
		}
		n.dst(leUint(b))
	}
	return info, nil
}

// Connect selects a wire discipline and returns the port in effect.
func (c *Client) Connect(port byte) (byte, error) {
	resp, err := c.exchange(c.protocol.EncodeConnect(port))
	if err != nil {
		return 0, err
	}
	return c.protocol.DecodeConnect(resp)
}

func (c *Client) status(cmd []byte) error {
	resp, err := c.exchange(cmd)
	if err != nil {
		return err
	}
	return c.protocol.DecodeStatus(resp, cmd[0])
}

// Disconnect releases the debug pins.
func (c *Client) Disconnect() error {
	return c.status(c.protocol.EncodeDisconnect())
}

// Abort drops queued operations; the probe must be reconnected afterwards.
func (c *Client) Abort() error {
	return c.status(c.protocol.EncodeTransferAbort())
}

// SetClock requests a clock rate and returns the achieved one.
func (c *Client) SetClock(hz uint32) (uint32, error) {
	resp, err := c.exchange(c.protocol.EncodeSetClock(hz))
	if err != nil {
		return 0, err
	}
	return c.protocol.DecodeSetClock(resp)
}

// ResetTarget drives the reset line and returns its sampled level.
func (c *Client) ResetTarget(assert bool, pulseMicros uint32) (bool, error) {
	resp, err := c.exchange(c.protocol.EncodeResetTarget(assert, pulseMicros))
	if err != nil {
		return false, err
	}
	return c.protocol.DecodeResetTarget(resp)
}

// TransferConfigure sets the transfer policy.
func (c *Client) TransferConfigure(cfg TransferConfig) error {
	return c.status(c.protocol.EncodeTransferConfigure(cfg))
}

// SWDConfigure sets the turnaround length and data phase option.
func (c *Client) SWDConfigure(turnaround int, dataPhase bool) error {
	if turnaround < 1 || turnaround > 4 {
		return fmt.Errorf("dapclient: turnaround %d out of range 1..4", turnaround)
	}
	return c.status(c.protocol.EncodeSWDConfigure(turnaround, dataPhase))
}

// SWJSequence clocks count bits of data out on SWDIO/TMS.
func (c *Client) SWJSequence(count int, data []byte) error {
	if count < 1 || count > 256 {
		return fmt.Errorf("dapclient: sequence length %d out of range 1..256", count)
	}
	return c.status(c.protocol.EncodeSWJSequence(count, data))
}

// JTAGConfigure describes the scan chain, device 0 nearest TDO.
func (c *Client) JTAGConfigure(irLengths []byte) error {
	return c.status(c.protocol.EncodeJTAGConfigure(irLengths))
}

// JTAGIDCODE reads the IDCODE of one device on the chain.
func (c *Client) JTAGIDCODE(index byte) (uint32, error) {
	resp, err := c.exchange(c.protocol.EncodeJTAGIDCODE(index))
	if err != nil {
		return 0, err
	}
	return c.protocol.DecodeJTAGIDCODE(resp)
}

// JTAGSequence runs raw sequences and returns captured TDO data.
func (c *Client) JTAGSequence(seqs []JTAGSequence) ([][]byte, error) {
	resp, err := c.exchange(c.protocol.EncodeJTAGSequence(seqs))
	if err != nil {
		return nil, err
	}
	return c.protocol.DecodeJTAGSequence(resp, seqs)
}

// Transfer executes ops immediately and fills in their results. It returns
// the index of the operation that stopped the batch, or -1.
func (c *Client) Transfer(ops []dap.Operation) (int, error) {
	resp, err := c.exchange(c.protocol.EncodeTransfer(dap.CmdTransfer, ops))
	if err != nil {
		return -1, err
	}
	return c.protocol.DecodeTransfer(resp, dap.CmdTransfer, ops)
}

// QueueAppend adds ops to the probe queue and returns its depth.
func (c *Client) QueueAppend(ops []dap.Operation) (int, error) {
	resp, err := c.exchange(c.protocol.EncodeTransfer(dap.CmdQueueAppend, ops))
	if err != nil {
		return 0, err
	}
	return c.protocol.DecodeQueueAppend(resp)
}

// Execute runs the probe queue. The probe reports one result per queued
// operation; ops must hold exactly the queued requests in order.
func (c *Client) Execute(ops []dap.Operation) (int, error) {
	resp, err := c.exchange([]byte{dap.CmdQueueExecute})
	if err != nil {
		return -1, err
	}
	return c.protocol.DecodeTransfer(resp, dap.CmdQueueExecute, ops)
}

// Status returns the session status.
func (c *Client) Status() (Status, error) {
	resp, err := c.exchange(c.protocol.EncodeSessionStatus())
	if err != nil {
		return Status{}, err
	}
	return c.protocol.DecodeSessionStatus(resp)
}

// ReadDP reads one DP register.
func (c *Client) ReadDP(addr uint8) (uint32, dap.Status, error) {
	return c.read(addr & 0x0C)
}

// ReadAP reads one AP register of the currently selected bank.
func (c *Client) ReadAP(addr uint8) (uint32, dap.Status, error) {
	return c.read(dap.RequestAPnDP | addr&0x0C)
}

func (c *Client) read(req byte) (uint32, dap.Status, error) {
	ops := []dap.Operation{{Request: dap.RequestRnW | req}}
	if _, err := c.Transfer(ops); err != nil {
		return 0, 0, err
	}
	return ops[0].Result.Data, ops[0].Result.Status, nil
}

// WriteDP writes one DP register.
func (c *Client) WriteDP(addr uint8, v uint32) (dap.Status, error) {
	return c.write(addr&0x0C, v)
}

// WriteAP writes one AP register of the currently selected bank.
func (c *Client) WriteAP(addr uint8, v uint32) (dap.Status, error) {
	return c.write(dap.RequestAPnDP|addr&0x0C, v)
}

func (c *Client) write(req byte, v uint32) (dap.Status, error) {
	ops := []dap.Operation{{Request: req, Value: v}}
	if _, err := c.Transfer(ops); err != nil {
		return 0, err
	}
	return ops[0].Result.Status, nil
}
