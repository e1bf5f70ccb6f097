// Package dap defines the command set, transfer request format and status
// codes shared by the probe firmware and its host-side clients.
package dap

// Command IDs
const (
	CmdInfo              = 0x00
	CmdConnect           = 0x02
	CmdDisconnect        = 0x03
	CmdTransferConfigure = 0x04
	CmdTransfer          = 0x05
	CmdTransferAbort     = 0x07
	CmdResetTarget       = 0x0A
	CmdSWJClock          = 0x11
	CmdSWJSequence       = 0x12
	CmdSWDConfigure      = 0x13
	CmdJTAGSequence      = 0x14
	CmdJTAGConfigure     = 0x15
	CmdJTAGIDCODE        = 0x16
	CmdQueueAppend       = 0x7E
	CmdQueueExecute      = 0x7F
	CmdSessionStatus     = 0x80

	// CmdInvalid is the one-byte reply to an unrecognised command.
	CmdInvalid = 0xFF
)

// Info IDs
const (
	InfoVendor          = 0x01
	InfoProduct         = 0x02
	InfoSerial          = 0x03
	InfoProtocolVersion = 0x04
	InfoTargetVendor    = 0x05
	InfoTargetName      = 0x06
	InfoFirmwareVersion = 0x09
	InfoCapabilities    = 0xF0
	InfoQueueCapacity   = 0xFD
	InfoPacketCount     = 0xFE
	InfoPacketSize      = 0xFF
)

// Capability bits reported by InfoCapabilities
const (
	CapSWD   = 0x01
	CapJTAG  = 0x02
	CapUART  = 0x04
	CapQueue = 0x08
)

// Connection ports
const (
	PortDefault = 0
	PortSWD     = 1
	PortJTAG    = 2
)

// Command status codes
const (
	StatusOK        = 0x00
	StatusQueueFull = 0xFE
	StatusError     = 0xFF
)

// Transfer request bits
const (
	RequestAPnDP      = 1 << 0
	RequestRnW        = 1 << 1
	RequestA2         = 1 << 2
	RequestA3         = 1 << 3
	RequestMatchValue = 1 << 4
	RequestMatchMask  = 1 << 5

	requestAddrMask = RequestA2 | RequestA3
)

// TransferConfigure flag bits
const (
	TransferAbortOnError = 0x01
)

// SWDConfigure bits
const (
	SWDTurnaroundMask = 0x03 // turnaround cycles minus one
	SWDDataPhase      = 0x04
)

// JTAG Sequence info flags
const (
	JTAGSeqTCKMask = 0x3F // Bits [5:0] = TCK count (0 means 64)
	JTAGSeqTMS     = 0x40
	JTAGSeqTDO     = 0x80
)

// Debug port register addresses (A[3:2] << 2)
const (
	DPIDCode   = 0x00
	DPAbort    = 0x00
	DPCtrlStat = 0x04
	DPSelect   = 0x08
	DPRDBuff   = 0x0C
)

// ReadRDBuff is the request byte of a DP RDBUFF read.
const ReadRDBuff = RequestRnW | DPRDBuff

// NoFailure marks a result block in which no operation stopped the batch.
const NoFailure = 0xFF

// Port names a wire discipline on the Connect command.
type Port uint8

func (p Port) String() string {
	switch p {
	case PortDefault:
		return "default"
	case PortSWD:
		return "swd"
	case PortJTAG:
		return "jtag"
	}
	return "unknown"
}
