package dap

import "strings"

// Status is the outcome of a single transfer operation.
type Status uint8

// Per-operation statuses. OK, WAIT and FAULT carry the target's ACK value.
const (
	StatusNone          Status = 0x00
	StatusAckOK         Status = 0x01
	StatusAckWait       Status = 0x02
	StatusAckFault      Status = 0x04
	StatusProtocolError Status = 0x07
	StatusParityError   Status = 0x08
	StatusMismatch      Status = 0x10
	StatusTimeout       Status = 0x20
	StatusNotExecuted   Status = 0x40
)

var statusNames = map[Status]string{
	StatusNone:          "none",
	StatusAckOK:         "ok",
	StatusAckWait:       "wait",
	StatusAckFault:      "fault",
	StatusProtocolError: "protocol-error",
	StatusParityError:   "parity-error",
	StatusMismatch:      "mismatch",
	StatusTimeout:       "timeout",
	StatusNotExecuted:   "not-executed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "invalid"
}

// OK reports whether the operation completed successfully.
func (s Status) OK() bool { return s == StatusAckOK }

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, bool) {
	name = strings.ToLower(name)
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}
