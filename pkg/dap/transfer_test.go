package dap

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseTransfer(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		max     int
		want    []Operation
		wantErr error
	}{
		{
			name:    "read and write",
			payload: []byte{0x00, 0x02, RequestRnW | DPCtrlStat, RequestAPnDP | 0x04, 0x78, 0x56, 0x34, 0x12},
			max:     12,
			want: []Operation{
				{Request: RequestRnW | DPCtrlStat},
				{Request: RequestAPnDP | 0x04, Value: 0x12345678},
			},
		},
		{
			name:    "match read carries value",
			payload: []byte{0x01, 0x01, RequestRnW | RequestMatchValue, 0x01, 0x00, 0x00, 0x00},
			max:     12,
			want:    []Operation{{Index: 1, Request: RequestRnW | RequestMatchValue, Value: 1}},
		},
		{
			name:    "empty list",
			payload: []byte{0x00, 0x00},
			max:     12,
			want:    []Operation{},
		},
		{
			name:    "missing header",
			payload: []byte{0x00},
			max:     12,
			wantErr: ErrShortPayload,
		},
		{
			name:    "truncated value",
			payload: []byte{0x00, 0x01, 0x00, 0x01, 0x02},
			max:     12,
			wantErr: ErrShortPayload,
		},
		{
			name:    "over capacity",
			payload: []byte{0x00, 0x03, 0x02, 0x02, 0x02},
			max:     2,
			wantErr: ErrTooManyOps,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTransfer(tt.payload, tt.max)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseTransfer() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTransfer() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseTransfer() = %d ops, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("op %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAppendTransferParses(t *testing.T) {
	ops := []Operation{
		{Index: 2, Request: DPSelect, Value: 0xF0},
		{Index: 2, Request: RequestAPnDP | RequestRnW | 0x0C},
	}
	payload := AppendTransfer(nil, ops)
	want := []byte{0x02, 0x02, DPSelect, 0xF0, 0x00, 0x00, 0x00, RequestAPnDP | RequestRnW | 0x0C}
	if !bytes.Equal(payload, want) {
		t.Fatalf("AppendTransfer() = % X, want % X", payload, want)
	}
	back, err := ParseTransfer(payload, 12)
	if err != nil {
		t.Fatalf("ParseTransfer() error = %v", err)
	}
	for i := range ops {
		if back[i] != ops[i] {
			t.Errorf("op %d = %+v, want %+v", i, back[i], ops[i])
		}
	}
}

func TestAppendResults(t *testing.T) {
	ops := []Operation{
		{Request: DPSelect, Result: Result{Status: StatusAckOK}},
		{Request: RequestRnW | DPCtrlStat, Result: Result{Status: StatusAckOK, Data: 0xF0000000}},
		{Request: RequestRnW | DPIDCode, Result: Result{Status: StatusAckFault}},
		{Request: RequestRnW | DPIDCode, Result: Result{Status: StatusNotExecuted}},
	}
	got := AppendResults(nil, CmdTransfer, ops, 2)
	want := []byte{
		CmdTransfer, StatusOK, 4, 2,
		0x01, 0x01, 0x04, 0x40,
		0x00, 0x00, 0x00, 0xF0,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("AppendResults() = % X, want % X", got, want)
	}

	parsed := make([]Operation, len(ops))
	for i := range ops {
		parsed[i].Request = ops[i].Request
	}
	fail, err := ParseResults(got, CmdTransfer, parsed)
	if err != nil {
		t.Fatalf("ParseResults() error = %v", err)
	}
	if fail != 2 {
		t.Errorf("ParseResults() fail = %d, want 2", fail)
	}
	for i := range ops {
		if parsed[i].Result != ops[i].Result {
			t.Errorf("op %d result = %+v, want %+v", i, parsed[i].Result, ops[i].Result)
		}
	}
}

func TestParseResultsNoFailure(t *testing.T) {
	ops := []Operation{{Request: DPAbort}}
	fail, err := ParseResults([]byte{CmdQueueExecute, StatusOK, 1, NoFailure, 0x01}, CmdQueueExecute, ops)
	if err != nil {
		t.Fatalf("ParseResults() error = %v", err)
	}
	if fail != -1 {
		t.Errorf("fail = %d, want -1", fail)
	}
	if _, err := ParseResults([]byte{CmdTransfer, StatusError}, CmdTransfer, ops); err == nil {
		t.Error("expected error for failed command status")
	}
}

func TestMaxOperations(t *testing.T) {
	tests := []struct {
		packet int
		want   int
	}{
		{64, 12},
		{512, 101},
		{4, 0},
		{2, 0},
	}
	for _, tt := range tests {
		got := MaxOperations(tt.packet)
		if got != tt.want {
			t.Errorf("MaxOperations(%d) = %d, want %d", tt.packet, got, tt.want)
		}
		// Worst case: every op a write on the request side and a read on the response side.
		if 3+got*OperationSize > tt.packet && got > 0 {
			t.Errorf("MaxOperations(%d): request of %d ops overflows", tt.packet, got)
		}
		if 4+got*OperationSize > tt.packet && got > 0 {
			t.Errorf("MaxOperations(%d): result block of %d ops overflows", tt.packet, got)
		}
	}
}

func TestStatusString(t *testing.T) {
	for s, name := range statusNames {
		if s.String() != name {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), name)
		}
		back, ok := ParseStatus(name)
		if !ok || back != s {
			t.Errorf("ParseStatus(%q) = %v, %v", name, back, ok)
		}
	}
	if Status(0x99).String() != "invalid" {
		t.Error("unknown status should print as invalid")
	}
}
