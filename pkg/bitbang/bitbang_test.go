package bitbang

import (
	"testing"
	"time"
)

type fixedTiming time.Duration

func (f fixedTiming) HalfPeriod() time.Duration { return time.Duration(f) }

type event struct {
	kind  byte // 's' set, 'g' get, 'o' output
	line  Line
	value bool
}

// recorder logs pin activity and answers SWDIO reads from a bit stream.
type recorder struct {
	events []event
	level  [NumLines]bool
	drive  bool
	input  []bool
	rises  int
	// dataAtRise is the SWDIO level at every rising clock edge.
	dataAtRise []bool
}

func (r *recorder) Set(l Line, high bool) {
	if l == LineSWCLK && high && !r.level[LineSWCLK] {
		r.rises++
		r.dataAtRise = append(r.dataAtRise, r.level[LineSWDIO])
	}
	r.level[l] = high
	r.events = append(r.events, event{'s', l, high})
}

func (r *recorder) Get(l Line) bool {
	r.events = append(r.events, event{'g', l, false})
	if (l == LineSWDIO || l == LineTDO) && len(r.input) > 0 {
		v := r.input[0]
		r.input = r.input[1:]
		return v
	}
	return r.level[l]
}

func (r *recorder) Output(l Line, drive bool) {
	r.drive = drive
	r.events = append(r.events, event{'o', l, drive})
}

func newTestDriver(r *recorder) *Driver {
	return NewDriver(r, fixedTiming(10*time.Nanosecond), NoDelay)
}

func TestWriteBitsLSBFirst(t *testing.T) {
	r := &recorder{}
	d := newTestDriver(r)
	d.WriteBits(0b1101, 4)

	want := []bool{true, false, true, true}
	if r.rises != 4 {
		t.Fatalf("rising edges = %d, want 4", r.rises)
	}
	for i, w := range want {
		if r.dataAtRise[i] != w {
			t.Errorf("bit %d at rising edge = %v, want %v", i, r.dataAtRise[i], w)
		}
	}
}

func TestReadBitsSamplesWhileClockLow(t *testing.T) {
	r := &recorder{input: []bool{true, true, false, true}}
	d := newTestDriver(r)
	got := d.ReadBits(4)
	if got != 0b1011 {
		t.Fatalf("ReadBits() = %04b, want 1011", got)
	}
	for i, e := range r.events {
		if e.kind != 'g' {
			continue
		}
		// The clock must have just gone low.
		prev := r.events[i-1]
		if prev.kind != 's' || prev.line != LineSWCLK || prev.value {
			t.Fatalf("sample %d not preceded by falling clock: %+v", i, prev)
		}
	}
}

func TestTurnaroundOrdering(t *testing.T) {
	r := &recorder{}
	d := newTestDriver(r)

	d.Turnaround(Sample, 2)
	if r.events[0].kind != 'o' || r.events[0].value {
		t.Fatalf("release must precede the turnaround cycles, got %+v", r.events[0])
	}
	if r.rises != 2 {
		t.Fatalf("rising edges = %d, want 2", r.rises)
	}

	r.events = nil
	d.Turnaround(Drive, 3)
	last := r.events[len(r.events)-1]
	if last.kind != 'o' || !last.value {
		t.Fatalf("take-back must follow the turnaround cycles, got %+v", last)
	}
	if r.rises != 5 {
		t.Fatalf("rising edges = %d, want 5", r.rises)
	}
}

func TestSequenceAndIdle(t *testing.T) {
	r := &recorder{}
	d := newTestDriver(r)
	d.Sequence([]byte{0x9E, 0xE7}, 16)
	if r.rises != 16 {
		t.Fatalf("rising edges = %d, want 16", r.rises)
	}
	var got uint16
	for i, b := range r.dataAtRise {
		if b {
			got |= 1 << uint(i)
		}
	}
	if got != 0xE79E {
		t.Errorf("sequence = 0x%04X, want 0xE79E", got)
	}

	d.Idle(3)
	for _, b := range r.dataAtRise[16:] {
		if b {
			t.Error("idle cycle clocked with SWDIO high")
		}
	}
	d.Park()
	if !r.level[LineSWDIO] {
		t.Error("Park() left SWDIO low")
	}
}

func TestShiftJTAG(t *testing.T) {
	r := &recorder{input: []bool{false, true, true}}
	d := newTestDriver(r)
	tdo := d.ShiftJTAG(0b100, 0b011, 3)
	if tdo != 0b110 {
		t.Errorf("ShiftJTAG() tdo = %03b, want 110", tdo)
	}
	if !r.level[LineTMS] || r.level[LineTDI] {
		t.Errorf("final TMS=%v TDI=%v, want true false", r.level[LineTMS], r.level[LineTDI])
	}
}

func TestResetActiveLow(t *testing.T) {
	r := &recorder{}
	d := newTestDriver(r)
	d.SetReset(true)
	if r.level[LineReset] {
		t.Error("asserted reset drove the line high")
	}
	d.SetReset(false)
	if !d.ResetLevel() {
		t.Error("released reset reads low")
	}
}

func TestBusyWait(t *testing.T) {
	start := time.Now()
	BusyWait(200 * time.Microsecond)
	if time.Since(start) < 200*time.Microsecond {
		t.Error("BusyWait returned early")
	}
	BusyWait(-1)
}

func TestBCMNumber(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"GPIO17", 17, false},
		{"gpio2", 2, false},
		{"BCM27", 27, false},
		{"4", 4, false},
		{"", -1, false},
		{"GPIO54", 0, true},
		{"P1_11", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BCMNumber(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BCMNumber(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("BCMNumber(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}
