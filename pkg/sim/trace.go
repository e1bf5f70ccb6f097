package sim

import "github.com/boljen/go-bitmap"

// Cycle is the state of the data line at one rising clock edge.
type Cycle struct {
	HostDrive   bool
	TargetDrive bool
	Level       bool
}

// Trace records the data line at every rising clock edge up to a fixed
// capacity. Later cycles are dropped.
type Trace struct {
	host   bitmap.Bitmap
	target bitmap.Bitmap
	level  bitmap.Bitmap
	n      int
	limit  int
}

// NewTrace creates a trace holding up to limit cycles.
func NewTrace(limit int) *Trace {
	return &Trace{
		host:   bitmap.New(limit),
		target: bitmap.New(limit),
		level:  bitmap.New(limit),
		limit:  limit,
	}
}

func (t *Trace) record(c Cycle) {
	if t.n >= t.limit {
		return
	}
	t.host.Set(t.n, c.HostDrive)
	t.target.Set(t.n, c.TargetDrive)
	t.level.Set(t.n, c.Level)
	t.n++
}

// Len returns the number of recorded cycles.
func (t *Trace) Len() int { return t.n }

// Cycle returns recorded cycle i.
func (t *Trace) Cycle(i int) Cycle {
	return Cycle{
		HostDrive:   t.host.Get(i),
		TargetDrive: t.target.Get(i),
		Level:       t.level.Get(i),
	}
}

// Contentions lists the cycles in which host and target both drove the line.
func (t *Trace) Contentions() []int {
	var out []int
	for i := 0; i < t.n; i++ {
		if t.host.Get(i) && t.target.Get(i) {
			out = append(out, i)
		}
	}
	return out
}

// Reset discards every recorded cycle.
func (t *Trace) Reset() {
	for i := 0; i < t.n; i++ {
		t.host.Set(i, false)
		t.target.Set(i, false)
		t.level.Set(i, false)
	}
	t.n = 0
}
