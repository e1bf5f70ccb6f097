package probe

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Poller is a cooperative task: Poll does a bounded amount of work and
// reports whether there was any.
type Poller interface {
	Poll() bool
}

// PollFunc adapts a function to Poller.
type PollFunc func() bool

// Poll implements Poller.
func (f PollFunc) Poll() bool { return f() }

// Loop polls its tasks round robin on one goroutine. When a full round
// does no work it sleeps for the idle interval.
type Loop struct {
	tasks []Poller
	idle  time.Duration
	log   *log.Entry
}

// NewLoop creates a loop over tasks.
func NewLoop(idle time.Duration, logger *log.Entry, tasks ...Poller) *Loop {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Loop{tasks: tasks, idle: idle, log: logger}
}

// Add appends a task to the round.
func (l *Loop) Add(p Poller) {
	l.tasks = append(l.tasks, p)
}

// RunOnce polls every task once and reports whether any did work.
func (l *Loop) RunOnce() bool {
	busy := false
	for _, t := range l.tasks {
		if t.Poll() {
			busy = true
		}
	}
	return busy
}

// Run polls until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.log.WithField("tasks", len(l.tasks)).Info("loop started")
	var timer *time.Timer
	for {
		if err := ctx.Err(); err != nil {
			l.log.Info("loop stopped")
			return err
		}
		if l.RunOnce() || l.idle <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(l.idle)
		} else {
			timer.Reset(l.idle)
		}
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}
