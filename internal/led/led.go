// Package led drives the probe's status indicator: lit while a debug
// session is connected, briefly inverted whenever a command is handled.
package led

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Status is what the indicator reflects. *probe.Engine satisfies it.
type Status interface {
	Connected() bool
	Handled() uint64
}

// DefaultBlink is how long activity inverts the indicator.
const DefaultBlink = 20 * time.Millisecond

// Indicator is a poll task that mirrors Status onto a pin.
type Indicator struct {
	pin    gpio.PinOut
	status Status
	blink  time.Duration
	now    func() time.Time
	log    *log.Entry

	seen       uint64
	blinkUntil time.Time
	level      gpio.Level
	written    bool
}

// OpenPin resolves a periph pin by name.
func OpenPin(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("led: host init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("led: no pin named %q", name)
	}
	return pin, nil
}

// New creates an indicator on pin.
func New(pin gpio.PinOut, status Status, logger *log.Entry) *Indicator {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Indicator{
		pin:    pin,
		status: status,
		blink:  DefaultBlink,
		now:    time.Now,
		log:    logger,
		seen:   status.Handled(),
	}
}

// Poll updates the pin when the wanted level changes. It never reports
// work, so it does not keep the loop from idling.
func (i *Indicator) Poll() bool {
	now := i.now()
	if h := i.status.Handled(); h != i.seen {
		i.seen = h
		i.blinkUntil = now.Add(i.blink)
	}
	want := gpio.Level(i.status.Connected())
	if now.Before(i.blinkUntil) {
		want = !want
	}
	if i.written && want == i.level {
		return false
	}
	if err := i.pin.Out(want); err != nil {
		i.log.WithError(err).Debug("pin write failed")
		return false
	}
	i.level = want
	i.written = true
	return false
}

// Off drives the pin low.
func (i *Indicator) Off() error {
	i.level = gpio.Low
	return i.pin.Out(gpio.Low)
}
