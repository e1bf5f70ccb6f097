package bitbang

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PinNames maps every debug line to a periph pin name such as "GPIO17".
// TDI and TDO may be empty on SWD-only wiring.
type PinNames struct {
	SWCLK string
	SWDIO string
	TDI   string
	TDO   string
	Reset string
}

// GPIOPins drives the debug lines through periph GPIO pins. The pin layer
// cannot report failures per edge, so the first error is latched for Err.
type GPIOPins struct {
	pins  [NumLines]gpio.PinIO
	level [NumLines]bool
	input [NumLines]bool
	err   error
}

// OpenGPIO initialises the periph host drivers and resolves the named pins.
func OpenGPIO(names PinNames) (*GPIOPins, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("bitbang: host init: %w", err)
	}

	p := &GPIOPins{}
	for line, name := range map[Line]string{
		LineSWCLK: names.SWCLK,
		LineSWDIO: names.SWDIO,
		LineTDI:   names.TDI,
		LineTDO:   names.TDO,
		LineReset: names.Reset,
	} {
		if name == "" {
			if line == LineSWCLK || line == LineSWDIO {
				return nil, fmt.Errorf("bitbang: pin for %s is required", line)
			}
			continue
		}
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("bitbang: no pin named %q for %s", name, line)
		}
		p.pins[line] = pin
	}

	if tdo := p.pins[LineTDO]; tdo != nil {
		if err := tdo.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("bitbang: TDO input: %w", err)
		}
	}
	// Reset idles released.
	p.Set(LineReset, true)
	return p, p.err
}

func (p *GPIOPins) latch(err error) {
	if err != nil && p.err == nil {
		p.err = err
	}
}

// Set implements Pins.
func (p *GPIOPins) Set(l Line, high bool) {
	p.level[l] = high
	pin := p.pins[l]
	if pin == nil || p.input[l] {
		return
	}
	if l == LineReset && high {
		// Open drain: release to the pull-up instead of driving high.
		p.latch(pin.In(gpio.PullUp, gpio.NoEdge))
		return
	}
	p.latch(pin.Out(gpio.Level(high)))
}

// Get implements Pins.
func (p *GPIOPins) Get(l Line) bool {
	pin := p.pins[l]
	if pin == nil {
		return true
	}
	return pin.Read() == gpio.High
}

// Output implements Pins.
func (p *GPIOPins) Output(l Line, drive bool) {
	pin := p.pins[l]
	if pin == nil {
		return
	}
	p.input[l] = !drive
	if drive {
		p.latch(pin.Out(gpio.Level(p.level[l])))
		return
	}
	p.latch(pin.In(gpio.PullUp, gpio.NoEdge))
}

// Err returns the first pin error since OpenGPIO.
func (p *GPIOPins) Err() error { return p.err }

// Close releases every pin.
func (p *GPIOPins) Close() error {
	for _, pin := range p.pins {
		if pin != nil {
			p.latch(pin.In(gpio.Float, gpio.NoEdge))
		}
	}
	return p.err
}
