package bitbang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stianeikeland/go-rpio/v4"
)

// BCMNumber converts a pin name such as "GPIO17", "BCM17" or "17" into a
// Broadcom pin number. An empty name yields -1.
func BCMNumber(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	s := strings.ToUpper(name)
	for _, prefix := range []string{"GPIO", "BCM"} {
		s = strings.TrimPrefix(s, prefix)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 53 {
		return 0, fmt.Errorf("bitbang: %q is not a BCM pin", name)
	}
	return n, nil
}

// RPIOPins drives the debug lines through the Raspberry Pi GPIO registers
// directly via /dev/gpiomem, skipping the periph driver stack. Register
// writes cannot fail once the memory is mapped.
type RPIOPins struct {
	pins    [NumLines]rpio.Pin
	present [NumLines]bool
	level   [NumLines]bool
	input   [NumLines]bool
}

// OpenRPIO maps the GPIO registers and configures the named pins.
func OpenRPIO(names PinNames) (*RPIOPins, error) {
	p := &RPIOPins{}
	for line, name := range map[Line]string{
		LineSWCLK: names.SWCLK,
		LineSWDIO: names.SWDIO,
		LineTDI:   names.TDI,
		LineTDO:   names.TDO,
		LineReset: names.Reset,
	} {
		n, err := BCMNumber(name)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			if line == LineSWCLK || line == LineSWDIO {
				return nil, fmt.Errorf("bitbang: pin for %s is required", line)
			}
			continue
		}
		p.pins[line] = rpio.Pin(n)
		p.present[line] = true
	}

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("bitbang: map GPIO registers: %w", err)
	}
	if p.present[LineTDO] {
		p.pins[LineTDO].Input()
		p.pins[LineTDO].PullUp()
	}
	p.Set(LineReset, true)
	return p, nil
}

// Set implements Pins.
func (p *RPIOPins) Set(l Line, high bool) {
	p.level[l] = high
	if !p.present[l] || p.input[l] {
		return
	}
	pin := p.pins[l]
	if l == LineReset && high {
		// Open drain: release to the pull-up.
		pin.Input()
		pin.PullUp()
		return
	}
	pin.Output()
	if high {
		pin.High()
	} else {
		pin.Low()
	}
}

// Get implements Pins.
func (p *RPIOPins) Get(l Line) bool {
	if !p.present[l] {
		return true
	}
	return p.pins[l].Read() == rpio.High
}

// Output implements Pins.
func (p *RPIOPins) Output(l Line, drive bool) {
	if !p.present[l] {
		return
	}
	p.input[l] = !drive
	pin := p.pins[l]
	if !drive {
		pin.Input()
		pin.PullUp()
		return
	}
	pin.Output()
	if p.level[l] {
		pin.High()
	} else {
		pin.Low()
	}
}

// Close floats every pin and unmaps the registers.
func (p *RPIOPins) Close() error {
	for l, pin := range p.pins {
		if p.present[l] {
			pin.Input()
			pin.PullOff()
		}
	}
	return rpio.Close()
}
