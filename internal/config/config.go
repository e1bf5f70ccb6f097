// Package config resolves probe settings from defaults, an optional .env
// file and PROBE_* environment variables, in that order of precedence
// (later wins). Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"periph.io/x/conn/v3/physic"
)

// EnvPrefix prefixes every recognised variable.
const EnvPrefix = "PROBE_"

var ErrInvalid = errors.New("config: invalid value")

// Pin backends
const (
	PinsGPIO = "gpio"
	PinsRPIO = "rpio"
	PinsSim  = "sim"
)

// Config is the complete probe configuration.
type Config struct {
	BusDir string
	Pins   string

	SWCLKPin string
	SWDIOPin string
	TDIPin   string
	TDOPin   string
	ResetPin string

	MaxClock     physic.Frequency
	MinClock     physic.Frequency
	DefaultClock physic.Frequency

	PacketSize    int
	QueueCapacity int
	WaitRetry     int
	MaxResetPulse time.Duration

	SerialDevice string
	SerialBaud   int

	LEDPin string

	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string

	LogFormat string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BusDir:        "/tmp/softusb",
		Pins:          PinsSim,
		SWCLKPin:      "GPIO2",
		SWDIOPin:      "GPIO3",
		TDIPin:        "GPIO4",
		TDOPin:        "GPIO5",
		ResetPin:      "GPIO6",
		MaxClock:      10 * physic.MegaHertz,
		MinClock:      1 * physic.KiloHertz,
		DefaultClock:  1 * physic.MegaHertz,
		PacketSize:    64,
		QueueCapacity: 12,
		WaitRetry:     100,
		MaxResetPulse: 500 * time.Millisecond,
		SerialBaud:    115200,
		VendorID:      0x2E8A,
		ProductID:     0x000C,
		Manufacturer:  "OpenTraceLab",
		Product:       "OpenTraceProbe CMSIS-DAP",
		Serial:        "OTP000000001",
		LogFormat:     "text",
	}
}

// Load returns the defaults overlaid with envFile (when it exists) and the
// process environment.
func Load(envFile string) (Config, error) {
	vars := map[string]string{}
	if envFile != "" {
		file, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", envFile, err)
		}
		for k, v := range file {
			vars[k] = v
		}
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvPrefix) {
			vars[k] = v
		}
	}
	cfg := Default()
	if err := cfg.apply(vars); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) apply(vars map[string]string) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := vars[EnvPrefix+name]; ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := vars[EnvPrefix+name]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	freq := func(name string, dst *physic.Frequency) {
		if v, ok := vars[EnvPrefix+name]; ok {
			if err := dst.Set(v); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, name, v, err))
			}
		}
	}
	id := func(name string, dst *uint16) {
		if v, ok := vars[EnvPrefix+name]; ok {
			n, err := strconv.ParseUint(v, 0, 16)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalid, EnvPrefix, name, v))
				return
			}
			*dst = uint16(n)
		}
	}

	str("BUS_DIR", &c.BusDir)
	str("PINS", &c.Pins)
	str("SWCLK_PIN", &c.SWCLKPin)
	str("SWDIO_PIN", &c.SWDIOPin)
	str("TDI_PIN", &c.TDIPin)
	str("TDO_PIN", &c.TDOPin)
	str("RESET_PIN", &c.ResetPin)
	freq("MAX_CLOCK", &c.MaxClock)
	freq("MIN_CLOCK", &c.MinClock)
	freq("CLOCK", &c.DefaultClock)
	integer("PACKET_SIZE", &c.PacketSize)
	integer("QUEUE_CAPACITY", &c.QueueCapacity)
	integer("WAIT_RETRY", &c.WaitRetry)
	if v, ok := vars[EnvPrefix+"MAX_RESET_PULSE"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %sMAX_RESET_PULSE=%q", ErrInvalid, EnvPrefix, v))
		} else {
			c.MaxResetPulse = d
		}
	}
	str("SERIAL_DEVICE", &c.SerialDevice)
	integer("SERIAL_BAUD", &c.SerialBaud)
	str("LED_PIN", &c.LEDPin)
	id("USB_VID", &c.VendorID)
	id("USB_PID", &c.ProductID)
	str("USB_MANUFACTURER", &c.Manufacturer)
	str("USB_PRODUCT", &c.Product)
	str("USB_SERIAL", &c.Serial)
	str("LOG_FORMAT", &c.LogFormat)
	return errors.Join(errs...)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Pins {
	case PinsGPIO, PinsRPIO, PinsSim:
	default:
		return fmt.Errorf("%w: pins backend %q", ErrInvalid, c.Pins)
	}
	if c.MaxClock <= 0 || c.MinClock <= 0 || c.MinClock > c.MaxClock {
		return fmt.Errorf("%w: clock range %s..%s", ErrInvalid, c.MinClock, c.MaxClock)
	}
	if c.DefaultClock < c.MinClock {
		return fmt.Errorf("%w: default clock %s below minimum %s", ErrInvalid, c.DefaultClock, c.MinClock)
	}
	if c.PacketSize < 8 || c.PacketSize > 1024 {
		return fmt.Errorf("%w: packet size %d", ErrInvalid, c.PacketSize)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity %d", ErrInvalid, c.QueueCapacity)
	}
	if c.WaitRetry < 0 || c.WaitRetry > 0xFFFF {
		return fmt.Errorf("%w: wait retry %d", ErrInvalid, c.WaitRetry)
	}
	if c.SerialDevice != "" && c.SerialBaud <= 0 {
		return fmt.Errorf("%w: serial baud %d", ErrInvalid, c.SerialBaud)
	}
	return nil
}
