package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceProbe/internal/config"
	"github.com/OpenTraceLab/OpenTraceProbe/internal/led"
	"github.com/OpenTraceLab/OpenTraceProbe/internal/logging"
	"github.com/OpenTraceLab/OpenTraceProbe/internal/uart"
	"github.com/OpenTraceLab/OpenTraceProbe/internal/usbdev"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/probe"
)

var (
	busDir       string
	pinsBackend  string
	serialDevice string
	serialBaud   int
	ledPin       string
	idlePoll     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the probe firmware loop",
	Long: `Present the probe as a USB device on a softusb FIFO bus and serve command
packets until interrupted.

The debug lines are real GPIO pins through periph (--pins gpio) or through the
Raspberry Pi register interface (--pins rpio), named by the PROBE_*_PIN
settings, or a simulated SWJ-DP target (--pins sim). With --serial
the USB serial console is bridged to a hardware UART; with --led a status
indicator follows the session.

Examples:
  probe serve --pins sim --bus-dir /tmp/softusb
  probe serve --pins gpio --serial /dev/ttyAMA0 --baud 115200 --led GPIO25`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&busDir, "bus-dir", "", "softusb FIFO bus directory")
	serveCmd.Flags().StringVar(&pinsBackend, "pins", "", "debug pin backend (gpio, rpio, sim)")
	serveCmd.Flags().StringVar(&serialDevice, "serial", "", "serial device to bridge to the USB console")
	serveCmd.Flags().IntVar(&serialBaud, "baud", 0, "initial serial baud rate")
	serveCmd.Flags().StringVar(&ledPin, "led", "", "status LED pin name")
	serveCmd.Flags().DurationVar(&idlePoll, "idle", time.Millisecond, "sleep when a poll round does no work")
}

// applyServeFlags overlays explicitly set flags on the loaded configuration.
func applyServeFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("bus-dir") {
		c.BusDir = busDir
	}
	if flags.Changed("pins") {
		c.Pins = pinsBackend
	}
	if flags.Changed("serial") {
		c.SerialDevice = serialDevice
	}
	if flags.Changed("baud") {
		c.SerialBaud = serialBaud
	}
	if flags.Changed("led") {
		c.LEDPin = ledPin
	}
	return c.Validate()
}

type closer func() error

func openPins(c config.Config) (bitbang.Pins, func(time.Duration), closer, error) {
	switch c.Pins {
	case config.PinsSim:
		return simTarget(), bitbang.NoDelay, func() error { return nil }, nil
	case config.PinsGPIO:
		pins, err := bitbang.OpenGPIO(bitbang.PinNames{
			SWCLK: c.SWCLKPin,
			SWDIO: c.SWDIOPin,
			TDI:   c.TDIPin,
			TDO:   c.TDOPin,
			Reset: c.ResetPin,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return pins, bitbang.BusyWait, pins.Close, nil
	case config.PinsRPIO:
		pins, err := bitbang.OpenRPIO(bitbang.PinNames{
			SWCLK: c.SWCLKPin,
			SWDIO: c.SWDIOPin,
			TDI:   c.TDIPin,
			TDO:   c.TDOPin,
			Reset: c.ResetPin,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return pins, bitbang.BusyWait, pins.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("%w: pins backend %q", config.ErrInvalid, c.Pins)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := applyServeFlags(cmd, &cfg); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pins, delay, closePins, err := openPins(cfg)
	if err != nil {
		return err
	}
	defer closePins()

	engine := newEngine(cfg, pins, delay, logging.For(logger, logging.Probe))

	dev, err := usbdev.Open(ctx, usbdev.Config{
		BusDir:       cfg.BusDir,
		VendorID:     cfg.VendorID,
		ProductID:    cfg.ProductID,
		Manufacturer: cfg.Manufacturer,
		Product:      cfg.Product,
		Serial:       cfg.Serial,
		PacketSize:   cfg.PacketSize,
		Console:      cfg.SerialDevice != "",
	}, logging.For(logger, logging.USB))
	if err != nil {
		return err
	}
	defer dev.Close()

	loop := probe.NewLoop(idlePoll, logging.For(logger, logging.Loop),
		probe.NewTask(engine, dev, logging.For(logger, logging.Probe)))

	if cfg.SerialDevice != "" {
		port, err := uart.Open(cfg.SerialDevice, cfg.SerialBaud)
		if err != nil {
			return err
		}
		bridge := uart.NewBridge(port, dev.Console(), logging.For(logger, logging.UART))
		defer bridge.Close()
		dev.Console().OnLineCoding(bridge.SetLineCoding)
		loop.Add(bridge)
	}

	if cfg.LEDPin != "" {
		pin, err := led.OpenPin(cfg.LEDPin)
		if err != nil {
			return err
		}
		indicator := led.New(pin, engine, logging.For(logger, logging.LED))
		defer indicator.Off()
		loop.Add(indicator)
	}

	logger.WithField("pins", cfg.Pins).WithField("busDir", cfg.BusDir).Info("probe ready")
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
