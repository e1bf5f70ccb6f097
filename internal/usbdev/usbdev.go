// Package usbdev presents the probe as a composite USB device: a vendor
// bulk interface carrying command packets and a CDC-ACM serial console.
// It runs on the softusb device stack with the FIFO HAL, so a host process
// on the same machine can enumerate it.
package usbdev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ardnew/softusb/device"
	"github.com/ardnew/softusb/device/class/cdc"
	"github.com/ardnew/softusb/device/hal/fifo"
	"github.com/ardnew/softusb/pkg"
	log "github.com/sirupsen/logrus"
)

// Endpoint addresses
const (
	EPCommandOut = 0x01
	EPCommandIn  = 0x81
	EPNotify     = 0x83
	EPSerialIn   = 0x84
	EPSerialOut  = 0x04
)

// Interface numbers within configuration 1
const (
	ifaceCommand       = 0
	ifaceSerialControl = 1
	ifaceSerialData    = 2
)

var ErrClosed = errors.New("usbdev: device closed")

// Config describes the USB identity.
type Config struct {
	BusDir       string
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string
	PacketSize   int
	// Console adds the CDC-ACM interface pair.
	Console bool
	// WriteTimeout bounds one IN transfer.
	WriteTimeout time.Duration
}

// Device is a running USB device.
type Device struct {
	cfg   Config
	hal   *fifo.HAL
	dev   *device.Device
	stack *device.Stack
	acm   *cdc.ACM

	epOut *device.Endpoint
	epIn  *device.Endpoint

	commands *mailbox
	console  *Console

	log    *log.Entry
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// build assembles the descriptors; the ACM driver is nil without a console.
func build(ctx context.Context, cfg Config) (*device.Device, *cdc.ACM, error) {
	builder := device.NewDeviceBuilder().
		WithVendorProduct(cfg.VendorID, cfg.ProductID).
		WithStrings(cfg.Manufacturer, cfg.Product, cfg.Serial).
		AddConfiguration(1).
		AddInterface(device.ClassVendor, 0, 0).
		AddEndpoint(EPCommandOut, device.EndpointTypeBulk, uint16(cfg.PacketSize)).
		AddEndpoint(EPCommandIn, device.EndpointTypeBulk, uint16(cfg.PacketSize))

	var acm *cdc.ACM
	if cfg.Console {
		acm = cdc.NewACM()
		acm.ConfigureDevice(builder, EPNotify, EPSerialIn, EPSerialOut)
	}

	dev, err := builder.Build(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("usbdev: build device: %w", err)
	}
	if acm != nil {
		if err := acm.AttachToInterfaces(dev, 1, ifaceSerialControl, ifaceSerialData); err != nil {
			return nil, nil, fmt.Errorf("usbdev: attach CDC-ACM: %w", err)
		}
	}
	return dev, acm, nil
}

// Open builds the device and starts its stack on the FIFO bus in cfg.BusDir.
func Open(ctx context.Context, cfg Config, logger *log.Entry) (*Device, error) {
	if cfg.PacketSize <= 0 {
		cfg.PacketSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if logger.Logger.IsLevelEnabled(log.DebugLevel) {
		pkg.SetLogLevel(slog.LevelDebug)
	}

	dev, acm, err := build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	iface := dev.GetConfiguration(1).GetInterface(ifaceCommand)

	hal := fifo.New(cfg.BusDir)
	stack := device.NewStack(dev, hal)
	if acm != nil {
		acm.SetStack(stack)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d := &Device{
		cfg:      cfg,
		hal:      hal,
		dev:      dev,
		stack:    stack,
		acm:      acm,
		epOut:    iface.GetEndpoint(EPCommandOut),
		epIn:     iface.GetEndpoint(EPCommandIn),
		commands: newMailbox(1),
		log:      logger,
		cancel:   cancel,
	}
	if err := stack.Start(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("usbdev: start stack: %w", err)
	}
	logger.WithField("busDir", cfg.BusDir).WithField("deviceDir", hal.DeviceDir()).Info("USB device started")

	d.wg.Add(1)
	go d.pump(runCtx, "command", cfg.PacketSize, d.commands, func(ctx context.Context, buf []byte) (int, error) {
		return d.stack.Read(ctx, d.epOut, buf)
	})
	if acm != nil {
		d.console = newConsole(d, acm)
		d.wg.Add(2)
		go d.pump(runCtx, "serial", 64, d.console.rx, acm.Read)
		go d.console.drain(runCtx)
	}
	return d, nil
}

// pump moves OUT transfers into box until ctx ends. Reads fail until the
// host configures the device; those are retried after a pause.
func (d *Device) pump(ctx context.Context, name string, size int, box *mailbox, read func(context.Context, []byte) (int, error)) {
	defer d.wg.Done()
	defer box.close()
	buf := make([]byte, size)
	for {
		n, err := read(ctx, buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.log.WithError(err).WithField("endpoint", name).Trace("read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		if n == 0 {
			continue
		}
		if !box.put(ctx, buf[:n]) {
			return
		}
	}
}

// WaitConnect blocks until a host attaches.
func (d *Device) WaitConnect(ctx context.Context) error {
	return d.stack.WaitConnect(ctx)
}

// Connected reports whether a host is attached.
func (d *Device) Connected() bool { return d.stack.IsConnected() }

// TryReceive returns the next command packet without blocking.
func (d *Device) TryReceive(buf []byte) (int, bool) {
	return d.commands.tryTake(buf)
}

// Send writes one response packet.
func (d *Device) Send(packet []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()
	if _, err := d.stack.Write(ctx, d.epIn, packet); err != nil {
		return fmt.Errorf("usbdev: send: %w", err)
	}
	return nil
}

// Console returns the CDC-ACM console, or nil when disabled.
func (d *Device) Console() *Console { return d.console }

// Close stops the stack and waits for the readers.
func (d *Device) Close() error {
	d.cancel()
	err := d.stack.Stop()
	d.wg.Wait()
	return err
}
