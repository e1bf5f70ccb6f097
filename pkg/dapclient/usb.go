package dapclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

const (
	// Default USB identifiers of the probe
	VendorIDRaspberryPi = 0x2E8A
	ProductIDCMSISDAP   = 0x000C

	DefaultPacketSize = 64
	DefaultTimeout    = 5 * time.Second
)

var ErrNoDevice = errors.New("dapclient: probe not found")

// USBTransport talks to a probe over its vendor bulk endpoint pair.
type USBTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration
}

// OpenUSB opens the first probe with the given VID:PID.
func OpenUSB(vid, pid uint16) (*USBTransport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("dapclient: usb: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w (VID:0x%04X PID:0x%04X)", ErrNoDevice, vid, pid)
	}
	// Not supported everywhere; the claim below reports real failures.
	_ = dev.SetAutoDetach(true)

	t := &USBTransport{
		ctx:        ctx,
		dev:        dev,
		packetSize: DefaultPacketSize,
		timeout:    DefaultTimeout,
	}
	if err := t.claim(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// claim finds the vendor-class interface and its bulk endpoints.
func (t *USBTransport) claim() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("dapclient: get config: %w", err)
	}
	t.cfg = cfg

	num := 0
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			num = intf.Number
			break
		}
	}
	intf, err := cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("dapclient: claim interface %d: %w", num, err)
	}
	t.intf = intf

	outAddr, inAddr := -1, -1
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && outAddr < 0:
			outAddr = ep.Number
		case ep.Direction == gousb.EndpointDirectionIn && inAddr < 0:
			inAddr = ep.Number
			t.packetSize = ep.MaxPacketSize
		}
	}
	if outAddr < 0 || inAddr < 0 {
		return fmt.Errorf("dapclient: bulk endpoints not found on interface %d", num)
	}

	if t.epOut, err = intf.OutEndpoint(outAddr); err != nil {
		return fmt.Errorf("dapclient: open OUT endpoint: %w", err)
	}
	if t.epIn, err = intf.InEndpoint(inAddr); err != nil {
		return fmt.Errorf("dapclient: open IN endpoint: %w", err)
	}
	return nil
}

// WriteRead implements Transport.
func (t *USBTransport) WriteRead(cmd []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	packet := make([]byte, t.packetSize)
	copy(packet, cmd)
	if _, err := t.epOut.WriteContext(ctx, packet); err != nil {
		return nil, fmt.Errorf("dapclient: usb write: %w", err)
	}

	resp := make([]byte, t.packetSize)
	n, err := t.epIn.ReadContext(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("dapclient: usb read: %w", err)
	}
	return resp[:n], nil
}

// PacketSize implements Transport.
func (t *USBTransport) PacketSize() int { return t.packetSize }

// SetTimeout bounds each command/response exchange.
func (t *USBTransport) SetTimeout(d time.Duration) { t.timeout = d }

// Close releases USB resources.
func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

// DeviceInfo describes a probe found on the bus.
type DeviceInfo struct {
	VID          uint16
	PID          uint16
	Bus          int
	Address      int
	SerialNumber string
	Description  string
}

// Label returns a user-facing description.
func (d DeviceInfo) Label() string {
	if d.Description != "" {
		return d.Description
	}
	return fmt.Sprintf("probe (%04X:%04X)", d.VID, d.PID)
}

type knownDevice struct {
	VID         uint16
	PID         uint16
	Description string
}

// KnownDevices lists VID:PID pairs that speak this protocol.
var KnownDevices = []knownDevice{
	{VID: VendorIDRaspberryPi, PID: ProductIDCMSISDAP, Description: "Raspberry Pi CMSIS-DAP"},
	{VID: 0x0D28, PID: 0x0204, Description: "DAPLink CMSIS-DAP"},
}

func known(vid, pid uint16) (knownDevice, bool) {
	for _, k := range KnownDevices {
		if k.VID == vid && k.PID == pid {
			return k, true
		}
	}
	return knownDevice{}, false
}

// Enumerate finds connected probes. extra adds VID:PID pairs on top of
// KnownDevices. Devices that cannot be opened are still listed without
// their strings.
func Enumerate(ctx context.Context, extra ...[2]uint16) ([]DeviceInfo, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	match := func(desc *gousb.DeviceDesc) bool {
		vid, pid := uint16(desc.Vendor), uint16(desc.Product)
		if _, ok := known(vid, pid); ok {
			return true
		}
		for _, e := range extra {
			if e[0] == vid && e[1] == pid {
				return true
			}
		}
		return false
	}

	var infos []DeviceInfo
	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if ctx.Err() != nil {
			return false
		}
		return match(desc)
	})
	for _, dev := range devs {
		info := DeviceInfo{
			VID:     uint16(dev.Desc.Vendor),
			PID:     uint16(dev.Desc.Product),
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
		}
		info.SerialNumber, _ = dev.SerialNumber()
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()
		if manufacturer != "" || product != "" {
			info.Description = fmt.Sprintf("%s %s", manufacturer, product)
		} else if k, ok := known(info.VID, info.PID); ok {
			info.Description = k.Description
		}
		infos = append(infos, info)
		dev.Close()
	}
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return infos, fmt.Errorf("dapclient: enumerate: %w", err)
	}
	return infos, nil
}
