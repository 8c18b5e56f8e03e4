// Package usb discovers USB debug probes. It lists the probes it recognises
// by vendor and product ID but cannot drive them; opening one reports
// probe.ErrUnsupported.
package usb

import (
	"context"
	"fmt"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-probeflash/probe"
)

const DriverName = "usb"

// Kind is a family of debug probe.
type Kind string

const (
	KindCMSISDAP  Kind = "CMSIS-DAP"
	KindSTLink    Kind = "ST-Link"
	KindJLink     Kind = "J-Link"
	KindPicoprobe Kind = "Picoprobe"
)

type usbID struct {
	vendor, product uint16
}

var known = map[usbID]Kind{
	{0x0d28, 0x0204}: KindCMSISDAP,
	{0x2e8a, 0x000c}: KindPicoprobe,
	{0x0483, 0x3748}: KindSTLink,
	{0x0483, 0x374b}: KindSTLink,
	{0x0483, 0x374e}: KindSTLink,
	{0x0483, 0x374f}: KindSTLink,
	{0x0483, 0x3753}: KindSTLink,
	{0x1366, 0x0101}: KindJLink,
	{0x1366, 0x1015}: KindJLink,
}

// Lookup reports which kind of debug probe a USB device is.
func Lookup(vendor, product uint16) (Kind, bool) {
	k, ok := known[usbID{vendor, product}]
	return k, ok
}

// deviceInfo is what discovery keeps of a device after closing it.
type deviceInfo struct {
	Bus, Address    int
	Vendor, Product uint16
	Serial          string
	Name            string
}

func (d deviceInfo) descriptor() probe.Descriptor {
	kind, _ := Lookup(d.Vendor, d.Product)
	desc := probe.Descriptor{
		Identifier:  string(kind),
		Driver:      DriverName,
		Path:        fmt.Sprintf("%03d:%03d", d.Bus, d.Address),
		VendorID:    d.Vendor,
		ProductID:   d.Product,
		Serial:      d.Serial,
		Description: d.Name,
	}
	if d.Serial != "" {
		desc.Identifier += " " + d.Serial
	}
	return desc
}

// scan opens every recognised device long enough to read its strings;
// replaced in tests.
var scan = func() ([]deviceInfo, error) {
	uctx := gousb.NewContext()
	defer uctx.Close()

	devs, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := Lookup(uint16(desc.Vendor), uint16(desc.Product))
		return ok
	})
	if err != nil && len(devs) == 0 {
		return nil, err
	}
	if err != nil {
		// devices that could not be opened are skipped, typically missing permissions
		logrus.Warn("usb: some devices could not be opened: ", err.Error())
	}

	infos := make([]deviceInfo, 0, len(devs))
	for _, dev := range devs {
		info := deviceInfo{
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
			Vendor:  uint16(dev.Desc.Vendor),
			Product: uint16(dev.Desc.Product),
		}
		if s, err := dev.SerialNumber(); err == nil {
			info.Serial = s
		}
		if s, err := dev.Product(); err == nil {
			info.Name = s
		}
		dev.Close()
		infos = append(infos, info)
	}

	return infos, nil
}

// Driver lists USB debug probes.
type Driver struct{}

// NewDriver returns a driver listing known debug probes on the USB bus.
func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) List(ctx context.Context) ([]probe.Descriptor, error) {
	infos, err := scan()
	if err != nil {
		return nil, err
	}

	descs := make([]probe.Descriptor, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		descs = append(descs, info.descriptor())
	}
	return descs, nil
}

// Open always fails; no USB wire protocol is implemented.
func (d *Driver) Open(desc probe.Descriptor) (probe.Probe, error) {
	return nil, probe.ErrUnsupported
}
