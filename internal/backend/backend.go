// Package backend is the flash.Library used by the command: the configured
// probe drivers, the target registry and the loader behind one value.
package backend

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-probeflash/internal/config"
	"github.com/synthread/go-probeflash/loader"
	"github.com/synthread/go-probeflash/probe"
	"github.com/synthread/go-probeflash/probe/sim"
	"github.com/synthread/go-probeflash/probe/uart"
	"github.com/synthread/go-probeflash/probe/usb"
	"github.com/synthread/go-probeflash/target"
)

// Backend implements flash.Library over a set of probe drivers, the target
// registry and the loader.
type Backend struct {
	drivers  []probe.Driver
	registry *target.Registry
}

// New returns a backend listing probes from drivers in order.
func New(reg *target.Registry, drivers ...probe.Driver) *Backend {
	return &Backend{drivers: drivers, registry: reg}
}

// FromConfig builds the drivers the configuration asks for. The auto setting
// tries the serial bootloader and USB debug probes.
func FromConfig(c *config.Config) (*Backend, error) {
	var drivers []probe.Driver
	switch c.Driver {
	case config.DriverAuto:
		drivers = append(drivers, uartDriver(c), usb.NewDriver())
	case config.DriverUART:
		drivers = append(drivers, uartDriver(c))
	case config.DriverUSB:
		drivers = append(drivers, usb.NewDriver())
	case config.DriverSim:
		drivers = append(drivers, sim.NewDriver(sim.Config{
			Identifier: c.Sim.Identifier,
			Fault:      sim.Fault(c.Sim.Fault),
		}))
	default:
		return nil, errors.Wrapf(config.ErrUnknownDriver, "%q", c.Driver)
	}
	return New(target.NewRegistry(), drivers...), nil
}

func uartDriver(c *config.Config) *uart.Driver {
	return uart.NewDriver(uart.Config{
		UseGPIO:        c.UART.GPIO,
		Boot0GPIO:      c.UART.Boot0GPIO,
		Boot1GPIO:      c.UART.Boot1GPIO,
		PowerGPIO:      c.UART.PowerGPIO,
		BootloaderBaud: c.UART.Baud,
		TTY:            c.UART.TTY,
		Timeout:        c.UART.Timeout,
	})
}

// ListProbes lists the probes of every driver. A failing driver is skipped
// unless all of them fail.
func (b *Backend) ListProbes(ctx context.Context) ([]probe.Descriptor, error) {
	var (
		all      []probe.Descriptor
		firstErr error
		failed   int
	)
	for _, d := range b.drivers {
		descs, err := d.List(ctx)
		if err != nil {
			logrus.WithError(err).Warnf("could not list %s probes", d.Name())
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "%s", d.Name())
			}
			failed++
			continue
		}
		all = append(all, descs...)
	}
	if failed > 0 && failed == len(b.drivers) {
		return nil, firstErr
	}
	return all, nil
}

func (b *Backend) OpenProbe(d probe.Descriptor) (probe.Probe, error) {
	for _, drv := range b.drivers {
		if drv.Name() == d.Driver {
			return drv.Open(d)
		}
	}
	return nil, errors.Wrapf(probe.ErrUnsupported, "no %q driver configured", d.Driver)
}

func (b *Backend) Attach(p probe.Probe, name string, perms probe.Permissions) (probe.Session, error) {
	desc, err := b.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Attach(desc, perms)
}

func (b *Backend) IsRegistered(name string) bool {
	return b.registry.IsRegistered(name)
}

func (b *Backend) RegisterTargetDescription(resource string) error {
	return b.registry.Register(resource)
}

func (b *Backend) DownloadImage(sess probe.Session, path string, format loader.Format, opts loader.Options) error {
	return loader.Download(sess, path, format, opts)
}
