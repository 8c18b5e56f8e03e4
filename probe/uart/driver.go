// Package uart drives STM32 parts through the ROM system bootloader over a
// serial line, optionally power cycling the chip into the bootloader with
// GPIO lines.
package uart

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"

	"github.com/synthread/go-probeflash/probe"
	"github.com/synthread/go-probeflash/target"
)

const DriverName = "uart"

// listPorts enumerates serial ports; replaced in tests.
var listPorts = enumerator.GetDetailedPortsList

// Driver lists serial ports as probes and opens them as bootloader links.
type Driver struct {
	cfg Config

	mu   sync.Mutex
	open map[string]bool
}

// NewDriver returns a driver using cfg for every probe it opens. With
// cfg.TTY set only that port is listed.
func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg, open: map[string]bool{}}
}

func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) List(ctx context.Context) ([]probe.Descriptor, error) {
	if d.cfg.TTY != "" {
		return []probe.Descriptor{{
			Identifier:  d.cfg.TTY,
			Driver:      DriverName,
			Path:        d.cfg.TTY,
			Description: "STM32 system bootloader",
		}}, nil
	}

	ports, err := listPorts()
	if err != nil {
		return nil, errors.Wrap(err, "could not list serial ports")
	}

	var descs []probe.Descriptor
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// only USB serial adapters are plausible bootloader links
		if !p.IsUSB {
			continue
		}
		desc := probe.Descriptor{
			Identifier:  p.Name,
			Driver:      DriverName,
			Path:        p.Name,
			Serial:      p.SerialNumber,
			Description: p.Product,
		}
		if v, err := strconv.ParseUint(p.VID, 16, 16); err == nil {
			desc.VendorID = uint16(v)
		}
		if v, err := strconv.ParseUint(p.PID, 16, 16); err == nil {
			desc.ProductID = uint16(v)
		}
		descs = append(descs, desc)
	}

	return descs, nil
}

func (d *Driver) Open(desc probe.Descriptor) (probe.Probe, error) {
	if desc.Driver != DriverName || desc.Path == "" {
		return nil, probe.ErrUnsupported
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open[desc.Path] {
		return nil, probe.ErrBusy
	}
	d.open[desc.Path] = true

	cfg := d.cfg
	cfg.TTY = desc.Path
	return &Probe{driver: d, desc: desc, mcu: NewMicrocontroller(&cfg)}, nil
}

func (d *Driver) release(path string) {
	d.mu.Lock()
	delete(d.open, path)
	d.mu.Unlock()
}

// Probe is a serial port with a chip in bootloader mode on the other end.
type Probe struct {
	driver   *Driver
	desc     probe.Descriptor
	mcu      *Microcontroller
	attached bool
	closed   bool
}

func (p *Probe) Descriptor() probe.Descriptor {
	return p.desc
}

func (p *Probe) connect() error {
	if p.closed {
		return probe.ErrClosed
	}
	if p.attached {
		return probe.ErrAttached
	}
	if p.mcu.IsOpen() {
		return nil
	}
	return p.mcu.Open()
}

func (p *Probe) AttachUnspecified() error {
	return p.connect()
}

func (p *Probe) ReadIdentifier() (uint32, error) {
	if !p.mcu.IsOpen() {
		return 0, probe.ErrNotAttached
	}
	return p.mcu.Identify()
}

func (p *Probe) Attach(t *target.Descriptor, perms probe.Permissions) (probe.Session, error) {
	if t == nil {
		return nil, errors.New("no target description")
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	p.attached = true

	s := &Session{probe: p, target: t, perms: perms}
	for range t.Cores {
		s.cores = append(s.cores, &Core{s: s})
	}
	logrus.Debugf("uart: attached to %s on %s", t.Name, p.desc.Path)
	return s, nil
}

func (p *Probe) Close() error {
	if p.attached || p.closed {
		return nil
	}
	p.closed = true
	defer p.driver.release(p.desc.Path)
	return p.mcu.Close()
}

// Session owns the bootloader link once attached. Closing it resets the
// chip into its application.
type Session struct {
	probe  *Probe
	target *target.Descriptor
	perms  probe.Permissions
	cores  []*Core
	closed bool
}

func (s *Session) mc() *Microcontroller {
	return s.probe.mcu
}

func (s *Session) Target() *target.Descriptor {
	return s.target
}

func (s *Session) Core(index int) (probe.Core, error) {
	if s.closed {
		return nil, probe.ErrClosed
	}
	if index < 0 || index >= len(s.cores) {
		return nil, errors.Wrapf(probe.ErrNoSuchCore, "index %d", index)
	}
	return s.cores[index], nil
}

func (s *Session) Flasher() (probe.Flasher, error) {
	if s.closed {
		return nil, probe.ErrClosed
	}
	return &flasher{s: s}, nil
}

func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.cores {
		c.status = probe.CoreRunning
	}
	s.probe.closed = true
	defer s.probe.driver.release(s.probe.desc.Path)
	return s.mc().Close()
}

// Core is the chip's core as seen from the bootloader. While the bootloader
// answers commands the application is not running, which is as halted as a
// bootloader link gets.
type Core struct {
	s      *Session
	status probe.CoreStatus
}

// ResetAndHalt re-enters the bootloader and resynchronises with it.
func (c *Core) ResetAndHalt(timeout time.Duration) error {
	if c.s.closed {
		return probe.ErrClosed
	}
	mc := c.s.mc()
	mc.enterSTBL()
	if err := mc.stmSync(timeout); err != nil {
		c.status = probe.CoreUnknown
		if errors.Is(err, ErrTimeout) {
			return errors.Wrapf(probe.ErrTimeout, "bootloader did not answer within %s", timeout)
		}
		return err
	}
	c.status = probe.CoreHalted
	return nil
}

// IsHalted asks the bootloader for its version. No answer means the chip is
// not in the bootloader.
func (c *Core) IsHalted() (bool, error) {
	if c.s.closed {
		return false, probe.ErrClosed
	}
	_, err := c.s.mc().stmCmdGetVersion()
	switch {
	case err == nil:
		c.status = probe.CoreHalted
		return true, nil
	case errors.Is(err, ErrTimeout):
		c.status = probe.CoreRunning
		return false, nil
	}
	return false, err
}

func (c *Core) Status() probe.CoreStatus {
	return c.status
}
