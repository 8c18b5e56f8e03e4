// Package sim is an in-memory probe driver. It attaches to a simulated
// target whose flash behaves like NOR flash: erase sets bytes to the erased
// value, programming can only clear bits.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-probeflash/probe"
	"github.com/synthread/go-probeflash/target"
)

// DriverName is the driver name reported in probe descriptors.
const DriverName = "sim"

// Fault selects an operation the simulator fails.
type Fault string

const (
	FaultNone     Fault = ""
	FaultHalt     Fault = "halt"     // core never reports halted
	FaultTimeout  Fault = "timeout"  // reset-and-halt times out
	FaultRead     Fault = "read"     // flash reads fail
	FaultErase    Fault = "erase"    // erases fail
	FaultProgram  Fault = "program"  // programming fails
	FaultVerify   Fault = "verify"   // programming silently corrupts data
	FaultIdentify Fault = "identify" // identifier read fails
)

var (
	ErrInjected     = errors.New("simulated fault")
	ErrUnknownFault = errors.New("unknown simulator fault")
)

var faults = []Fault{FaultNone, FaultHalt, FaultTimeout, FaultRead, FaultErase, FaultProgram, FaultVerify, FaultIdentify}

// ParseFault checks s names a known fault. The empty string is no fault.
func ParseFault(s string) (Fault, error) {
	for _, f := range faults {
		if string(f) == s {
			return f, nil
		}
	}
	return FaultNone, errors.Wrapf(ErrUnknownFault, "%q", s)
}

// Config describes the simulated probe and target.
type Config struct {
	Identifier uint32
	Fault      Fault
}

// Driver hands out one simulated probe.
type Driver struct {
	cfg Config

	mu     sync.Mutex
	open   bool
	memory map[uint32][]byte // flash contents per region start, kept across sessions
}

// NewDriver returns a simulator driver.
func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg, memory: map[uint32][]byte{}}
}

func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) List(ctx context.Context) ([]probe.Descriptor, error) {
	return []probe.Descriptor{{
		Identifier:  "sim-0",
		Driver:      DriverName,
		Description: "Simulated target",
	}}, nil
}

func (d *Driver) Open(desc probe.Descriptor) (probe.Probe, error) {
	if desc.Driver != DriverName {
		return nil, probe.ErrUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, probe.ErrBusy
	}
	d.open = true
	return &Probe{driver: d, desc: desc}, nil
}

func (d *Driver) release() {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
}

// Memory returns a copy of n bytes of simulated flash at addr, for tests.
func (d *Driver) Memory(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	for start, mem := range d.memory {
		if addr >= start && int(addr-start)+n <= len(mem) {
			return append([]byte(nil), mem[addr-start:int(addr-start)+n]...)
		}
	}
	return nil
}

// Probe is an opened simulated probe.
type Probe struct {
	driver    *Driver
	desc      probe.Descriptor
	connected bool
	attached  bool
	closed    bool
}

func (p *Probe) Descriptor() probe.Descriptor {
	return p.desc
}

func (p *Probe) AttachUnspecified() error {
	if p.closed {
		return probe.ErrClosed
	}
	if p.attached {
		return probe.ErrAttached
	}
	p.connected = true
	return nil
}

func (p *Probe) ReadIdentifier() (uint32, error) {
	if !p.connected {
		return 0, probe.ErrNotAttached
	}
	if p.driver.cfg.Fault == FaultIdentify {
		return 0, ErrInjected
	}
	return p.driver.cfg.Identifier, nil
}

func (p *Probe) Attach(t *target.Descriptor, perms probe.Permissions) (probe.Session, error) {
	if p.closed {
		return nil, probe.ErrClosed
	}
	if p.attached {
		return nil, probe.ErrAttached
	}
	if t == nil {
		return nil, errors.New("no target description")
	}
	p.attached = true

	s := &Session{probe: p, target: t, perms: perms}
	for range t.Cores {
		s.cores = append(s.cores, &Core{fault: p.driver.cfg.Fault})
	}
	logrus.Debugf("sim: attached to %s", t.Name)
	return s, nil
}

func (p *Probe) Close() error {
	if p.attached || p.closed {
		return nil
	}
	p.closed = true
	p.driver.release()
	return nil
}

// Session is a simulated debug session.
type Session struct {
	probe  *Probe
	target *target.Descriptor
	perms  probe.Permissions
	cores  []*Core
	closed bool
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
	s.probe.driver.release()
	return nil
}

// Core is a simulated core.
type Core struct {
	fault  Fault
	status probe.CoreStatus
}

func (c *Core) ResetAndHalt(timeout time.Duration) error {
	if c.fault == FaultTimeout {
		return errors.Wrapf(probe.ErrTimeout, "core did not halt within %s", timeout)
	}
	if c.fault == FaultHalt {
		c.status = probe.CoreRunning
		return nil
	}
	c.status = probe.CoreHalted
	return nil
}

func (c *Core) IsHalted() (bool, error) {
	return c.status == probe.CoreHalted, nil
}

func (c *Core) Status() probe.CoreStatus {
	return c.status
}
