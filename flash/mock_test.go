package flash

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/synthread/go-probeflash/loader"
	"github.com/synthread/go-probeflash/probe"
	"github.com/synthread/go-probeflash/target"
)

type mockCore struct {
	halted    bool
	resetErr  error
	haltedErr error
	resets    int
	timeout   time.Duration
}

func (c *mockCore) ResetAndHalt(timeout time.Duration) error {
	c.resets++
	c.timeout = timeout
	return c.resetErr
}

func (c *mockCore) IsHalted() (bool, error) {
	return c.halted, c.haltedErr
}

func (c *mockCore) Status() probe.CoreStatus {
	if c.halted {
		return probe.CoreHalted
	}
	return probe.CoreRunning
}

type mockSession struct {
	target *target.Descriptor
	cores  []*mockCore
	closed bool
}

func (s *mockSession) Target() *target.Descriptor { return s.target }

func (s *mockSession) Core(i int) (probe.Core, error) {
	if i < 0 || i >= len(s.cores) {
		return nil, probe.ErrNoSuchCore
	}
	return s.cores[i], nil
}

func (s *mockSession) Flasher() (probe.Flasher, error) { return nil, probe.ErrUnsupported }

func (s *mockSession) Close() error {
	s.closed = true
	return nil
}

type mockProbe struct {
	desc     probe.Descriptor
	id       uint32
	idErr    error
	attached bool
	closes   int
}

func (p *mockProbe) Descriptor() probe.Descriptor { return p.desc }

func (p *mockProbe) AttachUnspecified() error {
	p.attached = true
	return nil
}

func (p *mockProbe) ReadIdentifier() (uint32, error) {
	if !p.attached {
		return 0, probe.ErrNotAttached
	}
	return p.id, p.idErr
}

func (p *mockProbe) Attach(*target.Descriptor, probe.Permissions) (probe.Session, error) {
	return nil, errors.New("use the library")
}

func (p *mockProbe) Close() error {
	p.closes++
	return nil
}

// mockLibrary records every call into it. Targets are registered up front
// or through resources.
type mockLibrary struct {
	probes    []probe.Descriptor
	id        uint32
	targets   map[string]*target.Descriptor
	resources map[string]*target.Descriptor
	core      *mockCore

	openErr     error
	attachErr   error
	registerErr error

	opened     []*mockProbe
	registered []string
	perms      probe.Permissions
	session    *mockSession

	downloads int
	download  func(opts loader.Options) error
}

func newMockLibrary(t *target.Descriptor) *mockLibrary {
	return &mockLibrary{
		probes:    []probe.Descriptor{{Identifier: "mock-0", Driver: "mock"}},
		id:        0x1ba01477,
		targets:   map[string]*target.Descriptor{t.Name: t},
		resources: map[string]*target.Descriptor{},
		core:      &mockCore{halted: true},
	}
}

func (l *mockLibrary) ListProbes(ctx context.Context) ([]probe.Descriptor, error) {
	return l.probes, nil
}

func (l *mockLibrary) OpenProbe(d probe.Descriptor) (probe.Probe, error) {
	if l.openErr != nil {
		return nil, l.openErr
	}
	p := &mockProbe{desc: d, id: l.id}
	l.opened = append(l.opened, p)
	return p, nil
}

func (l *mockLibrary) Attach(p probe.Probe, name string, perms probe.Permissions) (probe.Session, error) {
	if l.attachErr != nil {
		return nil, l.attachErr
	}
	t, ok := l.targets[name]
	if !ok {
		return nil, target.ErrUnknownTarget
	}
	l.perms = perms
	l.session = &mockSession{target: t}
	for range t.Cores {
		l.session.cores = append(l.session.cores, l.core)
	}
	return l.session, nil
}

func (l *mockLibrary) IsRegistered(name string) bool {
	_, ok := l.targets[name]
	return ok
}

func (l *mockLibrary) RegisterTargetDescription(resource string) error {
	l.registered = append(l.registered, resource)
	if l.registerErr != nil {
		return l.registerErr
	}
	t, ok := l.resources[resource]
	if !ok {
		return target.ErrUnknownResource
	}
	l.targets[t.Name] = t
	return nil
}

func (l *mockLibrary) DownloadImage(sess probe.Session, path string, format loader.Format, opts loader.Options) error {
	l.downloads++
	if l.download != nil {
		return l.download(opts)
	}
	return emitAll(opts.Progress, nil)
}

// emitAll plays a successful download, or one failing at the given event.
func emitAll(sink loader.Sink, failAt *loader.EventKind) error {
	seq := []loader.EventKind{
		loader.Initialized,
		loader.StartedFilling, loader.PageFilled, loader.FinishedFilling,
		loader.StartedErasing, loader.SectorErased, loader.FinishedErasing,
		loader.StartedProgramming, loader.PageProgrammed, loader.PageProgrammed, loader.FinishedProgramming,
	}
	for _, k := range seq {
		if failAt != nil && k.Stage() == failAt.Stage() && (k.IsUnit() || k.IsFinish()) {
			sink(loader.Event{Kind: *failAt})
			return errors.Errorf("simulated %v", failAt.Stage())
		}
		sink(loader.Event{Kind: k, Size: 0x800})
	}
	return nil
}

func stm32f103() *target.Descriptor {
	return &target.Descriptor{
		Name:  "STM32F103RC",
		Cores: []target.Core{{Name: "main", Type: "armv7m"}},
		MemoryMap: []target.MemoryRegion{
			target.NVMRegion{Name: "Flash", Range: target.Range{Start: 0x08000000, Length: 0x40000}, PageSize: 0x800, ErasedByte: 0xff},
			target.RAMRegion{Name: "SRAM", Range: target.Range{Start: 0x20000000, Length: 0x10000}},
		},
	}
}

func stm32l433() *target.Descriptor {
	return &target.Descriptor{
		Name:  "STM32L433RCTx",
		Cores: []target.Core{{Name: "main", Type: "armv7em"}},
		MemoryMap: []target.MemoryRegion{
			target.NVMRegion{Name: "Flash", Range: target.Range{Start: 0x08000000, Length: 0x40000}, PageSize: 0x800, ErasedByte: 0xff},
			target.RAMRegion{Name: "SRAM", Range: target.Range{Start: 0x20000000, Length: 0x10000}},
		},
	}
}
