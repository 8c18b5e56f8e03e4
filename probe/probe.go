// Package probe defines the debug-probe capability surface consumed by the
// flashing workflow. Concrete drivers live in the sub-packages.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/synthread/go-probeflash/target"
)

var (
	ErrUnsupported    = errors.New("probe is not supported by its driver")
	ErrBusy           = errors.New("probe is already open")
	ErrClosed         = errors.New("probe is closed")
	ErrAttached       = errors.New("probe is already attached to a target")
	ErrNotAttached    = errors.New("probe is not attached")
	ErrNoSuchCore     = errors.New("no such core")
	ErrTimeout        = errors.New("timed out waiting for target")
	ErrEraseAllDenied = errors.New("erase-all was not permitted for this session")
)

// Descriptor identifies one attached debug probe.
type Descriptor struct {
	Identifier  string
	Driver      string
	Path        string
	VendorID    uint16
	ProductID   uint16
	Serial      string
	Description string
}

func (d Descriptor) String() string {
	s := d.Identifier
	if d.Description != "" {
		s += " (" + d.Description + ")"
	}
	if d.VendorID != 0 || d.ProductID != 0 {
		s += fmt.Sprintf(" [%04x:%04x]", d.VendorID, d.ProductID)
	}
	return s
}

// Permissions are granted to a session on attach.
type Permissions struct {
	eraseAll bool
}

// NewPermissions returns the default (most restrictive) permissions.
func NewPermissions() Permissions {
	return Permissions{}
}

// AllowEraseAll grants permission to erase the whole flash array.
func (p Permissions) AllowEraseAll() Permissions {
	p.eraseAll = true
	return p
}

// EraseAllAllowed reports whether chip erase may be issued.
func (p Permissions) EraseAllAllowed() bool {
	return p.eraseAll
}

// Driver enumerates and opens probes of one kind.
type Driver interface {
	Name() string
	List(ctx context.Context) ([]Descriptor, error)
	Open(d Descriptor) (Probe, error)
}

// Probe is an opened debug probe. Ownership of the transport moves into the
// Session returned by Attach; Close on an attached probe does nothing.
type Probe interface {
	Descriptor() Descriptor
	// AttachUnspecified connects to whatever target is present without
	// selecting a target description, enough to read its identifier.
	AttachUnspecified() error
	// ReadIdentifier reads the chip identifier. Requires AttachUnspecified.
	ReadIdentifier() (uint32, error)
	Attach(t *target.Descriptor, perms Permissions) (Session, error)
	Close() error
}

// Session is a live connection to one target.
type Session interface {
	Target() *target.Descriptor
	Core(index int) (Core, error)
	Flasher() (Flasher, error)
	Close() error
}

// CoreStatus is the last known execution state of a core.
type CoreStatus int

const (
	CoreUnknown CoreStatus = iota
	CoreRunning
	CoreHalted
)

func (s CoreStatus) String() string {
	switch s {
	case CoreRunning:
		return "running"
	case CoreHalted:
		return "halted"
	}
	return "unknown"
}

// Core is one controllable execution core within a session.
type Core interface {
	ResetAndHalt(timeout time.Duration) error
	IsHalted() (bool, error)
	Status() CoreStatus
}

// Flasher exposes the page level flash operations of a session.
type Flasher interface {
	// EraseAll erases the whole flash array. Requires the erase-all
	// permission.
	EraseAll() error
	// EraseSector erases the sector starting at addr.
	EraseSector(addr uint32) error
	// Program writes data at addr. The range must have been erased.
	Program(addr uint32, data []byte) error
	Read(addr uint32, n int) ([]byte, error)
}
