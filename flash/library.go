// Package flash identifies the chip behind a debug probe, attaches a session
// against its target description, holds the core halted and programs a
// firmware image, reporting each stage as it goes.
package flash

import (
	"context"

	"github.com/synthread/go-probeflash/loader"
	"github.com/synthread/go-probeflash/probe"
)

// Registrar knows which target descriptions are usable and can load more.
type Registrar interface {
	IsRegistered(name string) bool
	RegisterTargetDescription(resource string) error
}

// Library is the debug probe and flashing capability the workflow drives.
type Library interface {
	Registrar

	ListProbes(ctx context.Context) ([]probe.Descriptor, error)
	OpenProbe(d probe.Descriptor) (probe.Probe, error)
	// Attach attaches p to the registered target called name.
	Attach(p probe.Probe, name string, perms probe.Permissions) (probe.Session, error)
	DownloadImage(sess probe.Session, path string, format loader.Format, opts loader.Options) error
}
