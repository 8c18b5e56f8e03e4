package flash

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-probeflash/loader"
	"github.com/synthread/go-probeflash/probe"
	"github.com/synthread/go-probeflash/target"
)

// Config is what a workflow run needs beyond the library.
type Config struct {
	// Probe selects the first probe whose identifier, path or serial
	// contains it. Empty picks the first probe.
	Probe string
	// Target skips identification and attaches to this target.
	Target      string
	Firmware    string
	Format      loader.Format
	HaltTimeout time.Duration
}

// Workflow lists probes, identifies the chip, halts it and flashes the
// firmware, printing each step to Out.
type Workflow struct {
	Library Library
	Out     io.Writer
	Config  Config
}

// Run executes one identify-and-flash pass. It returns the first error; a
// failed halt is also reported on Out.
func (w *Workflow) Run(ctx context.Context) error {
	desc, err := w.discover(ctx)
	if err != nil {
		return err
	}

	resolver := NewResolver(w.Library)

	var sel TargetSelector
	if w.Config.Target != "" {
		sel, err = resolver.ForName(w.Config.Target)
		if err != nil {
			return err
		}
	} else {
		id, err := w.identify(desc)
		if err != nil {
			return err
		}
		logrus.Debugf("chip identifier %#x", id)
		w.printf("Info: %#x %s\n", id, resolver.Describe(id))
		sel, err = resolver.Resolve(id)
		if err != nil {
			w.printf("Found target: %s\n", resolver.Describe(id))
			return err
		}
	}
	w.printf("Found target: %s\n", sel.Name)

	sess, classified, err := Prepare(w.Library, desc, sel.Name, PrepareOptions{HaltTimeout: w.Config.HaltTimeout})
	if err != nil {
		var perr *PrepareError
		if errors.As(err, &perr) && perr.HaltFailed() {
			w.printf("ERROR => Failed to halt core\n")
		}
		return err
	}
	defer sess.Close()

	w.printRegions(classified)
	w.printCores(sess.Target().Cores)

	return Program(w.Library, sess, w.Config.Firmware, w.Config.Format, NewReporter(w.Out).OnEvent)
}

func (w *Workflow) discover(ctx context.Context) (probe.Descriptor, error) {
	descs, err := w.Library.ListProbes(ctx)
	if err != nil {
		return probe.Descriptor{}, errors.Wrap(err, "could not list probes")
	}

	w.printf("Probes:\n")
	for _, d := range descs {
		w.printf("Probe found => %s\n", d.Identifier)
	}
	w.printf("--------------------\n")

	if len(descs) == 0 {
		return probe.Descriptor{}, ErrNoProbes
	}
	if w.Config.Probe == "" {
		return descs[0], nil
	}
	for _, d := range descs {
		if strings.Contains(d.Identifier, w.Config.Probe) ||
			strings.Contains(d.Path, w.Config.Probe) ||
			(d.Serial != "" && strings.Contains(d.Serial, w.Config.Probe)) {
			return d, nil
		}
	}
	return probe.Descriptor{}, errors.Wrapf(ErrNoProbes, "none matching %q", w.Config.Probe)
}

// identify reads the chip identifier on a short lived connection. The probe
// is closed again before the attach proper.
func (w *Workflow) identify(d probe.Descriptor) (uint32, error) {
	p, err := w.Library.OpenProbe(d)
	if err != nil {
		return 0, &ProbeError{Probe: d.Identifier, Op: "open", Err: err}
	}
	defer p.Close()

	if err := p.AttachUnspecified(); err != nil {
		return 0, &ProbeError{Probe: d.Identifier, Op: "attach", Err: err}
	}

	id, err := p.ReadIdentifier()
	if err != nil {
		return 0, &ProbeError{Probe: d.Identifier, Op: "identify", Err: err}
	}
	return id, nil
}

func (w *Workflow) printRegions(c Classified) {
	w.printf("\nMemory regions\n")
	for _, r := range c.RAM {
		w.printf("Found RAM Region => %s : %s\n", target.DisplayName(r), r.Range)
	}
	for _, r := range c.NVM {
		w.printf("Found Flash Region => %s : %s\n", target.DisplayName(r), r.Range)
	}
	for _, r := range c.Generic {
		w.printf("Found Generic Region => %s : %s\n", target.DisplayName(r), r.Range)
	}
}

func (w *Workflow) printCores(cores []target.Core) {
	names := make([]string, len(cores))
	for i, c := range cores {
		names[i] = fmt.Sprintf("(%d, %s)", i, c.Type)
	}
	w.printf("cores: [%s]\n", strings.Join(names, ", "))
}

func (w *Workflow) printf(format string, args ...interface{}) {
	if w.Out != nil {
		fmt.Fprintf(w.Out, format, args...)
	}
}
