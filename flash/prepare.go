package flash

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synthread/go-probeflash/probe"
)

// DefaultHaltTimeout bounds reset-and-halt when no timeout is configured.
var DefaultHaltTimeout = 1 * time.Second

// PrepareOptions tunes Prepare.
type PrepareOptions struct {
	// HaltTimeout bounds the reset-and-halt request. Zero means
	// DefaultHaltTimeout.
	HaltTimeout time.Duration
}

// Prepare opens the probe, attaches it to the named target with erase-all
// permission, checks the memory map has exactly one RAM and one flash region
// and halts core 0. The session is only returned once the core reports
// halted; on any failure it has been closed.
func Prepare(lib Library, d probe.Descriptor, targetName string, opts PrepareOptions) (probe.Session, Classified, error) {
	timeout := opts.HaltTimeout
	if timeout <= 0 {
		timeout = DefaultHaltTimeout
	}

	p, err := lib.OpenProbe(d)
	if err != nil {
		return nil, Classified{}, &PrepareError{Step: StepOpen, Err: err}
	}

	sess, err := lib.Attach(p, targetName, probe.NewPermissions().AllowEraseAll())
	if err != nil {
		p.Close()
		return nil, Classified{}, &PrepareError{Step: StepAttach, Err: err}
	}

	fail := func(step PrepareStep, err error) (probe.Session, Classified, error) {
		sess.Close()
		return nil, Classified{}, &PrepareError{Step: step, Err: err}
	}

	classified := Classify(sess.Target().MemoryMap)
	if _, _, err := classified.Single(); err != nil {
		return fail(StepClassify, err)
	}

	core, err := sess.Core(0)
	if err != nil {
		return fail(StepCore, err)
	}

	if err := core.ResetAndHalt(timeout); err != nil {
		return fail(StepHalt, err)
	}

	halted, err := core.IsHalted()
	if err != nil {
		return fail(StepHaltQuery, err)
	}
	if !halted {
		return fail(StepHaltQuery, ErrCoreNotHalted)
	}

	logrus.WithFields(logrus.Fields{
		"probe":  d.Identifier,
		"target": targetName,
	}).Debug("core halted")

	return sess, classified, nil
}
