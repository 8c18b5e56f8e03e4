package flash

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/synthread/go-probeflash/loader"
)

var (
	ErrNoProbes       = errors.New("no debug probes found")
	ErrNoRAMRegion    = errors.New("target has no RAM region")
	ErrNoFlashRegion  = errors.New("target has no flash region")
	ErrAmbiguousRAM   = errors.New("target has more than one RAM region")
	ErrAmbiguousFlash = errors.New("target has more than one flash region")
	ErrCoreNotHalted  = errors.New("core did not report halted")
	ErrOutOfOrder     = errors.New("progress event out of order")
	ErrStageFailed    = errors.New("stage reported failure")
	ErrIncomplete     = errors.New("download ended before programming finished")
)

// ProbeError is a failure to open or talk to a probe before a session
// exists.
type ProbeError struct {
	Probe string
	Op    string
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.Probe, e.Op, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// UnrecognizedError is returned for a chip identifier with no target
// selector. Family is set when the identifier is a known device ID.
type UnrecognizedError struct {
	ID     uint32
	Family string
}

func (e *UnrecognizedError) Error() string {
	if e.Family != "" {
		return fmt.Sprintf("unrecognized chip %#x (%s): no target description", e.ID, e.Family)
	}
	return fmt.Sprintf("unrecognized chip identifier %#x", e.ID)
}

// RegistrationError is a failure to load a target description resource.
type RegistrationError struct {
	Resource string
	Err      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("could not register target description %s: %v", e.Resource, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// PrepareStep names the checkpoint of Prepare that failed.
type PrepareStep string

const (
	StepOpen      PrepareStep = "open"
	StepAttach    PrepareStep = "attach"
	StepClassify  PrepareStep = "classify"
	StepCore      PrepareStep = "core"
	StepHalt      PrepareStep = "halt"
	StepHaltQuery PrepareStep = "halt-query"
)

// PrepareError records which step of session preparation failed.
type PrepareError struct {
	Step PrepareStep
	Err  error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare %s: %v", e.Step, e.Err)
}

func (e *PrepareError) Unwrap() error { return e.Err }

// HaltFailed reports whether the core could not be brought to a halt.
func (e *PrepareError) HaltFailed() bool {
	return e.Step == StepHalt || e.Step == StepHaltQuery
}

// FlashError is a failed or malformed download. Stage is the stage that was
// running.
type FlashError struct {
	Stage loader.Stage
	Err   error
}

func (e *FlashError) Error() string {
	return fmt.Sprintf("flash %s stage: %v", e.Stage, e.Err)
}

func (e *FlashError) Unwrap() error { return e.Err }
