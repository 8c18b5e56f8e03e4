package flash

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-probeflash/loader"
	"github.com/synthread/go-probeflash/probe"
)

// Program downloads the image into the session's flash with a chip erase
// and read-back verification. It must only be called on a session whose core
// Prepare confirmed halted. Events go to sink until the first failure.
func Program(lib Library, sess probe.Session, image string, format loader.Format, sink loader.Sink) error {
	tr := &tracker{sink: sink}
	err := lib.DownloadImage(sess, image, format, loader.Options{
		DoChipErase: true,
		SkipErase:   false,
		Verify:      true,
		Progress:    tr.observe,
	})
	return tr.result(err)
}

// tracker follows the Initialized → Filling → Erasing → Programming stage
// machine and stops forwarding at the first failure.
type tracker struct {
	sink loader.Sink

	stage  loader.Stage
	open   bool // stage started but not yet finished
	inited bool
	err    *FlashError
}

func (t *tracker) observe(ev loader.Event) {
	if t.err != nil {
		return
	}

	if err := t.advance(ev); err != nil {
		t.err = &FlashError{Stage: ev.Kind.Stage(), Err: err}
		logrus.WithFields(logrus.Fields{"event": ev.Kind, "stage": t.stage}).Debug("dropping out of order event")
		return
	}

	if ev.Kind.IsFailure() {
		t.err = &FlashError{Stage: t.stage, Err: ErrStageFailed}
	}

	t.forward(ev)
}

func (t *tracker) advance(ev loader.Event) error {
	k := ev.Kind
	switch {
	case k == loader.Initialized:
		if t.inited || t.stage != loader.StageNone {
			return errors.Wrapf(ErrOutOfOrder, "%v after %v", k, t.stage)
		}
		t.inited = true
	case k.IsStart():
		if t.open || k.Stage() != t.stage+1 {
			return errors.Wrapf(ErrOutOfOrder, "%v during %v", k, t.stage)
		}
		t.stage, t.open = k.Stage(), true
		logrus.WithField("stage", t.stage).Debug("stage started")
	default:
		if !t.open || k.Stage() != t.stage {
			return errors.Wrapf(ErrOutOfOrder, "%v during %v", k, t.stage)
		}
		if k.IsFinish() || k.IsFailure() {
			t.open = false
		}
	}
	return nil
}

// forward hands the event to the sink. A panicking sink is ignored.
func (t *tracker) forward(ev loader.Event) {
	if t.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.Debugf("progress sink panicked on %v: %v", ev.Kind, r)
		}
	}()
	t.sink(ev)
}

func (t *tracker) result(err error) error {
	if t.err != nil {
		if err != nil && errors.Is(t.err.Err, ErrStageFailed) {
			t.err.Err = err
		}
		return t.err
	}
	if err != nil {
		return &FlashError{Stage: t.stage, Err: err}
	}
	if t.stage != loader.StageProgramming || t.open {
		return &FlashError{Stage: t.stage, Err: ErrIncomplete}
	}
	return nil
}
