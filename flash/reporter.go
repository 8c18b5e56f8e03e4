package flash

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synthread/go-probeflash/loader"
)

var reportLines = map[loader.EventKind]string{
	loader.Initialized: "---Program Begin---",

	loader.StartedFilling:  "Fill start",
	loader.FailedFilling:   "Fill fail",
	loader.FinishedFilling: "Fill complete",

	loader.StartedErasing:  "Erase start",
	loader.FailedErasing:   "Erase fail",
	loader.FinishedErasing: "Erase complete",

	loader.StartedProgramming:  "Program start",
	loader.FailedProgramming:   "Program fail",
	loader.FinishedProgramming: "Program complete",
}

// Reporter prints stage transitions. Unit events are only tallied and
// logged at debug level.
type Reporter struct {
	out io.Writer

	units   int
	bytes   uint64
	elapsed time.Duration
}

// NewReporter returns a reporter writing progress lines to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{out: w}
}

// OnEvent renders one event. It never panics and ignores write errors.
func (r *Reporter) OnEvent(ev loader.Event) {
	defer func() {
		if p := recover(); p != nil {
			logrus.Debugf("reporter: dropped %v: %v", ev.Kind, p)
		}
	}()

	if ev.Kind.IsUnit() {
		r.units++
		r.bytes += uint64(ev.Size)
		r.elapsed += ev.Elapsed
		logrus.WithFields(logrus.Fields{
			"event":   ev.Kind,
			"size":    ev.Size,
			"elapsed": ev.Elapsed,
		}).Debug("progress")
		return
	}

	if ev.Kind == loader.Initialized {
		logrus.WithFields(logrus.Fields{
			"pages":   ev.Layout.Pages,
			"sectors": ev.Layout.Sectors,
			"bytes":   ev.Layout.Bytes,
		}).Debug("flash layout")
	}

	if ev.Kind.IsFinish() || ev.Kind.IsFailure() {
		logrus.WithFields(logrus.Fields{
			"stage":   ev.Kind.Stage(),
			"units":   r.units,
			"bytes":   r.bytes,
			"elapsed": r.elapsed,
		}).Debug("stage done")
		r.units, r.bytes, r.elapsed = 0, 0, 0
	}

	if line, ok := reportLines[ev.Kind]; ok && r.out != nil {
		fmt.Fprintln(r.out, line)
	}
}
