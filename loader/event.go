package loader

import "time"

// EventKind identifies one transition of a download.
type EventKind int

const (
	Initialized EventKind = iota

	StartedFilling
	PageFilled
	FailedFilling
	FinishedFilling

	StartedErasing
	SectorErased
	FailedErasing
	FinishedErasing

	StartedProgramming
	PageProgrammed
	FailedProgramming
	FinishedProgramming
)

var eventNames = map[EventKind]string{
	Initialized:         "initialized",
	StartedFilling:      "started-filling",
	PageFilled:          "page-filled",
	FailedFilling:       "failed-filling",
	FinishedFilling:     "finished-filling",
	StartedErasing:      "started-erasing",
	SectorErased:        "sector-erased",
	FailedErasing:       "failed-erasing",
	FinishedErasing:     "finished-erasing",
	StartedProgramming:  "started-programming",
	PageProgrammed:      "page-programmed",
	FailedProgramming:   "failed-programming",
	FinishedProgramming: "finished-programming",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

// Stage is one phase of a download.
type Stage int

const (
	StageNone Stage = iota
	StageFilling
	StageErasing
	StageProgramming
)

func (s Stage) String() string {
	switch s {
	case StageFilling:
		return "fill"
	case StageErasing:
		return "erase"
	case StageProgramming:
		return "program"
	}
	return "init"
}

// Stage returns the stage an event belongs to.
func (k EventKind) Stage() Stage {
	switch {
	case k >= StartedFilling && k <= FinishedFilling:
		return StageFilling
	case k >= StartedErasing && k <= FinishedErasing:
		return StageErasing
	case k >= StartedProgramming && k <= FinishedProgramming:
		return StageProgramming
	}
	return StageNone
}

// IsStart reports whether the event opens a stage.
func (k EventKind) IsStart() bool {
	return k == StartedFilling || k == StartedErasing || k == StartedProgramming
}

// IsUnit reports whether the event is a per-page or per-sector event.
func (k EventKind) IsUnit() bool {
	return k == PageFilled || k == SectorErased || k == PageProgrammed
}

// IsFailure reports whether the event terminates a stage unsuccessfully.
func (k EventKind) IsFailure() bool {
	return k == FailedFilling || k == FailedErasing || k == FailedProgramming
}

// IsFinish reports whether the event terminates a stage successfully.
func (k EventKind) IsFinish() bool {
	return k == FinishedFilling || k == FinishedErasing || k == FinishedProgramming
}

// Layout summarises a download plan.
type Layout struct {
	Pages   int
	Sectors int
	Bytes   int
}

// Event is emitted for every transition of a download.
type Event struct {
	Kind EventKind

	// Size and Elapsed are set on unit events.
	Size    uint32
	Elapsed time.Duration

	// Layout is set on Initialized.
	Layout Layout
}

// Sink receives download events in order on the calling goroutine.
type Sink func(Event)
