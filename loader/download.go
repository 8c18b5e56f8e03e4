// Package loader writes firmware images into the flash of an attached target
// in three stages (fill, erase, program) and reports every step as an Event.
package loader

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-probeflash/probe"
	"github.com/synthread/go-probeflash/target"
)

var ErrNoFlash = errors.New("target has no flash region")

// VerifyError is returned when a page reads back differently than written.
type VerifyError struct {
	Address  uint32
	Expected byte
	Actual   byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify failed at %#08x: expected %#02x, read %#02x",
		e.Address, e.Expected, e.Actual)
}

// Options controls a download.
type Options struct {
	// DoChipErase erases the whole array instead of the touched sectors.
	DoChipErase bool
	// SkipErase assumes the flash is already erased.
	SkipErase bool
	// Verify reads every page back after programming it.
	Verify bool
	// Progress receives every event. Optional.
	Progress Sink
}

// Download loads the image at path and writes it to the session's flash.
// Binary images are based at the start of the first flash region.
func Download(sess probe.Session, path string, format Format, opts Options) error {
	regions := FlashRegions(sess.Target())
	if len(regions) == 0 {
		return ErrNoFlash
	}

	segs, err := LoadImage(path, format, regions[0].Range.Start)
	if err != nil {
		return err
	}

	return Write(sess, segs, opts)
}

// Write writes already decoded segments to the session's flash.
func Write(sess probe.Session, segs []Segment, opts Options) error {
	regions := FlashRegions(sess.Target())
	if len(regions) == 0 {
		return ErrNoFlash
	}

	plan, err := NewPlan(regions, segs)
	if err != nil {
		return err
	}

	fl, err := sess.Flasher()
	if err != nil {
		return errors.Wrap(err, "could not get flasher")
	}

	d := &downloader{fl: fl, plan: plan, opts: opts}
	return d.run()
}

// FlashRegions returns the NVM regions of a descriptor in declaration order.
func FlashRegions(d *target.Descriptor) []target.NVMRegion {
	var regions []target.NVMRegion
	if d == nil {
		return nil
	}
	for _, r := range d.MemoryMap {
		if n, ok := target.AsNVM(r); ok {
			regions = append(regions, n)
		}
	}
	return regions
}

type downloader struct {
	fl   probe.Flasher
	plan *Plan
	opts Options
}

func (d *downloader) emit(ev Event) {
	if d.opts.Progress != nil {
		d.opts.Progress(ev)
	}
}

func (d *downloader) run() error {
	layout := d.plan.Layout()
	logrus.WithFields(logrus.Fields{
		"pages":   layout.Pages,
		"sectors": layout.Sectors,
		"bytes":   layout.Bytes,
	}).Debug("download plan")

	d.emit(Event{Kind: Initialized, Layout: layout})

	if err := d.fill(); err != nil {
		d.emit(Event{Kind: FailedFilling})
		return errors.Wrap(err, "fill failed")
	}
	d.emit(Event{Kind: FinishedFilling})

	if err := d.erase(); err != nil {
		d.emit(Event{Kind: FailedErasing})
		return errors.Wrap(err, "erase failed")
	}
	d.emit(Event{Kind: FinishedErasing})

	if err := d.program(); err != nil {
		d.emit(Event{Kind: FailedProgramming})
		return errors.Wrap(err, "program failed")
	}
	d.emit(Event{Kind: FinishedProgramming})

	return nil
}

// fill completes partially covered pages. After a chip erase the gaps keep
// the erased value, otherwise the current flash contents are restored.
func (d *downloader) fill() error {
	d.emit(Event{Kind: StartedFilling})

	for _, pg := range d.plan.Pages {
		if !pg.NeedsFill() {
			continue
		}
		start := time.Now()
		if !d.opts.DoChipErase {
			cur, err := d.fl.Read(pg.Address, len(pg.Data))
			if err != nil {
				return errors.Wrapf(err, "could not read page %#08x", pg.Address)
			}
			for i, c := range pg.covered {
				if !c && i < len(cur) {
					pg.Data[i] = cur[i]
				}
			}
		}
		d.emit(Event{Kind: PageFilled, Size: uint32(len(pg.Data)), Elapsed: time.Since(start)})
	}
	return nil
}

func (d *downloader) erase() error {
	d.emit(Event{Kind: StartedErasing})

	if d.opts.SkipErase {
		return nil
	}

	if d.opts.DoChipErase {
		start := time.Now()
		if err := d.fl.EraseAll(); err != nil {
			return errors.Wrap(err, "chip erase")
		}
		var size uint32
		for _, r := range d.plan.Regions {
			size += r.Range.Length
		}
		d.emit(Event{Kind: SectorErased, Size: size, Elapsed: time.Since(start)})
		return nil
	}

	for _, s := range d.plan.Sectors {
		start := time.Now()
		if err := d.fl.EraseSector(s.Address); err != nil {
			return errors.Wrapf(err, "sector %#08x", s.Address)
		}
		d.emit(Event{Kind: SectorErased, Size: s.Size, Elapsed: time.Since(start)})
	}
	return nil
}

func (d *downloader) program() error {
	d.emit(Event{Kind: StartedProgramming})

	for _, pg := range d.plan.Pages {
		start := time.Now()
		if err := d.fl.Program(pg.Address, pg.Data); err != nil {
			return errors.Wrapf(err, "page %#08x", pg.Address)
		}
		if d.opts.Verify {
			if err := d.verify(pg); err != nil {
				return err
			}
		}
		d.emit(Event{Kind: PageProgrammed, Size: uint32(len(pg.Data)), Elapsed: time.Since(start)})
	}
	return nil
}

func (d *downloader) verify(pg *Page) error {
	got, err := d.fl.Read(pg.Address, len(pg.Data))
	if err != nil {
		return errors.Wrapf(err, "could not read back page %#08x", pg.Address)
	}
	if bytes.Equal(got, pg.Data) {
		return nil
	}
	for i := range pg.Data {
		if i >= len(got) {
			return &VerifyError{Address: pg.Address + uint32(i), Expected: pg.Data[i]}
		}
		if got[i] != pg.Data[i] {
			return &VerifyError{Address: pg.Address + uint32(i), Expected: pg.Data[i], Actual: got[i]}
		}
	}
	return &VerifyError{Address: pg.Address + uint32(len(pg.Data))}
}
