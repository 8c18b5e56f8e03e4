package uart

import (
	"github.com/pkg/errors"

	"github.com/synthread/go-probeflash/probe"
	"github.com/synthread/go-probeflash/target"
)

// flasher drives the flash through the bootloader's memory commands
type flasher struct {
	s *Session
}

func (f *flasher) ready() error {
	if f.s.closed {
		return probe.ErrClosed
	}
	if !f.s.mc().IsOpen() {
		return ErrClosed
	}
	return nil
}

func (f *flasher) EraseAll() error {
	if err := f.ready(); err != nil {
		return err
	}
	if !f.s.perms.EraseAllAllowed() {
		return probe.ErrEraseAllDenied
	}
	return errors.Wrap(f.s.mc().stmCmdEraseMemory(), "mass erase")
}

// EraseSector erases the sector at addr. The bootloader addresses sectors by
// their index within the flash region.
func (f *flasher) EraseSector(addr uint32) error {
	if err := f.ready(); err != nil {
		return err
	}

	for _, r := range f.s.target.MemoryMap {
		nvm, ok := target.AsNVM(r)
		if !ok || !nvm.Range.Contains(addr, 1) {
			continue
		}
		for i, sec := range nvm.SectorList() {
			if sec.Address == addr {
				return errors.Wrapf(f.s.mc().stmCmdErasePages(uint16(i)), "erase sector %d", i)
			}
		}
		return errors.Errorf("%#08x is not a sector boundary", addr)
	}

	return errors.Errorf("address %#08x is not flash", addr)
}

func (f *flasher) Program(addr uint32, data []byte) error {
	if err := f.ready(); err != nil {
		return err
	}
	return f.s.mc().stmWrite(addr, data)
}

func (f *flasher) Read(addr uint32, n int) ([]byte, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	return f.s.mc().stmRead(addr, n)
}
