package sim

import (
	"github.com/pkg/errors"

	"github.com/synthread/go-probeflash/probe"
	"github.com/synthread/go-probeflash/target"
)

type flasher struct {
	s *Session
}

// region returns the backing memory of the NVM region containing n bytes at
// addr, allocating it erased on first use.
func (f *flasher) region(addr uint32, n int) (target.NVMRegion, []byte, error) {
	for _, r := range f.s.target.MemoryMap {
		nvm, ok := target.AsNVM(r)
		if !ok || !nvm.Range.Contains(addr, n) {
			continue
		}
		d := f.s.probe.driver
		mem, ok := d.memory[nvm.Range.Start]
		if !ok {
			mem = make([]byte, nvm.Range.Length)
			for i := range mem {
				mem[i] = nvm.ErasedByte
			}
			d.memory[nvm.Range.Start] = mem
		}
		return nvm, mem, nil
	}
	return target.NVMRegion{}, nil, errors.Errorf("address %#08x+%d is not flash", addr, n)
}

func (f *flasher) check(fault Fault) error {
	if f.s.closed {
		return probe.ErrClosed
	}
	if f.s.probe.driver.cfg.Fault == fault {
		return ErrInjected
	}
	return nil
}

func (f *flasher) EraseAll() error {
	if err := f.check(FaultErase); err != nil {
		return err
	}
	if !f.s.perms.EraseAllAllowed() {
		return probe.ErrEraseAllDenied
	}
	d := f.s.probe.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range f.s.target.MemoryMap {
		nvm, ok := target.AsNVM(r)
		if !ok {
			continue
		}
		mem := make([]byte, nvm.Range.Length)
		for i := range mem {
			mem[i] = nvm.ErasedByte
		}
		d.memory[nvm.Range.Start] = mem
	}
	return nil
}

func (f *flasher) EraseSector(addr uint32) error {
	if err := f.check(FaultErase); err != nil {
		return err
	}
	d := f.s.probe.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	nvm, mem, err := f.region(addr, 1)
	if err != nil {
		return err
	}
	sec, ok := nvm.SectorAt(addr)
	if !ok || sec.Address != addr {
		return errors.Errorf("%#08x is not a sector boundary", addr)
	}
	off := sec.Address - nvm.Range.Start
	for i := uint32(0); i < sec.Size; i++ {
		mem[off+i] = nvm.ErasedByte
	}
	return nil
}

func (f *flasher) Program(addr uint32, data []byte) error {
	if err := f.check(FaultProgram); err != nil {
		return err
	}
	d := f.s.probe.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	nvm, mem, err := f.region(addr, len(data))
	if err != nil {
		return err
	}
	off := addr - nvm.Range.Start
	for i, b := range data {
		mem[off+uint32(i)] &= b
	}
	if d.cfg.Fault == FaultVerify && len(data) > 0 {
		mem[off] ^= 0x01
	}
	return nil
}

func (f *flasher) Read(addr uint32, n int) ([]byte, error) {
	if err := f.check(FaultRead); err != nil {
		return nil, err
	}
	d := f.s.probe.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	nvm, mem, err := f.region(addr, n)
	if err != nil {
		return nil, err
	}
	off := addr - nvm.Range.Start
	return append([]byte(nil), mem[off:off+uint32(n)]...), nil
}
