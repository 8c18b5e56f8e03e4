package flash

import "github.com/synthread/go-probeflash/target"

// Classified is a memory map split by region kind, each group in
// declaration order.
type Classified struct {
	RAM     []target.RAMRegion
	NVM     []target.NVMRegion
	Generic []target.GenericRegion
}

// Classify partitions regions by kind. Every region lands in exactly one
// group; nil regions, including nil pointers, are skipped.
func Classify(regions []target.MemoryRegion) Classified {
	var c Classified
	for _, r := range regions {
		if ram, ok := target.AsRAM(r); ok {
			c.RAM = append(c.RAM, ram)
		} else if nvm, ok := target.AsNVM(r); ok {
			c.NVM = append(c.NVM, nvm)
		} else if g, ok := target.AsGeneric(r); ok {
			c.Generic = append(c.Generic, g)
		}
	}
	return c
}

// Len is the number of classified regions.
func (c Classified) Len() int {
	return len(c.RAM) + len(c.NVM) + len(c.Generic)
}

// Single returns the only RAM and the only flash region. Zero or several of
// either is an error.
func (c Classified) Single() (target.RAMRegion, target.NVMRegion, error) {
	switch {
	case len(c.RAM) == 0:
		return target.RAMRegion{}, target.NVMRegion{}, ErrNoRAMRegion
	case len(c.RAM) > 1:
		return target.RAMRegion{}, target.NVMRegion{}, ErrAmbiguousRAM
	case len(c.NVM) == 0:
		return target.RAMRegion{}, target.NVMRegion{}, ErrNoFlashRegion
	case len(c.NVM) > 1:
		return target.RAMRegion{}, target.NVMRegion{}, ErrAmbiguousFlash
	}
	return c.RAM[0], c.NVM[0], nil
}
