package loader

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/synthread/go-probeflash/target"
)

// OutOfRangeError is returned when image data falls outside every flash
// region of the target.
type OutOfRangeError struct {
	Address uint32
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("image data at %#08x is outside of flash", e.Address)
}

// Page is one programming unit of a plan.
type Page struct {
	Address uint32
	Data    []byte

	covered []bool
}

// NeedsFill reports whether part of the page is not covered by the image.
func (p *Page) NeedsFill() bool {
	for _, c := range p.covered {
		if !c {
			return true
		}
	}
	return false
}

// Plan is the set of pages and sectors touched by one image.
type Plan struct {
	Regions []target.NVMRegion
	Pages   []*Page
	Sectors []target.Sector
}

// Layout summarises the plan.
func (p *Plan) Layout() Layout {
	n := 0
	for _, pg := range p.Pages {
		n += len(pg.Data)
	}
	return Layout{Pages: len(p.Pages), Sectors: len(p.Sectors), Bytes: n}
}

// NewPlan splits the image segments into pages of the regions they land in.
// Bytes of a page not covered by the image start out as the erased value.
func NewPlan(regions []target.NVMRegion, segs []Segment) (*Plan, error) {
	pages := map[uint32]*Page{}

	for _, seg := range segs {
		addr := seg.Address
		data := seg.Data
		for len(data) > 0 {
			r, ok := regionFor(regions, addr)
			if !ok {
				return nil, &OutOfRangeError{Address: addr}
			}

			pageAddr := r.Range.Start + (addr-r.Range.Start)/r.PageSize*r.PageSize
			pg, ok := pages[pageAddr]
			if !ok {
				size := min(uint64(r.PageSize), r.Range.End()-uint64(pageAddr))
				pg = &Page{
					Address: pageAddr,
					Data:    make([]byte, size),
					covered: make([]bool, size),
				}
				for i := range pg.Data {
					pg.Data[i] = r.ErasedByte
				}
				pages[pageAddr] = pg
			}

			off := int(addr - pageAddr)
			n := min(len(data), len(pg.Data)-off)
			copy(pg.Data[off:], data[:n])
			for i := off; i < off+n; i++ {
				pg.covered[i] = true
			}

			data = data[n:]
			addr += uint32(n)
		}
	}

	plan := &Plan{Regions: regions}
	for _, pg := range pages {
		plan.Pages = append(plan.Pages, pg)
	}
	slices.SortFunc(plan.Pages, func(a, b *Page) int {
		return cmpAddr(a.Address, b.Address)
	})

	seen := map[uint32]bool{}
	for _, pg := range plan.Pages {
		r, _ := regionFor(regions, pg.Address)
		for _, s := range r.SectorList() {
			if seen[s.Address] || !overlaps(s, pg) {
				continue
			}
			seen[s.Address] = true
			plan.Sectors = append(plan.Sectors, s)
		}
	}
	slices.SortFunc(plan.Sectors, func(a, b target.Sector) int {
		return cmpAddr(a.Address, b.Address)
	})

	return plan, nil
}

func regionFor(regions []target.NVMRegion, addr uint32) (target.NVMRegion, bool) {
	for _, r := range regions {
		if r.Range.Contains(addr, 1) {
			return r, true
		}
	}
	return target.NVMRegion{}, false
}

func overlaps(s target.Sector, pg *Page) bool {
	sEnd := uint64(s.Address) + uint64(s.Size)
	pEnd := uint64(pg.Address) + uint64(len(pg.Data))
	return uint64(s.Address) < pEnd && uint64(pg.Address) < sEnd
}

func cmpAddr(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
