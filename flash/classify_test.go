package flash

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	"github.com/synthread/go-probeflash/target"
)

func TestClassifyPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for n := 0; n < 50; n++ {
		var regions []target.MemoryRegion
		var kinds []int
		count := rng.Intn(12)
		for i := 0; i < count; i++ {
			r := target.Range{Start: uint32(i) * 0x1000, Length: 0x1000}
			k := rng.Intn(3)
			kinds = append(kinds, k)
			switch k {
			case 0:
				regions = append(regions, target.RAMRegion{Range: r})
			case 1:
				regions = append(regions, target.NVMRegion{Range: r})
			case 2:
				regions = append(regions, target.GenericRegion{Range: r})
			}
		}

		c := Classify(regions)
		if c.Len() != len(regions) {
			t.Fatalf("classified %d of %d regions", c.Len(), len(regions))
		}

		// order is preserved within each group
		var ri, ni, gi int
		for i, k := range kinds {
			start := uint32(i) * 0x1000
			switch k {
			case 0:
				if c.RAM[ri].Range.Start != start {
					t.Fatalf("RAM[%d] out of order", ri)
				}
				ri++
			case 1:
				if c.NVM[ni].Range.Start != start {
					t.Fatalf("NVM[%d] out of order", ni)
				}
				ni++
			case 2:
				if c.Generic[gi].Range.Start != start {
					t.Fatalf("Generic[%d] out of order", gi)
				}
				gi++
			}
		}
	}
}

func TestClassifyPointers(t *testing.T) {
	c := Classify([]target.MemoryRegion{
		&target.RAMRegion{Name: "a"},
		&target.NVMRegion{Name: "b"},
		&target.GenericRegion{Name: "c"},
		(*target.NVMRegion)(nil),
	})
	if len(c.RAM) != 1 || len(c.NVM) != 1 || len(c.Generic) != 1 {
		t.Errorf("classified = %+v", c)
	}
	if c.NVM[0].Name != "b" {
		t.Errorf("flash = %+v", c.NVM[0])
	}
}

func TestClassifiedSingle(t *testing.T) {
	ram := target.RAMRegion{Name: "SRAM"}
	nvm := target.NVMRegion{Name: "Flash"}
	tests := []struct {
		name string
		c    Classified
		want error
	}{
		{"ok", Classified{RAM: []target.RAMRegion{ram}, NVM: []target.NVMRegion{nvm}}, nil},
		{"no ram", Classified{NVM: []target.NVMRegion{nvm}}, ErrNoRAMRegion},
		{"two ram", Classified{RAM: []target.RAMRegion{ram, ram}, NVM: []target.NVMRegion{nvm}}, ErrAmbiguousRAM},
		{"no flash", Classified{RAM: []target.RAMRegion{ram}}, ErrNoFlashRegion},
		{"two flash", Classified{RAM: []target.RAMRegion{ram}, NVM: []target.NVMRegion{nvm, nvm}}, ErrAmbiguousFlash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, n, err := tt.c.Single()
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if err == nil && (r.Name != "SRAM" || n.Name != "Flash") {
				t.Errorf("got %v %v", r, n)
			}
		})
	}
}
