package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

const testHex = `:020000040800F2
:10000000000102030405060708090A0B0C0D0E0F78
:04001000DEADBEEFB4
:00000001FF
`

func TestDecodeImageHex(t *testing.T) {
	segs, err := DecodeImage([]byte(testHex), FormatHex, 0)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	if segs[0].Address != 0x08000000 {
		t.Errorf("address = %#x", segs[0].Address)
	}
	want := append([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, 0xde, 0xad, 0xbe, 0xef)
	if !bytes.Equal(segs[0].Data, want) {
		t.Errorf("data = %x", segs[0].Data)
	}
}

func TestDecodeImageBin(t *testing.T) {
	segs, err := DecodeImage([]byte{1, 2, 3}, FormatBin, 0x08004000)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if len(segs) != 1 || segs[0].Address != 0x08004000 || len(segs[0].Data) != 3 {
		t.Errorf("segments = %+v", segs)
	}
}

func TestDecodeImageErrors(t *testing.T) {
	if _, err := DecodeImage([]byte(":zz\n"), FormatHex, 0); err == nil {
		t.Error("expected a parse error")
	}
	if _, err := DecodeImage(nil, FormatBin, 0); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("err = %v, want ErrEmptyImage", err)
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	hexPath := filepath.Join(dir, "fw.hex")
	if err := os.WriteFile(hexPath, []byte(testHex), 0o644); err != nil {
		t.Fatal(err)
	}
	segs, err := LoadImage(hexPath, FormatHex, 0)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if len(segs) != 1 || segs[0].Address != 0x08000000 || len(segs[0].Data) != 20 {
		t.Errorf("segments = %+v", segs)
	}

	empty := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadImage(empty, FormatBin, 0); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("empty file err = %v", err)
	}
	if _, err := LoadImage(filepath.Join(dir, "missing.hex"), FormatHex, 0); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"hex", FormatHex, false},
		{"IHEX", FormatHex, false},
		{"", FormatHex, false},
		{"bin", FormatBin, false},
		{"elf", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) err = %v", tt.in, err)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
