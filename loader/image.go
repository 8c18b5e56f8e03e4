package loader

import (
	"bytes"
	"os"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Format is the on-disk encoding of a firmware image.
type Format int

const (
	FormatHex Format = iota
	FormatBin
)

var ErrUnknownFormat = errors.New("unknown image format")
var ErrEmptyImage = errors.New("image contains no data")

func (f Format) String() string {
	if f == FormatBin {
		return "bin"
	}
	return "hex"
}

// ParseFormat accepts "hex", "ihex" and "bin".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "hex", "ihex", "":
		return FormatHex, nil
	case "bin", "binary":
		return FormatBin, nil
	}
	return 0, errors.Wrap(ErrUnknownFormat, s)
}

// Segment is a contiguous run of image data.
type Segment struct {
	Address uint32
	Data    []byte
}

// LoadImage maps an image file read-only and decodes it. Binary images are
// placed at base. The returned segments do not reference the mapping.
func LoadImage(path string, format Format, base uint32) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "could not stat %s", path)
	}
	if fi.Size() == 0 {
		return nil, ErrEmptyImage
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "could not map %s", path)
	}
	defer data.Unmap()

	segs, err := DecodeImage(data, format, base)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		segs[i].Data = append([]byte(nil), segs[i].Data...)
	}
	return segs, nil
}

// DecodeImage decodes image bytes already in memory.
func DecodeImage(data []byte, format Format, base uint32) ([]Segment, error) {
	mem := gohex.NewMemory()

	switch format {
	case FormatHex:
		if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
			return nil, errors.Wrap(err, "could not parse intel hex")
		}
	case FormatBin:
		if err := mem.AddBinary(base, data); err != nil {
			return nil, errors.Wrap(err, "could not place binary image")
		}
	default:
		return nil, ErrUnknownFormat
	}

	var segs []Segment
	for _, s := range mem.GetDataSegments() {
		if len(s.Data) == 0 {
			continue
		}
		segs = append(segs, Segment{Address: s.Address, Data: s.Data})
	}
	if len(segs) == 0 {
		return nil, ErrEmptyImage
	}
	return segs, nil
}
