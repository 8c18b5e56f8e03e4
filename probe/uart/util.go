package uart

import (
	"golang.org/x/exp/constraints"
)

// checksum is the XOR of all bytes, as the bootloader expects after
// addresses and data blocks. A lone byte is its own checksum.
func checksum(bs []byte) byte {
	var s byte
	for _, b := range bs {
		s ^= b
	}
	return s
}

// min will return the minimum of the two values
func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
