package spiflash

import (
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"
)

// LoadHexFile parses an Intel HEX image into (base address, flat data).
// Gaps between segments are filled with 0xFF so the result programs as
// untouched flash.
func LoadHexFile(r io.Reader) (uint32, []byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return 0, nil, fmt.Errorf("couldn't parse hex: %w", err)
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return 0, nil, fmt.Errorf("hex file contains no data")
	}
	base := segments[0].Address
	end := base
	for _, seg := range segments {
		if seg.Address < base {
			base = seg.Address
		}
		if segEnd := seg.Address + uint32(len(seg.Data)); segEnd > end {
			end = segEnd
		}
	}
	data := make([]byte, end-base)
	for i := range data {
		data[i] = 0xFF
	}
	for _, seg := range segments {
		copy(data[seg.Address-base:], seg.Data)
	}
	return base, data, nil
}

// SaveHexFile writes data at the given base address as Intel HEX.
func SaveHexFile(w io.Writer, address uint32, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(address, data); err != nil {
		return fmt.Errorf("couldn't stage hex data: %w", err)
	}
	return mem.DumpIntelHex(w, 16)
}
