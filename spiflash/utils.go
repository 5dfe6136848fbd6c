package spiflash

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseSize understands decimal ("4096"), hex ("0x10000") and suffixed
// ("64K", "16M", "1G", also "128KB" style) notations. Sizes are byte counts;
// zero and negative values are rejected.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		value, err := strconv.ParseInt(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("bad size %q: %w", s, err)
		}
		if value <= 0 {
			return 0, fmt.Errorf("bad size %q: must be positive", s)
		}
		return value, nil
	}
	upper := strings.ToUpper(s)
	multiplier := int64(1)
	for _, suffix := range []struct {
		text string
		mult int64
	}{
		{"GB", 1 << 30}, {"G", 1 << 30},
		{"MB", 1 << 20}, {"M", 1 << 20},
		{"KB", 1 << 10}, {"K", 1 << 10},
	} {
		if strings.HasSuffix(upper, suffix.text) {
			upper = strings.TrimSuffix(upper, suffix.text)
			multiplier = suffix.mult
			break
		}
	}
	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size %q: %w", s, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("bad size %q: must be positive", s)
	}
	return value * multiplier, nil
}

// ParseAddress accepts decimal or 0x-prefixed hex.
func ParseAddress(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	value, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return uint32(value), nil
}

// FormatSize renders a byte count the way humans read it.
func FormatSize(n int64) string {
	value := float64(n)
	for _, unit := range []string{"B", "KB", "MB"} {
		if value < 1024 {
			return fmt.Sprintf("%.2f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.2f GB", value)
}

// AlignDown32 rounds value down to a multiple of align.
func AlignDown32(value, align uint32) uint32 {
	return value - value%align
}

// AlignUp32 rounds value up to a multiple of align.
func AlignUp32(value, align uint32) uint32 {
	rem := value % align
	if rem == 0 {
		return value
	}
	return value + align - rem
}

// CountErased returns how many bytes still read as erased flash (0xFF).
func CountErased(data []byte) int {
	count := 0
	for _, b := range data {
		if b == 0xFF {
			count++
		}
	}
	return count
}

// HexDump formats data 16 bytes per line with addresses and an ASCII gutter.
func HexDump(data []byte, base uint32) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[i:end]
		fmt.Fprintf(&sb, "%08X: ", base+uint32(i))
		for j := 0; j < 16; j++ {
			if j < len(line) {
				fmt.Fprintf(&sb, "%02X ", line[j])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteByte(' ')
		for _, b := range line {
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Produce an md5 string from given data (a simple shortcut)
func Md5String(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}
