// Package bytesize provides the ByteSize config type: a byte count that
// unmarshals from human-readable strings, so storage quotas and archive
// limits can be written as "10Gi" or "256MB" in the configuration file.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. Config fields of this type accept plain
// numbers, binary units (Ki/Mi/Gi/Ti, x1024), and decimal units
// (K/M/G/T, x1000), each with an optional trailing B.
type ByteSize uint64

// Unit multipliers.
const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var units = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// ParseByteSize parses values like "10Gi", "256MB", "1.5Gi", or "4096".
// Unit suffixes are case-insensitive.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	// Split at the last digit or decimal point.
	split := len(s)
	for split > 0 {
		c := s[split-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		split--
	}
	num := strings.TrimSpace(s[:split])
	suffix := strings.TrimSpace(s[split:])
	unit, ok := units[strings.ToLower(suffix)]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q in %q", suffix, s)
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q", s)
		}
		return ByteSize(f * float64(unit)), nil
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return ByteSize(n) * unit, nil
}

// UnmarshalText lets mapstructure and yaml decode ByteSize fields
// directly from strings.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// String renders the size with the largest fitting binary unit.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}
