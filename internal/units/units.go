// Package units converts byte counts to and from binary size units and
// formats sizes, rates and durations for display.
package units

import (
	"fmt"
	"math"
	"strings"
)

// Unit is a binary size unit; each step is a factor of 1024.
type Unit string

const (
	Bytes Unit = "bytes"
	KB    Unit = "KB"
	MB    Unit = "MB"
	GB    Unit = "GB"
	TB    Unit = "TB"
)

var ladder = []Unit{Bytes, KB, MB, GB, TB}

// Size is a byte count expressed in a unit.
type Size struct {
	Value float64
	Unit  Unit
}

func (s Size) String() string {
	return fmt.Sprintf("%.2f %s", s.Value, s.Unit)
}

// Scale returns the number of bytes in one unit, or 0 for an unknown unit.
func Scale(u Unit) float64 {
	for i, candidate := range ladder {
		if candidate == u {
			return math.Pow(1024, float64(i))
		}
	}
	return 0
}

// ToBytes converts size in unit to bytes.
func ToBytes(size float64, unit Unit) float64 {
	return size * Scale(unit)
}

// FromBytes picks the coarsest unit that keeps the value at or above 1
// (capped at TB) and rounds to two decimals. Negative input is not supported.
func FromBytes(bytes float64) Size {
	value := bytes
	idx := 0
	for value >= 1024 && idx < len(ladder)-1 {
		value /= 1024
		idx++
	}
	return Size{Value: math.Round(value*100) / 100, Unit: ladder[idx]}
}

// ParseUnit accepts unit names case-insensitively ("mb", "MiB", "b", "bytes").
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "b", "byte", "bytes":
		return Bytes, nil
	case "k", "kb", "kib":
		return KB, nil
	case "m", "mb", "mib":
		return MB, nil
	case "g", "gb", "gib":
		return GB, nil
	case "t", "tb", "tib":
		return TB, nil
	default:
		return "", fmt.Errorf("unknown size unit %q", s)
	}
}

// MBps converts a byte count over a duration in seconds to binary megabytes per second.
func MBps(bytes int64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(bytes) / seconds / 1024 / 1024
}
