package config

import (
	"fmt"
	"strings"
)

// ParseBandwidth parses a human-readable bandwidth string to bits/sec.
// Supports formats: "100k", "100m", "1.5g" (case insensitive).
// Bare numbers are rejected except for zero ("0" or "0.0").
// Units: k=1000, m=1000000, g=1000000000 (SI units, not binary).
func ParseBandwidth(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := uint64(1)
	numStr := s
	switch s[len(s)-1] {
	case 'k':
		multiplier = 1_000
		numStr = s[:len(s)-1]
	case 'm':
		multiplier = 1_000_000
		numStr = s[:len(s)-1]
	case 'g':
		multiplier = 1_000_000_000
		numStr = s[:len(s)-1]
	default:
		if s == "0" || s == "0.0" {
			return 0, nil
		}
		return 0, fmt.Errorf("bandwidth must include unit suffix (k/m/g): %q", s)
	}

	value, err := parseNumber(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("bandwidth cannot be negative: %q", s)
	}
	return uint64(value * float64(multiplier)), nil
}

// ParseSize parses a human-readable size string to bytes.
// Supports formats: "4096", "500kb", "64mb", "1gb" (case insensitive).
// Units: kb=1024, mb=1024^2, gb=1024^3.
func ParseSize(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	multiplier := uint64(1)
	numStr := s
	switch {
	case strings.HasSuffix(s, "kb"):
		multiplier = 1 << 10
		numStr = s[:len(s)-2]
	case strings.HasSuffix(s, "mb"):
		multiplier = 1 << 20
		numStr = s[:len(s)-2]
	case strings.HasSuffix(s, "gb"):
		multiplier = 1 << 30
		numStr = s[:len(s)-2]
	}

	value, err := parseNumber(numStr)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", s)
	}
	return uint64(value * float64(multiplier)), nil
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	var value float64
	var rest string
	n, _ := fmt.Sscanf(s, "%f%s", &value, &rest)
	if n == 0 || rest != "" {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return value, nil
}
