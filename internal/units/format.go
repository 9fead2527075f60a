package units

import "fmt"

// FormatBitsPerSecond formats bits per second with appropriate units
func FormatBitsPerSecond(bps float64) string {
	return formatWithUnits(bps, []string{"bps", "Kbps", "Mbps", "Gbps", "Tbps"}, 1000)
}

// FormatBytes formats byte counts using the binary ladder of FromBytes.
func FormatBytes(bytes float64) string {
	if bytes < 0 {
		return "0 bytes"
	}
	return FromBytes(bytes).String()
}

// FormatMbps formats a megabit-per-second figure.
func FormatMbps(mbps float64) string {
	return FormatBitsPerSecond(mbps * 1e6)
}

// FormatSeconds formats seconds with appropriate units
func FormatSeconds(sec float64) string {
	if sec < 0 {
		return "0s"
	}
	if sec < 1 {
		ms := sec * 1000
		return fmt.Sprintf("%.2fms", ms)
	}
	if sec < 10 {
		return fmt.Sprintf("%.2fs", sec)
	}
	if sec < 3600 {
		return fmt.Sprintf("%.1fs", sec)
	}
	h := int(sec / 3600)
	m := int(sec/60) % 60
	s := int(sec) % 60
	return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
}

func formatWithUnits(value float64, units []string, base float64) string {
	if value < 0 {
		return "0"
	}
	idx := 0
	for value >= base && idx < len(units)-1 {
		value /= base
		idx++
	}
	if value >= 100 {
		return fmt.Sprintf("%.0f %s", value, units[idx])
	}
	if value >= 10 {
		return fmt.Sprintf("%.1f %s", value, units[idx])
	}
	return fmt.Sprintf("%.2f %s", value, units[idx])
}
