//go:build !linux

package medium

import "github.com/NodePath81/netgauge/internal/estimate"

func Detect() (estimate.Medium, Link, error) {
	return "", Link{}, ErrUnsupported
}
