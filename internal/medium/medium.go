// Package medium guesses the local link medium from the interface that
// carries the default route.
package medium

import (
	"errors"
	"strings"

	"github.com/NodePath81/netgauge/internal/estimate"
)

var ErrUnsupported = errors.New("medium detection is not supported on this platform")

// Link describes the interface the medium was derived from.
type Link struct {
	Name      string `json:"name"`
	EncapType string `json:"encap_type,omitempty"`
	Wireless  bool   `json:"wireless"`
}

var cellularPrefixes = []string{"wwan", "rmnet", "ccmni", "wwp", "cdc-wdm"}

// Classify maps a link to an estimation medium. Anything not recognizably
// wireless or cellular is treated as ethernet.
func Classify(l Link) estimate.Medium {
	if l.Wireless {
		return estimate.WiFi
	}
	name := strings.ToLower(l.Name)
	for _, prefix := range cellularPrefixes {
		if strings.HasPrefix(name, prefix) {
			return estimate.Cellular4G
		}
	}
	if strings.HasPrefix(name, "wl") {
		return estimate.WiFi
	}
	if strings.HasPrefix(name, "bnep") {
		return estimate.Bluetooth
	}
	return estimate.Ethernet
}
