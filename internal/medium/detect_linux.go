//go:build linux

package medium

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/NodePath81/netgauge/internal/estimate"
	"github.com/vishvananda/netlink"
)

const sysClassNet = "/sys/class/net"

// probeDestination only selects a route; nothing is sent to it.
var probeDestination = net.IPv4(1, 1, 1, 1)

// Detect resolves the default-route interface through netlink and classifies it.
func Detect() (estimate.Medium, Link, error) {
	routes, err := netlink.RouteGet(probeDestination)
	if err != nil {
		return "", Link{}, fmt.Errorf("route lookup: %w", err)
	}
	if len(routes) == 0 || routes[0].LinkIndex == 0 {
		return "", Link{}, fmt.Errorf("no default route")
	}
	link, err := netlink.LinkByIndex(routes[0].LinkIndex)
	if err != nil {
		return "", Link{}, fmt.Errorf("link %d: %w", routes[0].LinkIndex, err)
	}
	attrs := link.Attrs()
	l := Link{
		Name:      attrs.Name,
		EncapType: attrs.EncapType,
		Wireless:  isWireless(attrs.Name),
	}
	return Classify(l), l, nil
}

func isWireless(name string) bool {
	for _, sub := range []string{"wireless", "phy80211"} {
		if _, err := os.Stat(filepath.Join(sysClassNet, name, sub)); err == nil {
			return true
		}
	}
	return false
}
