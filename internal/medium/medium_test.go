package medium

import (
	"testing"

	"github.com/NodePath81/netgauge/internal/estimate"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		link Link
		want estimate.Medium
	}{
		{Link{Name: "eth0"}, estimate.Ethernet},
		{Link{Name: "enp3s0", EncapType: "ether"}, estimate.Ethernet},
		{Link{Name: "wlp2s0"}, estimate.WiFi},
		{Link{Name: "eth1", Wireless: true}, estimate.WiFi},
		{Link{Name: "wwan0"}, estimate.Cellular4G},
		{Link{Name: "rmnet_data0"}, estimate.Cellular4G},
		{Link{Name: "bnep0"}, estimate.Bluetooth},
	}
	for _, tc := range cases {
		if got := Classify(tc.link); got != tc.want {
			t.Fatalf("Classify(%+v) = %q, want %q", tc.link, got, tc.want)
		}
	}
}
