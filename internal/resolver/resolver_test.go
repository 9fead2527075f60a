package resolver

import (
	"context"
	"net"
	"testing"
)

func TestNewNormalizesServers(t *testing.T) {
	r := New([]string{" 1.1.1.1 ", "", "9.9.9.9:5353"})
	got := r.Servers()
	if len(got) != 2 || got[0] != "1.1.1.1:53" || got[1] != "9.9.9.9:5353" {
		t.Fatalf("unexpected servers: %v", got)
	}
}

func TestNewWithoutServersUsesSystem(t *testing.T) {
	r := New(nil)
	if r.resolver != net.DefaultResolver {
		t.Fatalf("expected default resolver")
	}
	if len(r.Servers()) != 0 {
		t.Fatalf("expected no servers")
	}
}

func TestResolveLiteralIP(t *testing.T) {
	r := New([]string{"192.0.2.53"})
	ips, err := r.Resolve(context.Background(), "2001:db8::1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("2001:db8::1")) {
		t.Fatalf("unexpected ips: %v", ips)
	}
}

func TestResolveLocalhost(t *testing.T) {
	ips, err := New(nil).Resolve(context.Background(), "localhost")
	if err != nil {
		t.Skipf("localhost lookup unavailable: %v", err)
	}
	if len(ips) == 0 {
		t.Fatalf("expected addresses for localhost")
	}
}
