package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

const dialTimeout = 2 * time.Second

// Resolver looks up hosts, optionally through a fixed set of DNS servers
// used round-robin.
type Resolver struct {
	resolver *net.Resolver
	servers  []string
	next     uint32
}

func New(servers []string) *Resolver {
	cleaned := make([]string, 0, len(servers))
	for _, server := range servers {
		server = strings.TrimSpace(server)
		if server == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		cleaned = append(cleaned, server)
	}
	if len(cleaned) == 0 {
		return &Resolver{resolver: net.DefaultResolver}
	}
	r := &Resolver{servers: cleaned}
	r.resolver = &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			idx := atomic.AddUint32(&r.next, 1)
			server := r.servers[int(idx)%len(r.servers)]
			d := net.Dialer{Timeout: dialTimeout}
			return d.DialContext(ctx, network, server)
		},
	}
	return r
}

// Servers returns the configured DNS servers as host:port.
func (r *Resolver) Servers() []string {
	return append([]string(nil), r.servers...)
}

// Resolve returns the addresses of host, IPv4 first. Literal IPs are
// returned as is.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	addrs, err := r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	v4 := make([]net.IP, 0, len(addrs))
	var v6 []net.IP
	for _, addr := range addrs {
		switch {
		case addr.IP == nil:
		case addr.IP.To4() != nil:
			v4 = append(v4, addr.IP)
		default:
			v6 = append(v6, addr.IP)
		}
	}
	ips := append(v4, v6...)
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPs resolved for %s", host)
	}
	return ips, nil
}
