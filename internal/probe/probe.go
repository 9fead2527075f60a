// Package probe measures round-trip latency to the endpoint host.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

type Method string

const (
	MethodHTTP Method = "http"
	MethodICMP Method = "icmp"
	MethodTCP  Method = "tcp"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodHTTP, MethodICMP, MethodTCP:
		return m, nil
	case "":
		return MethodHTTP, nil
	default:
		return "", fmt.Errorf("unknown ping method %q", s)
	}
}

// Func performs one round trip and returns its duration.
type Func func(ctx context.Context) (time.Duration, error)

var errNoReply = errors.New("no echo reply")

// TCP measures the time to complete a TCP handshake with host:port.
func TCP(host string, port int, timeout time.Duration) Func {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return func(ctx context.Context) (time.Duration, error) {
		dialer := &net.Dialer{Timeout: timeout}
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return 0, err
		}
		rtt := time.Since(start)
		_ = conn.Close()
		return rtt, nil
	}
}

// ICMP sends echo requests to ip. It uses a raw socket when permitted and
// falls back to an unprivileged datagram socket.
func ICMP(ip net.IP, timeout time.Duration) Func {
	if timeout <= 0 {
		timeout = time.Second
	}
	id := rand.Intn(0xffff)
	var seq atomic.Uint32
	return func(ctx context.Context) (time.Duration, error) {
		conn, privileged, err := listenICMP(ip)
		if err != nil {
			return 0, fmt.Errorf("icmp socket: %w", err)
		}
		defer conn.Close()
		stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
		defer stop()
		s := uint16(seq.Add(1))
		rtt, err := sendPing(conn, ip, id, s, privileged, timeout)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return rtt, err
	}
}

func listenICMP(ip net.IP) (*icmp.PacketConn, bool, error) {
	raw, dgram := "ip4:icmp", "udp4"
	if ip.To4() == nil {
		raw, dgram = "ip6:ipv6-icmp", "udp6"
	}
	if conn, err := icmp.ListenPacket(raw, ""); err == nil {
		return conn, true, nil
	}
	conn, err := icmp.ListenPacket(dgram, "")
	return conn, false, err
}

func sendPing(conn *icmp.PacketConn, ip net.IP, id int, seq uint16, privileged bool, timeout time.Duration) (time.Duration, error) {
	proto := 1
	echoType := icmp.Type(ipv4.ICMPTypeEcho)
	replyType := icmp.Type(ipv4.ICMPTypeEchoReply)
	if ip.To4() == nil {
		proto = 58
		echoType = ipv6.ICMPTypeEchoRequest
		replyType = ipv6.ICMPTypeEchoReply
	}
	msg := icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  int(seq),
			Data: []byte("netgauge"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}
	var dst net.Addr = &net.IPAddr{IP: ip}
	if !privileged {
		dst = &net.UDPAddr{IP: ip}
	}
	start := time.Now()
	if _, err := conn.WriteTo(payload, dst); err != nil {
		return 0, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, errNoReply
		}
		if !peerMatches(peer, ip) {
			continue
		}
		parsed, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil || parsed.Type != replyType {
			continue
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		// The kernel rewrites the ID on datagram sockets.
		if echo.Seq == int(seq) && (!privileged || echo.ID == id) {
			return time.Since(start), nil
		}
	}
}

func peerMatches(peer net.Addr, ip net.IP) bool {
	switch addr := peer.(type) {
	case *net.IPAddr:
		return addr.IP == nil || addr.IP.Equal(ip)
	case *net.UDPAddr:
		return addr.IP == nil || addr.IP.Equal(ip)
	default:
		return true
	}
}

// Sample runs ping count times, interval apart, and summarizes the round
// trips. It fails only when every attempt fails.
func Sample(ctx context.Context, ping Func, count int, interval time.Duration) (Stats, error) {
	if count <= 0 {
		count = 1
	}
	var acc Accumulator
	var lastErr error
	for i := 0; i < count; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return acc.Stats(), ctx.Err()
			case <-time.After(interval):
			}
		}
		rtt, err := ping(ctx)
		if err != nil {
			lastErr = err
			acc.AddLoss()
			continue
		}
		acc.Add(rtt)
	}
	stats := acc.Stats()
	if stats.Received == 0 {
		if lastErr == nil {
			lastErr = errNoReply
		}
		return stats, lastErr
	}
	return stats, nil
}
