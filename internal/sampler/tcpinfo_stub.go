//go:build !linux

package sampler

import (
	"errors"
	"net"
)

func ReadTCPStats(conn *net.TCPConn) (TCPStats, error) {
	return TCPStats{}, errors.New("TCP_INFO is only available on linux")
}
