//go:build linux

package sampler

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ReadTCPStats reads TCP_INFO from conn.
func ReadTCPStats(conn *net.TCPConn) (TCPStats, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return TCPStats{}, fmt.Errorf("syscall conn: %w", err)
	}

	var info *unix.TCPInfo
	var sockErr error
	if err := rawConn.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	}); err != nil {
		return TCPStats{}, fmt.Errorf("control syscall: %w", err)
	}
	if sockErr != nil {
		return TCPStats{}, fmt.Errorf("getsockopt TCP_INFO: %w", sockErr)
	}
	if info == nil {
		return TCPStats{}, fmt.Errorf("getsockopt TCP_INFO: nil info")
	}

	return TCPStats{
		RTT:           time.Duration(info.Rtt) * time.Microsecond,
		RTTVar:        time.Duration(info.Rttvar) * time.Microsecond,
		Retransmits:   uint64(info.Total_retrans),
		BytesReceived: info.Bytes_received,
		SegmentsIn:    uint64(info.Segs_in),
	}, nil
}
