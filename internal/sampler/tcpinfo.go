package sampler

import "time"

// TCPStats is the kernel's view of the connection that carried a stream.
type TCPStats struct {
	RTT           time.Duration `json:"rtt"`
	RTTVar        time.Duration `json:"rtt_var"`
	Retransmits   uint64        `json:"retransmits"`
	BytesReceived uint64        `json:"bytes_received"`
	SegmentsIn    uint64        `json:"segments_in"`
}
