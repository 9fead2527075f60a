package diag

import (
	"sync"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	KeyIP       = "ip"
	KeyPing     = "ping"
	KeyDownload = "download"
	KeyUpload   = "upload"
	KeyNmap     = "nmap"
	KeyPorts    = "ports"
	KeyServices = "services"
	KeyVuln     = "vuln"
	KeySSL      = "ssl"
	KeyFirewall = "firewall"
)

// Keys is the fixed result key space in run order.
var Keys = []string{
	KeyIP, KeyPing, KeyDownload, KeyUpload,
	KeyNmap, KeyPorts, KeyServices, KeyVuln, KeySSL, KeyFirewall,
}

// ParallelKeys are the probes run concurrently after the upload.
var ParallelKeys = []string{KeyNmap, KeyPorts, KeyServices, KeyVuln, KeySSL, KeyFirewall}

// ProbeResult is the state of one key. Consumers branch on Status; Value
// holds the measurement on success and the failure message on error.
type ProbeResult struct {
	Key    string `json:"key"`
	Status Status `json:"status"`
	Value  any    `json:"value,omitempty"`
}

// Results maps every key to its current state. A fresh Results has every
// key pending.
type Results struct {
	mu sync.RWMutex
	m  map[string]ProbeResult
}

func NewResults() *Results {
	m := make(map[string]ProbeResult, len(Keys))
	for _, k := range Keys {
		m[k] = ProbeResult{Key: k, Status: StatusPending}
	}
	return &Results{m: m}
}

func (r *Results) set(key string, status Status, value any) ProbeResult {
	res := ProbeResult{Key: key, Status: status, Value: value}
	r.mu.Lock()
	r.m[key] = res
	r.mu.Unlock()
	return res
}

func (r *Results) Get(key string) (ProbeResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.m[key]
	return res, ok
}

// List returns every result in key order.
func (r *Results) List() []ProbeResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProbeResult, 0, len(Keys))
	for _, k := range Keys {
		out = append(out, r.m[k])
	}
	return out
}
