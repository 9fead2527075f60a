// Package history keeps the ordered log of measurement snapshots.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

type Snapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	PingMs       float64   `json:"ping_ms"`
	DownloadMBps float64   `json:"download_mbps"`
	UploadMBps   float64   `json:"upload_mbps"`
	RunID        string    `json:"run_id"`
}

// Recorder is an append-only snapshot log. All returns snapshots in
// insertion order with strictly increasing timestamps.
type Recorder interface {
	Append(ctx context.Context, s Snapshot) error
	All(ctx context.Context) ([]Snapshot, error)
	Close() error
}

// Open returns the recorder for backend. dsn is only used by sqlite.
func Open(backend, dsn string) (Recorder, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		return OpenSQLite(dsn)
	case BackendBadger:
		return OpenBadger()
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

// clock forces strictly increasing timestamps.
type clock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *clock) next(ts time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts = ts.Round(0)
	if !ts.After(c.last) {
		ts = c.last.Add(time.Nanosecond)
	}
	c.last = ts
	return ts
}

func (c *clock) observe(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.last) {
		c.last = ts
	}
}
