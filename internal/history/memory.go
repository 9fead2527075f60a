package history

import (
	"context"
	"sync"
)

type Memory struct {
	mu    sync.RWMutex
	clock clock
	snaps []Snapshot
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Timestamp = m.clock.next(s.Timestamp)
	m.snaps = append(m.snaps, s)
	return nil
}

func (m *Memory) All(ctx context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.snaps...), nil
}

func (m *Memory) Close() error {
	return nil
}
