package diag

import (
	"time"
)

type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventProbe       EventType = "probe"
	EventRunFinished EventType = "run_finished"
)

// Event is emitted on every key transition and at run boundaries.
// Progress is set while the download stream advances.
type Event struct {
	Type     EventType `json:"type"`
	RunID    string    `json:"run_id"`
	Key      string    `json:"key,omitempty"`
	Status   Status    `json:"status,omitempty"`
	Value    any       `json:"value,omitempty"`
	Progress *float64  `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Observer receives events synchronously on the emitting goroutine and
// must not block. The parallel probes emit from their own goroutines, so an
// observer may be called concurrently and must be safe for concurrent use.
type Observer func(Event)

// Subscribe registers obs until the returned func is called.
func (o *Orchestrator) Subscribe(obs Observer) func() {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = obs
	return func() {
		o.obsMu.Lock()
		delete(o.observers, id)
		o.obsMu.Unlock()
	}
}

func (o *Orchestrator) emit(ev Event) {
	ev.Time = time.Now()
	o.obsMu.RLock()
	observers := make([]Observer, 0, len(o.observers))
	for _, obs := range o.observers {
		observers = append(observers, obs)
	}
	o.obsMu.RUnlock()
	for _, obs := range observers {
		obs(ev)
	}
}
