package control

import (
	"encoding/json"
	"sync"

	"github.com/NodePath81/netgauge/internal/diag"
)

const statusSchemaVersion = 1

const (
	messageEvent    = "event"
	messageSnapshot = "snapshot"
	messageError    = "error"
)

// statusMessage is one frame on the /status feed. Event frames wrap a
// diagnostic event; snapshot frames carry the last finished report.
type statusMessage struct {
	SchemaVersion int          `json:"schema_version"`
	Type          string       `json:"type"`
	Event         *diag.Event  `json:"event,omitempty"`
	Running       bool         `json:"running,omitempty"`
	Report        *diag.Report `json:"report,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// StatusHub fans diagnostic events out to websocket clients. Slow clients
// drop frames rather than stall the run.
type StatusHub struct {
	mu        sync.Mutex
	clients   map[*statusClient]struct{}
	broadcast chan statusMessage
	ctxDone   <-chan struct{}
}

type statusClient struct {
	mu        sync.Mutex
	closed    bool
	send      chan []byte
	closeOnce sync.Once
}

func newStatusClient() *statusClient {
	return &statusClient{send: make(chan []byte, 32)}
}

func NewStatusHub(ctxDone <-chan struct{}) *StatusHub {
	h := &StatusHub{
		clients:   make(map[*statusClient]struct{}),
		broadcast: make(chan statusMessage, 128),
		ctxDone:   ctxDone,
	}
	go h.run()
	return h
}

func (h *StatusHub) run() {
	for {
		select {
		case <-h.ctxDone:
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*statusClient]struct{})
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				client.trySend(data)
			}
			h.mu.Unlock()
		}
	}
}

func (h *StatusHub) Register(client *statusClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

func (h *StatusHub) Unregister(client *statusClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

// Clients reports the number of connected feed clients.
func (h *StatusHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *StatusHub) Broadcast(msg statusMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Publish is a diag.Observer forwarding run events to the feed.
func (h *StatusHub) Publish(ev diag.Event) {
	h.Broadcast(statusMessage{
		SchemaVersion: statusSchemaVersion,
		Type:          messageEvent,
		Event:         &ev,
	})
}

func (c *statusClient) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *statusClient) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}
