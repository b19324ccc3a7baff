// Package dashboard broadcasts live scheduling events (rate-limit denials,
// daily exhaustion, worker results) to connected WebSocket clients.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/fluxforge/syncengine/taskmanager"
	"github.com/fluxforge/syncengine/worker"
	"github.com/gorilla/websocket"
)

const (
	maxConnections = 200
	eventsCapacity = 256
)

// Event is one line of the live feed sent to every connected client.
type Event struct {
	Kind string    `json:"kind"` // rate_limited, daily_limit_exceeded, task_completed, task_failed
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Hub fans TaskManager errors and worker results out to every connected
// WebSocket client. One broadcaster avoids each client polling the engine
// independently.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	events     chan Event
	mu         sync.RWMutex
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		events:     make(chan Event, eventsCapacity),
	}
}

// Register adds a new client connection.
func (h *Hub) Register(conn *websocket.Conn) { h.register <- conn }

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) { h.unregister <- conn }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run drives the hub's event loop: client register/unregister and
// broadcasting. Broadcasts happen only on this goroutine so two events
// published back to back never race writing the same websocket.Conn -
// gorilla/websocket forbids concurrent writers on one connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("dashboard: connection rejected, %d clients already connected", maxConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case e := <-h.events:
			h.broadcast(e)
		}
	}
}

// PublishError queues a TaskManager rate-limit or daily-exhaustion
// notification for broadcast. Safe to call from any goroutine.
func (h *Hub) PublishError(e taskmanager.Error) {
	kind := "rate_limited"
	if e.Kind == taskmanager.ErrorDailyLimitExceeded {
		kind = "daily_limit_exceeded"
	}
	h.publish(Event{Kind: kind, Time: time.Now(), Data: e})
}

// PublishResult queues a worker's task completion or failure for
// broadcast. Safe to call from any goroutine.
func (h *Hub) PublishResult(r worker.Result) {
	kind := "task_completed"
	if r.Kind == worker.ResultFailed {
		kind = "task_failed"
	}
	h.publish(Event{Kind: kind, Time: time.Now(), Data: r})
}

func (h *Hub) publish(e Event) {
	select {
	case h.events <- e:
	default:
		log.Printf("dashboard: event buffer full, dropping %s event", e.Kind)
	}
}

func (h *Hub) broadcast(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("dashboard: marshal event: %v", err)
		return
	}
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("dashboard: write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}
