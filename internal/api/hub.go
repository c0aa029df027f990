package api

import (
	"encoding/json"
	"log/slog"

	"kafkaburst/internal/engine"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans run snapshots out to streaming clients. It implements
// engine.Observer so the engine's aggregator drives the broadcast cadence.
type Hub struct {
	logger *slog.Logger

	clients   map[Subscriber]struct{}
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
	done      chan struct{}
}

// NewHub creates a running Hub.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		logger:    logger.With("component", "hub"),
		clients:   make(map[Subscriber]struct{}),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unreg:
			delete(h.clients, c)
		case payload := <-h.broadcast:
			for c := range h.clients {
				if err := c.Send(payload); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
		case <-h.done:
			for c := range h.clients {
				c.Close()
				delete(h.clients, c)
			}
			return
		}
	}
}

// OnSnapshot marshals the snapshot and broadcasts it to every client.
func (h *Hub) OnSnapshot(snap engine.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("snapshot marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}

// Register adds a streaming client.
func (h *Hub) Register(c Subscriber) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c Subscriber) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

// Broadcast sends payload to all clients.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

// Close disconnects all clients and stops the hub loop.
func (h *Hub) Close() {
	close(h.done)
}
