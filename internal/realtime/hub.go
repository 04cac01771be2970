// Package realtime connects display and control sessions to browsers over
// SockJS.
package realtime

import (
	"context"
	"sync"

	"github.com/waa2l/queue2/internal/logging"
	"github.com/waa2l/queue2/internal/metrics"
	"github.com/waa2l/queue2/internal/notify"
)

// Notifier is the part of a session the hub talks to.
type Notifier interface {
	Notify(notify.Banner)
	Close()
}

type Client struct {
	ID       string
	Kind     notify.SessionKind
	Session  Notifier
	ScreenID string
	ClinicID string
}

// Hub tracks connected sessions and fans connectivity changes out to them.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	connected bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client), connected: true}
}

// Register adds client and, if the store is currently unreachable, shows it
// the connection lost banner.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	connected := h.connected
	h.mu.Unlock()
	metrics.SessionsActive.WithLabelValues(string(client.Kind)).Inc()
	if !connected && client.Session != nil {
		client.Session.Notify(notify.ConnectionBanner(false))
	}
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.ID]
	delete(h.clients, client.ID)
	h.mu.Unlock()
	if ok {
		metrics.SessionsActive.WithLabelValues(string(client.Kind)).Dec()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetConnectivity announces a store connectivity change to every session.
// Repeated calls with the same state are ignored.
func (h *Hub) SetConnectivity(connected bool) {
	h.mu.Lock()
	if h.connected == connected {
		h.mu.Unlock()
		return
	}
	h.connected = connected
	clients := h.snapshotLocked()
	h.mu.Unlock()

	logging.Info().Bool("connected", connected).Int("sessions", len(clients)).Msg("store connectivity changed")
	banner := notify.ConnectionBanner(connected)
	for _, client := range clients {
		if client.Session != nil {
			client.Session.Notify(banner)
		}
	}
}

func (h *Hub) snapshotLocked() []*Client {
	out := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		out = append(out, client)
	}
	return out
}

// Serve blocks until ctx is done and then closes every session.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	h.mu.RLock()
	clients := h.snapshotLocked()
	h.mu.RUnlock()
	for _, client := range clients {
		if client.Session != nil {
			client.Session.Close()
		}
	}
	return ctx.Err()
}

func (h *Hub) String() string { return "realtime-hub" }
