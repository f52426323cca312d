// Package hub fans history events out to connected watchers. It is
// transport-agnostic: subscribers register and receive messages through a
// non-blocking Send.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"go.klb.dev/clipkeep/internal/message"
)

// Subscriber is anything that can receive events from the hub.
type Subscriber interface {
	ID() string
	// Send delivers an event. Must be non-blocking.
	Send(*message.Message)
}

// Hub routes events to all registered subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]Subscriber)}
}

// Register adds a subscriber.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	total := len(h.subs)
	h.mu.Unlock()

	slog.Info("watcher registered", "watcher", s.ID(), "total", total)
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(s Subscriber) {
	h.mu.Lock()
	delete(h.subs, s.ID())
	total := len(h.subs)
	h.mu.Unlock()

	slog.Info("watcher unregistered", "watcher", s.ID(), "total", total)
}

// Publish delivers msg to every subscriber.
func (h *Hub) Publish(msg *message.Message) {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	logEvent(msg, len(targets))
	for _, s := range targets {
		s.Send(msg)
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// logEvent logs an event at DEBUG, with previews truncated to 120 characters.
func logEvent(msg *message.Message, watchers int) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	ids := make([]int64, len(msg.Entries))
	for i, e := range msg.Entries {
		ids[i] = e.ID
	}
	attrs := []any{"event", msg.Event, "watchers", watchers, "entries", ids}
	if msg.ID != 0 {
		attrs = append(attrs, "id", msg.ID)
	}
	if len(msg.Entries) == 1 {
		preview := []rune(msg.Entries[0].Preview)
		if len(preview) > 120 {
			preview = append(preview[:120], '…')
		}
		attrs = append(attrs, "preview", string(preview))
	}
	slog.Debug("history event", attrs...)
}
