// Package activation is the entry point UI layers drive: show the history,
// paste, pin, delete, clear and search. Every mutation is announced on the
// hub so connected watchers can refresh.
package activation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/history"
	"go.klb.dev/clipkeep/internal/hub"
	"go.klb.dev/clipkeep/internal/message"
)

// Store is the subset of *history.Store the service drives.
type Store interface {
	AddText(ctx context.Context, text string) (bool, error)
	AddImage(ctx context.Context, png []byte) (bool, error)
	List(ctx context.Context, q history.Query) ([]history.Summary, error)
	Newest(ctx context.Context) (history.Summary, error)
	Get(ctx context.Context, id int64) (*history.Entry, error)
	Delete(ctx context.Context, id int64) error
	TogglePin(ctx context.Context, id int64) error
	ClearUnpinned(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Path() string
}

// Paster places an entry on the clipboard and types it into target.
type Paster interface {
	Paste(ctx context.Context, entry *history.Entry, target clip.Window) error
}

// Config wires a Service.
type Config struct {
	Store   Store
	Paster  Paster
	Backend clip.Backend
	Hub     *hub.Hub
	// ListenerState reports the capture state for Status.
	ListenerState func() string
	Version       string
}

// Service implements the activation operations.
type Service struct {
	store         Store
	paster        Paster
	backend       clip.Backend
	hub           *hub.Hub
	listenerState func() string
	version       string
	started       time.Time
	log           *slog.Logger

	mu     sync.Mutex
	target clip.Window
}

// New creates a Service.
func New(cfg Config) *Service {
	h := cfg.Hub
	if h == nil {
		h = hub.New()
	}
	state := cfg.ListenerState
	if state == nil {
		state = func() string { return "unknown" }
	}
	return &Service{
		store:         cfg.Store,
		paster:        cfg.Paster,
		backend:       cfg.Backend,
		hub:           h,
		listenerState: state,
		version:       cfg.Version,
		started:       time.Now(),
		log:           slog.Default().With("component", "activation"),
	}
}

// Hub returns the event hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// ShowHistory records the focused window as the paste target, announces a
// show event carrying the first page and returns that page.
func (s *Service) ShowHistory(ctx context.Context) ([]message.Entry, error) {
	target := s.backend.ForegroundWindow()
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()

	entries, err := s.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	s.log.Debug("history shown", "target", uintptr(target), "entries", len(entries))
	s.hub.Publish(&message.Message{Type: message.TypeEvent, Event: message.EventShow, Entries: entries})
	return entries, nil
}

// Target returns the window the next paste goes to.
func (s *Service) Target() clip.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Paste pastes entry id into the window captured by the last ShowHistory.
func (s *Service) Paste(ctx context.Context, id int64) error {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.paster.Paste(ctx, entry, s.Target())
}

// TogglePin flips the pinned flag of id.
func (s *Service) TogglePin(ctx context.Context, id int64) error {
	if err := s.store.TogglePin(ctx, id); err != nil {
		return err
	}
	s.changed(id)
	return nil
}

// Delete removes id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.changed(id)
	return nil
}

// ClearUnpinned removes every unpinned entry.
func (s *Service) ClearUnpinned(ctx context.Context) error {
	if err := s.store.ClearUnpinned(ctx); err != nil {
		return err
	}
	s.changed(0)
	return nil
}

// List returns a page of the history.
func (s *Service) List(ctx context.Context, limit, offset int) ([]message.Entry, error) {
	return s.Search(ctx, "", limit, offset)
}

// Search returns a page of entries matching query.
func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]message.Entry, error) {
	list, err := s.store.List(ctx, history.Query{Limit: limit, Offset: offset, Search: query})
	if err != nil {
		return nil, err
	}
	out := make([]message.Entry, len(list))
	for i, e := range list {
		out[i] = toMessage(e)
	}
	return out, nil
}

// Status describes the daemon.
func (s *Service) Status(ctx context.Context) (*message.Status, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &message.Status{
		Listener:  s.listenerState(),
		Backend:   s.backend.Name(),
		Entries:   n,
		Watchers:  s.hub.Count(),
		Database:  s.store.Path(),
		Version:   s.version,
		StartedAt: s.started,
	}, nil
}

func (s *Service) changed(id int64) {
	s.hub.Publish(&message.Message{Type: message.TypeEvent, Event: message.EventChanged, ID: id})
}

// Sink stores captures and announces the ones that were added. It satisfies
// listener.Sink.
type Sink struct {
	store Store
	hub   *hub.Hub
	log   *slog.Logger
}

// NewSink creates a Sink publishing on h.
func NewSink(store Store, h *hub.Hub) *Sink {
	return &Sink{store: store, hub: h, log: slog.Default().With("component", "activation")}
}

func (k *Sink) AddText(ctx context.Context, text string) (bool, error) {
	added, err := k.store.AddText(ctx, text)
	if added {
		k.added(ctx)
	}
	return added, err
}

func (k *Sink) AddImage(ctx context.Context, png []byte) (bool, error) {
	added, err := k.store.AddImage(ctx, png)
	if added {
		k.added(ctx)
	}
	return added, err
}

func (k *Sink) added(ctx context.Context) {
	if k.hub.Count() == 0 {
		return
	}
	e, err := k.store.Newest(ctx)
	if err != nil {
		k.log.Debug("newest entry", "err", err)
		return
	}
	k.hub.Publish(&message.Message{
		Type:    message.TypeEvent,
		Event:   message.EventAdded,
		Entries: []message.Entry{toMessage(e)},
	})
}

func toMessage(e history.Summary) message.Entry {
	return message.Entry{
		ID:        e.ID,
		Kind:      string(e.Kind),
		Timestamp: e.Timestamp,
		Pinned:    e.Pinned,
		Preview:   e.Preview,
		ImageHash: e.ImageHash,
		Length:    e.ContentLength,
	}
}
