package activation

import (
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/google/uuid"

	"go.klb.dev/clipkeep/internal/hub"
	"go.klb.dev/clipkeep/internal/message"
	"go.klb.dev/clipkeep/internal/wire"
)

// watcher adapts a WATCH connection into a hub.Subscriber.
type watcher struct {
	id     string
	conn   *wire.Conn
	sendCh chan *message.Message
}

func newWatcher(conn *wire.Conn) *watcher {
	return &watcher{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan *message.Message, 64),
	}
}

func (w *watcher) ID() string { return w.id }

func (w *watcher) Send(msg *message.Message) {
	select {
	case w.sendCh <- msg:
	default:
		slog.Warn("watcher send channel full, dropping", "watcher", w.id)
	}
}

// serve registers with the hub and streams events until the client hangs
// up or done is closed.
func (w *watcher) serve(h *hub.Hub, done <-chan struct{}) {
	log := slog.With("watcher", w.id)

	h.Register(w)
	defer h.Unregister(w)

	if err := w.conn.WriteMsg(&message.Message{Type: message.TypeOK}); err != nil {
		return
	}

	// Reader: clients send nothing after WATCH; any read result means the
	// connection is finished.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, err := w.conn.ReadMsg(); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					log.Debug("watcher read", "err", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-gone:
			return
		case msg := <-w.sendCh:
			if err := w.conn.WriteMsg(msg); err != nil {
				log.Debug("watcher write failed", "err", err)
				return
			}
		}
	}
}
