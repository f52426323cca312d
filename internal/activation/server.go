package activation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.klb.dev/clipkeep/internal/history"
	"go.klb.dev/clipkeep/internal/message"
	"go.klb.dev/clipkeep/internal/wire"
)

const requestTimeout = 10 * time.Second

// Server exposes a Service over the IPC endpoint.
type Server struct {
	svc *Service
	log *slog.Logger
}

// NewServer creates a Server for svc.
func NewServer(svc *Service) *Server {
	return &Server{svc: svc, log: slog.Default().With("component", "ipc")}
}

// Serve accepts connections until ctx is cancelled, then closes ln and waits
// for open connections, watchers included, to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn handles a single connection: one request and its response, or a
// WATCH stream.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	c := wire.New(conn)
	defer c.Close()

	c.SetReadDeadline(requestTimeout)
	req, err := c.ReadMsg()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.log.Debug("ipc read failed", "err", err)
			_ = c.WriteMsg(message.Errorf("bad request: %v", err))
		}
		return
	}
	c.SetReadDeadline(0)

	if req.Type == message.TypeWatch {
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = c.Close()
			case <-stop:
			}
		}()
		newWatcher(c).serve(s.svc.Hub(), ctx.Done())
		close(stop)
		return
	}

	resp := s.handle(ctx, req)
	if err := c.WriteMsg(resp); err != nil {
		s.log.Debug("ipc write failed", "err", err)
	}
}

func (s *Server) handle(ctx context.Context, req *message.Message) *message.Message {
	s.log.Debug("ipc request", "type", req.Type, "id", req.ID)

	if message.NeedsID(req.Type) && req.ID <= 0 {
		return message.Errorf("%s requires an entry id", req.Type)
	}

	var err error
	switch req.Type {
	case message.TypeList:
		var entries []message.Entry
		if entries, err = s.svc.List(ctx, req.Limit, req.Offset); err == nil {
			return &message.Message{Type: message.TypeEntries, Entries: entries}
		}
	case message.TypeSearch:
		var entries []message.Entry
		if entries, err = s.svc.Search(ctx, req.Query, req.Limit, req.Offset); err == nil {
			return &message.Message{Type: message.TypeEntries, Entries: entries}
		}
	case message.TypeShow:
		var entries []message.Entry
		if entries, err = s.svc.ShowHistory(ctx); err == nil {
			return &message.Message{Type: message.TypeEntries, Event: message.EventShow, Entries: entries}
		}
	case message.TypePaste:
		err = s.svc.Paste(ctx, req.ID)
	case message.TypePin:
		err = s.svc.TogglePin(ctx, req.ID)
	case message.TypeDelete:
		err = s.svc.Delete(ctx, req.ID)
	case message.TypeClear:
		err = s.svc.ClearUnpinned(ctx)
	case message.TypeStatus:
		var st *message.Status
		if st, err = s.svc.Status(ctx); err == nil {
			return &message.Message{Type: message.TypeStatusResponse, Status: st}
		}
	default:
		return message.Errorf("unexpected message type %q", req.Type)
	}

	switch {
	case err == nil:
		return &message.Message{Type: message.TypeOK, ID: req.ID}
	case errors.Is(err, history.ErrNotFound):
		return message.Errorf("entry %d not found", req.ID)
	default:
		s.log.Warn("ipc request failed", "type", req.Type, "err", err)
		return message.Errorf("%s: %v", req.Type, err)
	}
}
