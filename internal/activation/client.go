package activation

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.klb.dev/clipkeep/internal/message"
	"go.klb.dev/clipkeep/internal/wire"
)

// Dialer opens a connection to the daemon.
type Dialer func(ctx context.Context) (net.Conn, error)

// Request sends req on a fresh connection and returns the response. ERROR
// responses are returned as errors.
func Request(ctx context.Context, dial Dialer, req *message.Message) (*message.Message, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	c := wire.New(conn)
	defer c.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if err := c.WriteMsg(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Type, err)
	}
	resp, err := c.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Type, err)
	}
	if resp.Type == message.TypeError {
		return nil, errors.New(resp.Error)
	}
	return resp, nil
}

// Watch subscribes to history events and calls fn for each until ctx is
// cancelled or the daemon goes away.
func Watch(ctx context.Context, dial Dialer, fn func(*message.Message)) error {
	conn, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c := wire.New(conn)
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.WriteMsg(&message.Message{Type: message.TypeWatch}); err != nil {
		return fmt.Errorf("send WATCH: %w", err)
	}
	ack, err := c.ReadMsg()
	if err != nil {
		return fmt.Errorf("read WATCH response: %w", err)
	}
	if ack.Type == message.TypeError {
		return errors.New(ack.Error)
	}

	for {
		msg, err := c.ReadMsg()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
		fn(msg)
	}
}
