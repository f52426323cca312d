// Package ipc provides the local endpoint CLI commands and UI layers use to
// reach a running clipkeep daemon.
//
//   - Linux / macOS: $XDG_RUNTIME_DIR/clipkeep.sock, else $TMPDIR/clipkeep.sock
//   - Windows:       \\.\pipe\clipkeep (named pipe via go-winio)
//
// The path can be overridden with the socket config key.
package ipc

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrAlreadyRunning is returned by Listen when another daemon answers on the
// endpoint.
var ErrAlreadyRunning = errors.New("ipc: daemon already running")

// SocketPath returns override if set, otherwise the platform default.
func SocketPath(override string) string {
	if override != "" {
		return override
	}
	return socketPath()
}

// Listen creates a listener on path. A stale Unix socket left by a crashed
// run is removed; a live one is reported as ErrAlreadyRunning.
func Listen(path string) (net.Listener, error) {
	if IsRunning(path) {
		return nil, ErrAlreadyRunning
	}
	return listenIPC(path)
}

// Dial connects to the daemon at path.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return dialIPC(ctx, path)
}

// IsRunning reports whether a daemon appears to be listening on path. It does
// a cheap dial-and-close; no data is exchanged.
func IsRunning(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	c, err := dialIPC(ctx, path)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
