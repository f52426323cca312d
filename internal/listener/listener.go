// Package listener captures clipboard changes into the history.
//
// A Listener owns one OS thread. It registers for change notifications on
// that thread, reads and normalizes the clipboard on every change, and hands
// the result to a Sink. Changes caused by the application's own writes are
// skipped by arming the suppress flag before writing.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/format"
)

// State is the listener lifecycle.
type State int32

const (
	Uninitialized State = iota
	Registered
	Listening
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Registered:
		return "registered"
	case Listening:
		return "listening"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrStopTimeout is returned by Stop when the listener thread did not exit in
// time. The thread is abandoned.
var ErrStopTimeout = errors.New("listener: stop timed out")

// Sink receives normalized captures.
type Sink interface {
	AddText(ctx context.Context, text string) (bool, error)
	AddImage(ctx context.Context, png []byte) (bool, error)
}

// Options tunes capture.
type Options struct {
	// MaxImageBytes skips bitmaps whose CF_DIB payload is larger.
	MaxImageBytes int
	// OpenAttempts and OpenBackoff control retries when another process
	// holds the clipboard.
	OpenAttempts int
	OpenBackoff  time.Duration
}

// DefaultOptions returns the production capture limits.
func DefaultOptions() Options {
	return Options{
		MaxImageBytes: 5 << 20,
		OpenAttempts:  3,
		OpenBackoff:   50 * time.Millisecond,
	}
}

// Listener watches the clipboard.
type Listener struct {
	backend clip.Backend
	sink    Sink
	opts    Options
	log     *slog.Logger

	state   atomic.Int32
	started atomic.Bool
	ready   chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	notifier clip.Notifier
	suppress bool
}

// New creates a listener. Zero option fields take their defaults.
func New(backend clip.Backend, sink Sink, opts Options) *Listener {
	d := DefaultOptions()
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = d.MaxImageBytes
	}
	if opts.OpenAttempts <= 0 {
		opts.OpenAttempts = d.OpenAttempts
	}
	if opts.OpenBackoff <= 0 {
		opts.OpenBackoff = d.OpenBackoff
	}
	return &Listener{
		backend: backend,
		sink:    sink,
		opts:    opts,
		log:     slog.Default().With("component", "listener"),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// State reports the lifecycle state.
func (l *Listener) State() State { return State(l.state.Load()) }

// Start spawns the listener thread and waits for registration. A
// registration failure leaves the listener Stopped and is returned; the rest
// of the application keeps working without capture.
func (l *Listener) Start() error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("listener: already started")
	}
	errc := make(chan error, 1)
	go l.run(errc)
	return <-errc
}

func (l *Listener) run(errc chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	n, err := l.backend.Listen()
	if err != nil {
		l.state.Store(int32(Stopped))
		close(l.ready)
		errc <- fmt.Errorf("register clipboard listener: %w", err)
		return
	}
	l.mu.Lock()
	l.notifier = n
	l.mu.Unlock()
	l.state.Store(int32(Registered))
	close(l.ready)
	errc <- nil

	defer func() {
		if err := n.Close(); err != nil {
			l.log.Warn("clipboard listener teardown", "err", err)
		}
		l.state.Store(int32(Stopped))
		l.log.Info("clipboard listener stopped")
	}()

	l.state.Store(int32(Listening))
	l.log.Info("clipboard listener started", "backend", l.backend.Name())
	if err := n.Run(l.onChange); err != nil {
		l.log.Error("clipboard listener loop failed", "err", err)
	}
}

// Stop asks the listener thread to exit and waits up to timeout for it. The
// wait covers registration too, so Stop right after Start is safe.
func (l *Listener) Stop(timeout time.Duration) error {
	if !l.started.Load() {
		l.state.Store(int32(Stopped))
		return nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-l.ready:
	case <-deadline.C:
		l.log.Warn("clipboard listener never registered, abandoning")
		return ErrStopTimeout
	}

	l.mu.Lock()
	n := l.notifier
	l.mu.Unlock()
	if n != nil {
		n.Stop()
	}

	select {
	case <-l.done:
		return nil
	case <-deadline.C:
		l.log.Warn("clipboard listener did not exit, abandoning", "timeout", timeout)
		return ErrStopTimeout
	}
}

// SetSuppressNext makes the listener ignore the next change. Arm it before
// writing to the clipboard.
func (l *Listener) SetSuppressNext() {
	l.mu.Lock()
	l.suppress = true
	l.mu.Unlock()
}

// ClearSuppress disarms the flag after a failed write.
func (l *Listener) ClearSuppress() {
	l.mu.Lock()
	l.suppress = false
	l.mu.Unlock()
}

func (l *Listener) consumeSuppress() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.suppress
	l.suppress = false
	return s
}

func (l *Listener) onChange() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("clipboard handler panicked", "panic", r)
		}
	}()

	if l.consumeSuppress() {
		l.log.Debug("skipping own clipboard write")
		return
	}

	ctx := context.Background()
	raw, err := l.read(ctx)
	if err != nil {
		l.log.Warn("clipboard read failed", "err", err)
		return
	}

	c := format.Normalize(raw)
	var added bool
	switch c.Kind {
	case format.KindText:
		added, err = l.sink.AddText(ctx, c.Text)
	case format.KindImage:
		added, err = l.sink.AddImage(ctx, c.PNG)
	default:
		return
	}
	if err != nil {
		l.log.Error("store capture", "kind", c.Kind, "err", err)
		return
	}
	l.log.Debug("clipboard captured", "kind", c.Kind, "added", added)
}

// read opens the clipboard, retrying while another process holds it, and
// copies out the first usable format.
func (l *Listener) read(ctx context.Context) (format.Raw, error) {
	var raw format.Raw
	b := retry.WithMaxRetries(uint64(l.opts.OpenAttempts-1), retry.NewConstant(l.opts.OpenBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		s, err := l.backend.Open()
		if err != nil {
			if errors.Is(err, clip.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		raw = l.readSession(s)
		return s.Close()
	})
	return raw, err
}

func (l *Listener) readSession(s clip.Session) format.Raw {
	var raw format.Raw
	if text, ok := s.Text(); ok && strings.TrimSpace(text) != "" {
		raw.Text = text
		return raw
	}
	if files, ok := s.Files(); ok {
		raw.Files = files
		return raw
	}
	if dib, ok := s.DIB(); ok {
		if len(dib) > l.opts.MaxImageBytes {
			l.log.Debug("clipboard image too large", "bytes", len(dib), "limit", l.opts.MaxImageBytes)
			return raw
		}
		raw.DIB = dib
	}
	return raw
}
