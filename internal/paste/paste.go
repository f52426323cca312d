// Package paste writes a history entry back to the clipboard and types it
// into the target window.
package paste

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/format"
	"go.klb.dev/clipkeep/internal/history"
)

// ErrWriteFailed is returned when the clipboard could not be written. No
// keystroke is sent in that case.
var ErrWriteFailed = errors.New("paste: clipboard write failed")

// Suppressor is the listener's self-write guard.
type Suppressor interface {
	SetSuppressNext()
	ClearSuppress()
}

// Options tunes the engine.
type Options struct {
	// SettleDelay is the pause between focusing the target and sending
	// Ctrl+V.
	SettleDelay  time.Duration
	OpenAttempts int
	OpenBackoff  time.Duration
}

func DefaultOptions() Options {
	return Options{
		SettleDelay:  150 * time.Millisecond,
		OpenAttempts: 3,
		OpenBackoff:  50 * time.Millisecond,
	}
}

// Engine performs pastes.
type Engine struct {
	backend  clip.Backend
	suppress Suppressor
	opts     Options
	log      *slog.Logger
	wg       sync.WaitGroup
}

// New creates an engine. Zero option fields take their defaults.
func New(backend clip.Backend, suppress Suppressor, opts Options) *Engine {
	d := DefaultOptions()
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = d.SettleDelay
	}
	if opts.OpenAttempts <= 0 {
		opts.OpenAttempts = d.OpenAttempts
	}
	if opts.OpenBackoff <= 0 {
		opts.OpenBackoff = d.OpenBackoff
	}
	return &Engine{
		backend:  backend,
		suppress: suppress,
		opts:     opts,
		log:      slog.Default().With("component", "paste"),
	}
}

// Paste places entry on the clipboard and, once that succeeded, refocuses
// target and injects Ctrl+V in the background. Paste returns as soon as the
// clipboard holds the entry. A zero or vanished target leaves focus alone.
func (e *Engine) Paste(ctx context.Context, entry *history.Entry, target clip.Window) error {
	e.suppress.SetSuppressNext()
	switch err := e.write(ctx, entry); {
	case errors.Is(err, clip.ErrUnchanged):
		// No notification will consume the flag.
		e.suppress.ClearSuppress()
	case err != nil:
		e.suppress.ClearSuppress()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(target)
	}()
	return nil
}

// Wait blocks until every background keystroke delivery has finished.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) write(ctx context.Context, entry *history.Entry) error {
	var set func(clip.Session) error
	switch p := entry.Payload.(type) {
	case history.Text:
		set = func(s clip.Session) error { return s.SetText(p.Content) }
	case history.Image:
		dib, err := format.PNGToDIB(p.Data)
		if err != nil {
			return err
		}
		set = func(s clip.Session) error { return s.SetDIB(dib) }
	default:
		return fmt.Errorf("unsupported payload %T", entry.Payload)
	}

	b := retry.WithMaxRetries(uint64(e.opts.OpenAttempts-1), retry.NewConstant(e.opts.OpenBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		s, err := e.backend.Open()
		if err != nil {
			if errors.Is(err, clip.ErrUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		if err := s.Empty(); err != nil {
			return errors.Join(err, s.Close())
		}
		if err := set(s); err != nil {
			return errors.Join(err, s.Close())
		}
		return s.Close()
	})
}

func (e *Engine) deliver(target clip.Window) {
	if target != 0 {
		if !e.backend.IsWindow(target) {
			e.log.Debug("paste target window gone", "hwnd", uintptr(target))
		} else if err := e.backend.SetForegroundWindow(target); err != nil {
			e.log.Debug("restore focus failed", "hwnd", uintptr(target), "err", err)
		}
	}

	time.Sleep(e.opts.SettleDelay)

	err := e.backend.SynthesizePaste()
	switch {
	case err == nil:
		e.log.Debug("paste delivered")
	case errors.Is(err, clip.ErrUnsupported):
		e.log.Debug("keystroke injection unsupported, entry left on clipboard")
	default:
		e.log.Warn("synthesize paste", "err", err)
	}
}
