//go:build !windows

package clip

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.design/x/clipboard"

	"go.klb.dev/clipkeep/internal/format"
)

// portableBackend uses golang.design/x/clipboard. Text and images are
// supported; file lists, focus control and keystroke injection are not.
type portableBackend struct {
	initOnce sync.Once
	initErr  error
}

// New returns the portable clipboard backend. clipboard.Init is deferred to
// first use so CLI sub-commands that never touch the clipboard don't fail on
// headless systems.
func New() Backend { return &portableBackend{} }

func (b *portableBackend) Name() string { return "portable clipboard" }

func (b *portableBackend) init() error {
	b.initOnce.Do(func() {
		if err := clipboard.Init(); err != nil {
			b.initErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	})
	return b.initErr
}

func (b *portableBackend) Listen() (Notifier, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &portableNotifier{ctx: ctx, cancel: cancel}, nil
}

func (b *portableBackend) Open() (Session, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	return &portableSession{}, nil
}

func (b *portableBackend) SynthesizePaste() error           { return ErrUnsupported }
func (b *portableBackend) ForegroundWindow() Window         { return 0 }
func (b *portableBackend) IsWindow(Window) bool             { return false }
func (b *portableBackend) SetForegroundWindow(Window) error { return ErrUnsupported }

type portableNotifier struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (n *portableNotifier) Run(fn func()) error {
	text := clipboard.Watch(n.ctx, clipboard.FmtText)
	img := clipboard.Watch(n.ctx, clipboard.FmtImage)
	for {
		select {
		case <-n.ctx.Done():
			return nil
		case _, ok := <-text:
			if !ok {
				return nil
			}
			fn()
		case _, ok := <-img:
			if !ok {
				return nil
			}
			fn()
		}
	}
}

func (n *portableNotifier) Stop()        { n.cancel() }
func (n *portableNotifier) Close() error { n.cancel(); return nil }

// portableSession reads and writes straight through; the library has no
// notion of an exclusive open.
type portableSession struct{}

func (portableSession) Text() (string, bool) {
	b := clipboard.Read(clipboard.FmtText)
	return string(b), len(b) > 0
}

func (portableSession) Files() ([]string, bool) { return nil, false }

// DIB converts the PNG the library exposes into a CF_DIB payload so callers
// see the same shape on every platform.
func (portableSession) DIB() ([]byte, bool) {
	png := clipboard.Read(clipboard.FmtImage)
	if len(png) == 0 {
		return nil, false
	}
	dib, err := format.PNGToDIB(png)
	if err != nil {
		slog.Debug("clipboard image not convertible", "err", err)
		return nil, false
	}
	return dib, true
}

func (portableSession) Empty() error { return nil }

// Watch only reports content changes, so writing what is already there
// would raise no notification. Such writes are skipped and reported.
func (portableSession) SetText(s string) error {
	if bytes.Equal(clipboard.Read(clipboard.FmtText), []byte(s)) {
		return ErrUnchanged
	}
	clipboard.Write(clipboard.FmtText, []byte(s))
	return nil
}

func (portableSession) SetDIB(dib []byte) error {
	png, err := format.DIBToPNG(dib)
	if err != nil {
		return err
	}
	if bytes.Equal(clipboard.Read(clipboard.FmtImage), png) {
		return ErrUnchanged
	}
	clipboard.Write(clipboard.FmtImage, png)
	return nil
}

func (portableSession) Close() error { return nil }
