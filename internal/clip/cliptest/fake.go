// Package cliptest provides an in-memory clip.Backend.
//
// Change notifications are synchronous: Copy and the Close of a session that
// wrote return only after every running listener has handled the change, so
// tests observe its effects without sleeping.
package cliptest

import (
	"bytes"
	"errors"
	"slices"
	"sync"

	"go.klb.dev/clipkeep/internal/clip"
)

// Fake is a scriptable clipboard. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	text    string
	hasText bool
	files   []string
	dib     []byte

	notifiers []*notifier

	openFailures int
	opens        int
	listenErr    error
	writeErr     error
	pasteErr     error
	changesOnly  bool

	pastes     int
	foreground clip.Window
	windows    map[clip.Window]bool
	focused    []clip.Window
}

var _ clip.Backend = (*Fake)(nil)

// New returns an empty clipboard.
func New() *Fake {
	return &Fake{windows: make(map[clip.Window]bool)}
}

func (f *Fake) Name() string { return "fake" }

// Copy replaces the clipboard with text as another application would.
func (f *Fake) Copy(text string) {
	f.mu.Lock()
	f.reset()
	f.text, f.hasText = text, true
	f.mu.Unlock()
	f.notify()
}

// CopyFiles replaces the clipboard with a file list.
func (f *Fake) CopyFiles(paths ...string) {
	f.mu.Lock()
	f.reset()
	f.files = slices.Clone(paths)
	f.mu.Unlock()
	f.notify()
}

// CopyDIB replaces the clipboard with a bitmap.
func (f *Fake) CopyDIB(dib []byte) {
	f.mu.Lock()
	f.reset()
	f.dib = slices.Clone(dib)
	f.mu.Unlock()
	f.notify()
}

func (f *Fake) reset() {
	f.text, f.hasText, f.files, f.dib = "", false, nil, nil
}

// Text returns the current text content.
func (f *Fake) Text() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.hasText
}

// DIB returns the current bitmap content.
func (f *Fake) DIB() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.dib)
}

// FailOpens makes the next n calls to Open fail with clip.ErrUnavailable.
func (f *Fake) FailOpens(n int) {
	f.mu.Lock()
	f.openFailures = n
	f.mu.Unlock()
}

// Opens returns how many times Open was called.
func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// SetListenErr makes Listen fail.
func (f *Fake) SetListenErr(err error) {
	f.mu.Lock()
	f.listenErr = err
	f.mu.Unlock()
}

// SetWriteErr makes every SetText and SetDIB fail.
func (f *Fake) SetWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// SetPasteErr makes SynthesizePaste fail.
func (f *Fake) SetPasteErr(err error) {
	f.mu.Lock()
	f.pasteErr = err
	f.mu.Unlock()
}

// SetChangesOnly makes the fake behave like a clipboard watcher that only
// reports content changes: Empty keeps the contents and writing what is
// already there returns clip.ErrUnchanged without a notification.
func (f *Fake) SetChangesOnly(on bool) {
	f.mu.Lock()
	f.changesOnly = on
	f.mu.Unlock()
}

// AddWindow makes w a live window.
func (f *Fake) AddWindow(w clip.Window) {
	f.mu.Lock()
	f.windows[w] = true
	f.mu.Unlock()
}

// CloseWindow destroys w.
func (f *Fake) CloseWindow(w clip.Window) {
	f.mu.Lock()
	delete(f.windows, w)
	f.mu.Unlock()
}

// Focus makes w the foreground window without recording a focus request.
func (f *Fake) Focus(w clip.Window) {
	f.mu.Lock()
	f.foreground = w
	f.mu.Unlock()
}

// Pastes returns how many Ctrl+V keystrokes were injected.
func (f *Fake) Pastes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pastes
}

// Focused returns the windows passed to SetForegroundWindow, in order.
func (f *Fake) Focused() []clip.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.focused)
}

// Listeners returns how many notifiers are registered.
func (f *Fake) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifiers)
}

func (f *Fake) Listen() (clip.Notifier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	n := &notifier{
		f:       f,
		changes: make(chan chan struct{}),
		stop:    make(chan struct{}),
	}
	f.notifiers = append(f.notifiers, n)
	return n, nil
}

func (f *Fake) Open() (clip.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openFailures > 0 {
		f.openFailures--
		return nil, clip.ErrUnavailable
	}
	return &session{f: f}, nil
}

func (f *Fake) SynthesizePaste() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pasteErr != nil {
		return f.pasteErr
	}
	f.pastes++
	return nil
}

func (f *Fake) ForegroundWindow() clip.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.foreground
}

func (f *Fake) IsWindow(w clip.Window) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windows[w]
}

func (f *Fake) SetForegroundWindow(w clip.Window) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.windows[w] {
		return errors.New("cliptest: no such window")
	}
	f.foreground = w
	f.focused = append(f.focused, w)
	return nil
}

// notify delivers one change to every registered notifier and waits for each
// to handle it. The mutex is not held while waiting because handlers read the
// clipboard.
func (f *Fake) notify() {
	f.mu.Lock()
	targets := slices.Clone(f.notifiers)
	f.mu.Unlock()

	for _, n := range targets {
		done := make(chan struct{})
		select {
		case n.changes <- done:
		case <-n.stop:
			continue
		}
		select {
		case <-done:
		case <-n.stop:
		}
	}
}

func (f *Fake) remove(n *notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiers = slices.DeleteFunc(f.notifiers, func(o *notifier) bool { return o == n })
}

type notifier struct {
	f        *Fake
	changes  chan chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func (n *notifier) Run(fn func()) error {
	for {
		select {
		case done := <-n.changes:
			fn()
			close(done)
		case <-n.stop:
			return nil
		}
	}
}

func (n *notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stop) })
}

func (n *notifier) Close() error {
	n.Stop()
	n.f.remove(n)
	return nil
}

type session struct {
	f      *Fake
	wrote  bool
	closed bool
}

func (s *session) Text() (string, bool) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return s.f.text, s.f.hasText
}

func (s *session) Files() ([]string, bool) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return slices.Clone(s.f.files), len(s.f.files) > 0
}

func (s *session) DIB() ([]byte, bool) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return slices.Clone(s.f.dib), len(s.f.dib) > 0
}

func (s *session) Empty() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.changesOnly {
		return nil
	}
	s.f.reset()
	s.wrote = true
	return nil
}

func (s *session) SetText(text string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.writeErr != nil {
		return s.f.writeErr
	}
	if s.f.changesOnly {
		if s.f.hasText && s.f.text == text {
			return clip.ErrUnchanged
		}
		s.f.reset()
	}
	s.f.text, s.f.hasText = text, true
	s.wrote = true
	return nil
}

func (s *session) SetDIB(dib []byte) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.writeErr != nil {
		return s.f.writeErr
	}
	if s.f.changesOnly {
		if bytes.Equal(s.f.dib, dib) {
			return clip.ErrUnchanged
		}
		s.f.reset()
	}
	s.f.dib = slices.Clone(dib)
	s.wrote = true
	return nil
}

// Close publishes any write as a clipboard change.
func (s *session) Close() error {
	if s.closed {
		return errors.New("cliptest: session already closed")
	}
	s.closed = true
	if s.wrote {
		s.f.notify()
	}
	return nil
}
