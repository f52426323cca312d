// Package clip provides a uniform interface to the system clipboard. Build
// constraints select the implementation:
//
//	clip_windows.go  Windows via user32 (format listener, CF_DIB, SendInput)
//	clip_other.go    other platforms via golang.design/x/clipboard, no paste
//
// cliptest.Fake implements Backend in memory for tests.
package clip

import "errors"

var (
	// ErrUnavailable is returned by Open when another process holds the
	// clipboard. Callers retry.
	ErrUnavailable = errors.New("clip: clipboard unavailable")
	// ErrUnsupported is returned for operations the platform cannot perform.
	ErrUnsupported = errors.New("clip: unsupported on this platform")
	// ErrUnchanged is returned by Session writes that found the clipboard
	// already holding the same content. No change notification follows.
	ErrUnchanged = errors.New("clip: clipboard already holds this content")
)

// Window identifies a top-level window. Zero is no window.
type Window uintptr

// Backend is the interface that all platform clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Listen registers for clipboard change notifications. On Windows the
	// returned Notifier is bound to the calling OS thread: Run and Close must
	// be called from the same locked goroutine.
	Listen() (Notifier, error)

	// Open acquires the clipboard for reading or writing.
	Open() (Session, error)

	// SynthesizePaste injects Ctrl+V into the focused window.
	SynthesizePaste() error

	ForegroundWindow() Window
	IsWindow(w Window) bool
	SetForegroundWindow(w Window) error
}

// Notifier delivers clipboard change notifications.
type Notifier interface {
	// Run calls fn for every change until Stop. It returns nil on Stop.
	Run(fn func()) error
	// Stop makes Run return. It may be called from any goroutine, before or
	// during Run, and more than once.
	Stop()
	// Close unregisters. Call after Run has returned.
	Close() error
}

// Session is an open clipboard. Close must be called exactly once; a session
// that wrote releases the new contents to other processes on Close.
type Session interface {
	// Text returns CF_UNICODETEXT content.
	Text() (string, bool)
	// Files returns the paths of a CF_HDROP file list.
	Files() ([]string, bool)
	// DIB returns the raw CF_DIB payload.
	DIB() ([]byte, bool)

	Empty() error
	SetText(s string) error
	SetDIB(dib []byte) error

	Close() error
}
