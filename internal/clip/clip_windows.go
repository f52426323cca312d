//go:build windows

package clip

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")
	shell32  = windows.NewLazySystemDLL("shell32.dll")

	procOpenClipboard              = user32.NewProc("OpenClipboard")
	procCloseClipboard             = user32.NewProc("CloseClipboard")
	procEmptyClipboard             = user32.NewProc("EmptyClipboard")
	procGetClipboardData           = user32.NewProc("GetClipboardData")
	procSetClipboardData           = user32.NewProc("SetClipboardData")
	procIsClipboardFormatAvailable = user32.NewProc("IsClipboardFormatAvailable")
	procSendInput                  = user32.NewProc("SendInput")
	procGetForegroundWindow        = user32.NewProc("GetForegroundWindow")
	procSetForegroundWindow        = user32.NewProc("SetForegroundWindow")
	procIsWindow                   = user32.NewProc("IsWindow")

	procGlobalAlloc  = kernel32.NewProc("GlobalAlloc")
	procGlobalFree   = kernel32.NewProc("GlobalFree")
	procGlobalLock   = kernel32.NewProc("GlobalLock")
	procGlobalUnlock = kernel32.NewProc("GlobalUnlock")
	procGlobalSize   = kernel32.NewProc("GlobalSize")

	procDragQueryFileW = shell32.NewProc("DragQueryFileW")
)

const (
	cfDIB         = 8
	cfUnicodeText = 13
	cfHDrop       = 15

	gmemMoveable = 0x0002

	inputKeyboard  = 1
	keyEventFKeyUp = 0x0002
	vkControl      = 0x11
	vkV            = 0x56
	scanControl    = 0x1D
	scanV          = 0x2F
)

type windowsBackend struct{}

// New returns the Windows clipboard backend.
func New() Backend { return windowsBackend{} }

func (windowsBackend) Name() string { return "Windows Clipboard" }

func (windowsBackend) Listen() (Notifier, error) {
	n, err := newNotifier()
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Open opens the clipboard on the calling OS thread. The goroutine stays
// locked to that thread until the session is closed.
func (windowsBackend) Open() (Session, error) {
	runtime.LockOSThread()
	if r, _, err := procOpenClipboard.Call(0); r == 0 {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &windowsSession{}, nil
}

type keyboardInput struct {
	vk        uint16
	scan      uint16
	flags     uint32
	time      uint32
	extraInfo uintptr
}

// input mirrors INPUT. The padding covers the larger MOUSEINPUT arm of the
// union.
type input struct {
	typ     uint32
	ki      keyboardInput
	padding [8]byte
}

func key(vk, scan uint16, flags uint32) input {
	return input{typ: inputKeyboard, ki: keyboardInput{vk: vk, scan: scan, flags: flags}}
}

func (windowsBackend) SynthesizePaste() error {
	in := []input{
		key(vkControl, scanControl, 0),
		key(vkV, scanV, 0),
		key(vkV, scanV, keyEventFKeyUp),
		key(vkControl, scanControl, keyEventFKeyUp),
	}
	n, _, err := procSendInput.Call(uintptr(len(in)), uintptr(unsafe.Pointer(&in[0])), unsafe.Sizeof(in[0]))
	if int(n) != len(in) {
		return fmt.Errorf("SendInput: %d of %d events sent: %v", n, len(in), err)
	}
	return nil
}

func (windowsBackend) ForegroundWindow() Window {
	h, _, _ := procGetForegroundWindow.Call()
	return Window(h)
}

func (windowsBackend) IsWindow(w Window) bool {
	if w == 0 {
		return false
	}
	r, _, _ := procIsWindow.Call(uintptr(w))
	return r != 0
}

func (windowsBackend) SetForegroundWindow(w Window) error {
	if r, _, err := procSetForegroundWindow.Call(uintptr(w)); r == 0 {
		return fmt.Errorf("SetForegroundWindow: %v", err)
	}
	return nil
}

type windowsSession struct {
	closed bool
}

func available(format uintptr) bool {
	r, _, _ := procIsClipboardFormatAvailable.Call(format)
	return r != 0
}

// locked copies the global memory block of format.
func locked(format uintptr) ([]byte, bool) {
	if !available(format) {
		return nil, false
	}
	h, _, _ := procGetClipboardData.Call(format)
	if h == 0 {
		return nil, false
	}
	p, _, _ := procGlobalLock.Call(h)
	if p == 0 {
		return nil, false
	}
	defer procGlobalUnlock.Call(h)

	size, _, _ := procGlobalSize.Call(h)
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(p)), size)...), true
}

func (s *windowsSession) Text() (string, bool) {
	b, ok := locked(cfUnicodeText)
	if !ok || len(b) < 2 {
		return "", false
	}
	return windows.UTF16ToString(unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)), true
}

func (s *windowsSession) Files() ([]string, bool) {
	if !available(cfHDrop) {
		return nil, false
	}
	h, _, _ := procGetClipboardData.Call(cfHDrop)
	if h == 0 {
		return nil, false
	}
	n, _, _ := procDragQueryFileW.Call(h, 0xFFFFFFFF, 0, 0)
	files := make([]string, 0, n)
	for i := uintptr(0); i < n; i++ {
		size, _, _ := procDragQueryFileW.Call(h, i, 0, 0)
		if size == 0 {
			continue
		}
		buf := make([]uint16, size+1)
		procDragQueryFileW.Call(h, i, uintptr(unsafe.Pointer(&buf[0])), size+1)
		files = append(files, windows.UTF16ToString(buf))
	}
	return files, len(files) > 0
}

func (s *windowsSession) DIB() ([]byte, bool) {
	return locked(cfDIB)
}

func (s *windowsSession) Empty() error {
	if r, _, err := procEmptyClipboard.Call(); r == 0 {
		return fmt.Errorf("EmptyClipboard: %v", err)
	}
	return nil
}

func (s *windowsSession) SetText(text string) error {
	u, err := windows.UTF16FromString(text)
	if err != nil {
		return err
	}
	return setData(cfUnicodeText, unsafe.Slice((*byte)(unsafe.Pointer(&u[0])), len(u)*2))
}

func (s *windowsSession) SetDIB(dib []byte) error {
	if len(dib) == 0 {
		return fmt.Errorf("SetDIB: empty payload")
	}
	return setData(cfDIB, dib)
}

// setData hands a moveable global copy of data to the clipboard, which owns
// it from then on.
func setData(format uintptr, data []byte) error {
	h, _, err := procGlobalAlloc.Call(gmemMoveable, uintptr(len(data)))
	if h == 0 {
		return fmt.Errorf("GlobalAlloc: %v", err)
	}
	p, _, err := procGlobalLock.Call(h)
	if p == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("GlobalLock: %v", err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(data)), data)
	procGlobalUnlock.Call(h)

	if r, _, err := procSetClipboardData.Call(format, h); r == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("SetClipboardData: %v", err)
	}
	return nil
}

func (s *windowsSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer runtime.UnlockOSThread()
	if r, _, err := procCloseClipboard.Call(); r == 0 {
		return fmt.Errorf("CloseClipboard: %v", err)
	}
	return nil
}
