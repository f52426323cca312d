//go:build windows

package clip

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procRegisterClassExW              = user32.NewProc("RegisterClassExW")
	procUnregisterClassW              = user32.NewProc("UnregisterClassW")
	procCreateWindowExW               = user32.NewProc("CreateWindowExW")
	procDestroyWindow                 = user32.NewProc("DestroyWindow")
	procDefWindowProcW                = user32.NewProc("DefWindowProcW")
	procGetMessageW                   = user32.NewProc("GetMessageW")
	procTranslateMessage              = user32.NewProc("TranslateMessage")
	procDispatchMessageW              = user32.NewProc("DispatchMessageW")
	procPostThreadMessageW            = user32.NewProc("PostThreadMessageW")
	procAddClipboardFormatListener    = user32.NewProc("AddClipboardFormatListener")
	procRemoveClipboardFormatListener = user32.NewProc("RemoveClipboardFormatListener")
)

const (
	wmQuit            = 0x0012
	wmClipboardUpdate = 0x031D
	hwndMessage       = ^uintptr(2) // (HWND)-3
)

type wndClassEx struct {
	size       uint32
	style      uint32
	wndProc    uintptr
	clsExtra   int32
	wndExtra   int32
	instance   windows.Handle
	icon       windows.Handle
	cursor     windows.Handle
	background windows.Handle
	menuName   *uint16
	className  *uint16
	iconSm     windows.Handle
}

type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      struct{ x, y int32 }
}

var (
	// Callbacks are a finite process resource, so one window procedure
	// serves every listener window and routes by handle.
	wndProcOnce sync.Once
	wndProcPtr  uintptr
	notifiers   sync.Map // hwnd -> *windowsNotifier
	classSeq    atomic.Uint32
)

func wndProc() uintptr {
	wndProcOnce.Do(func() {
		wndProcPtr = windows.NewCallback(func(hwnd, m, wp, lp uintptr) uintptr {
			if m == wmClipboardUpdate {
				if n, ok := notifiers.Load(hwnd); ok {
					n.(*windowsNotifier).changed()
				}
				return 0
			}
			r, _, _ := procDefWindowProcW.Call(hwnd, m, wp, lp)
			return r
		})
	})
	return wndProcPtr
}

type windowsNotifier struct {
	hwnd     uintptr
	class    *uint16
	instance windows.Handle
	thread   uint32
	fn       func()
	stop     sync.Once
}

// newNotifier creates a message-only window on the calling thread and
// registers it as a clipboard format listener.
func newNotifier() (*windowsNotifier, error) {
	var inst windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &inst); err != nil {
		return nil, fmt.Errorf("module handle: %w", err)
	}
	class, err := windows.UTF16PtrFromString(fmt.Sprintf("ClipkeepListener%d", classSeq.Add(1)))
	if err != nil {
		return nil, err
	}

	wc := wndClassEx{
		wndProc:   wndProc(),
		instance:  inst,
		className: class,
	}
	wc.size = uint32(unsafe.Sizeof(wc))
	if atom, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); atom == 0 {
		return nil, fmt.Errorf("RegisterClassEx: %v", err)
	}

	n := &windowsNotifier{
		class:    class,
		instance: inst,
		thread:   windows.GetCurrentThreadId(),
	}

	hwnd, _, err := procCreateWindowExW.Call(0, uintptr(unsafe.Pointer(class)), 0, 0,
		0, 0, 0, 0, hwndMessage, 0, uintptr(inst), 0)
	if hwnd == 0 {
		n.unregisterClass()
		return nil, fmt.Errorf("CreateWindowEx: %v", err)
	}
	n.hwnd = hwnd
	notifiers.Store(hwnd, n)

	if r, _, err := procAddClipboardFormatListener.Call(hwnd); r == 0 {
		notifiers.Delete(hwnd)
		procDestroyWindow.Call(hwnd)
		n.unregisterClass()
		return nil, fmt.Errorf("AddClipboardFormatListener: %v", err)
	}
	return n, nil
}

func (n *windowsNotifier) changed() {
	if n.fn != nil {
		n.fn()
	}
}

// Run pumps the thread's message queue until WM_QUIT.
func (n *windowsNotifier) Run(fn func()) error {
	n.fn = fn
	var m msg
	for {
		r, _, err := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case -1:
			return fmt.Errorf("GetMessage: %v", err)
		case 0:
			return nil
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
	}
}

// Stop posts WM_QUIT to the listener thread. The window already gave the
// thread a message queue, so a quit posted before Run is not lost.
func (n *windowsNotifier) Stop() {
	n.stop.Do(func() {
		procPostThreadMessageW.Call(uintptr(n.thread), wmQuit, 0, 0)
	})
}

// Close tears down in reverse order of creation: listener, window, class.
func (n *windowsNotifier) Close() error {
	var errs []error
	if r, _, err := procRemoveClipboardFormatListener.Call(n.hwnd); r == 0 {
		errs = append(errs, fmt.Errorf("RemoveClipboardFormatListener: %v", err))
	}
	notifiers.Delete(n.hwnd)
	if r, _, err := procDestroyWindow.Call(n.hwnd); r == 0 {
		errs = append(errs, fmt.Errorf("DestroyWindow: %v", err))
	}
	if err := n.unregisterClass(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (n *windowsNotifier) unregisterClass() error {
	if r, _, err := procUnregisterClassW.Call(uintptr(unsafe.Pointer(n.class)), uintptr(n.instance)); r == 0 {
		return fmt.Errorf("UnregisterClass: %v", err)
	}
	return nil
}
