//go:build windows

package video

import (
	"image"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procGetWindowRect = windows.NewLazySystemDLL("user32.dll").NewProc("GetWindowRect")

	// Callbacks are a limited resource; one is shared by every search.
	enumWindowsCallback = windows.NewCallback(collectWindow)
)

type winRect struct {
	Left, Top, Right, Bottom int32
}

type windowSearch struct {
	pids map[uint32]bool
	best image.Rectangle
}

func collectWindow(hwnd windows.HWND, lparam uintptr) uintptr {
	s := (*windowSearch)(unsafe.Pointer(lparam))
	if !windows.IsWindowVisible(hwnd) {
		return 1
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || !s.pids[pid] {
		return 1
	}
	var r winRect
	if ok, _, _ := procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&r))); ok == 0 {
		return 1
	}
	b := image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom))
	if rectArea(b) > rectArea(s.best) {
		s.best = b
	}
	return 1
}

// windowBounds returns the screen rectangle of the largest visible top-level
// window owned by one of pids.
func windowBounds(pids []int32) (image.Rectangle, bool) {
	s := &windowSearch{pids: make(map[uint32]bool, len(pids))}
	for _, pid := range pids {
		s.pids[uint32(pid)] = true
	}
	if err := windows.EnumWindows(enumWindowsCallback, unsafe.Pointer(s)); err != nil {
		log.Debug("window enumeration failed", "error", err)
	}
	return s.best, !s.best.Empty()
}

func rectArea(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
