// Package video takes the screenshot stored with each mining slot.
package video

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"github.com/vnminer/agent/internal/logging"
)

var log = logging.L("video")

// ErrNoDisplay is returned when no active display can be captured.
var ErrNoDisplay = errors.New("no active display")

// Screenshotter captures the target application. It returns nil on any
// failure; a missing screenshot never blocks a capture.
type Screenshotter interface {
	CaptureWindow(target string, maxWidth int) []byte
}

// DisplayCapturer grabs the on-screen area of the target application's
// main window while it is running, scales it to the configured width and
// encodes it as JPEG. When no visible window can be located the primary
// display is captured instead.
type DisplayCapturer struct {
	processes ProcessLister
	// locate returns the screen bounds of the largest visible window owned
	// by one of pids.
	locate func(pids []int32) (image.Rectangle, bool)
	// grab captures area, or the primary display when area is empty.
	grab func(area image.Rectangle) (image.Image, error)
}

// NewDisplayCapturer creates a capturer using gopsutil, the platform window
// list and the platform screen grabber.
func NewDisplayCapturer() *DisplayCapturer {
	return &DisplayCapturer{
		processes: SystemProcesses(),
		locate:    windowBounds,
		grab:      grabScreen,
	}
}

func grabScreen(area image.Rectangle) (image.Image, error) {
	n := screenshot.NumActiveDisplays()
	if n < 1 {
		return nil, ErrNoDisplay
	}
	displays := make([]image.Rectangle, n)
	for i := range displays {
		displays[i] = screenshot.GetDisplayBounds(i)
	}
	if clip := clipToDesktop(area, displays); !clip.Empty() {
		img, err := screenshot.CaptureRect(clip)
		if err != nil {
			return nil, fmt.Errorf("capture window area: %w", err)
		}
		return img, nil
	}
	img, err := screenshot.CaptureDisplay(0)
	if err != nil {
		return nil, fmt.Errorf("capture display: %w", err)
	}
	return img, nil
}

// clipToDesktop limits area to the union of the display bounds. Minimized
// windows sit far off-screen and clip to the empty rectangle.
func clipToDesktop(area image.Rectangle, displays []image.Rectangle) image.Rectangle {
	var desktop image.Rectangle
	for _, d := range displays {
		desktop = desktop.Union(d)
	}
	return area.Intersect(desktop)
}

// CaptureWindow implements Screenshotter. An empty target or a target that
// is not running yields nil.
func (d *DisplayCapturer) CaptureWindow(target string, maxWidth int) []byte {
	if target == "" {
		return nil
	}
	pids := targetPIDs(d.processes, target)
	if len(pids) == 0 {
		log.Debug("target not running, skipping screenshot", "target", target)
		return nil
	}

	var area image.Rectangle
	if d.locate != nil {
		if r, ok := d.locate(pids); ok {
			area = r
		} else {
			log.Debug("no visible window for target, capturing primary display", "target", target)
		}
	}

	img, err := d.grab(area)
	if err != nil {
		log.Warn("screenshot failed", "target", target, logging.KeyError, err)
		return nil
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil
	}

	data, err := EncodeJPEG(ScaleToWidth(img, maxWidth), JPEGQuality)
	if err != nil {
		log.Warn("screenshot encode failed", logging.KeyError, err)
		return nil
	}
	return data
}
