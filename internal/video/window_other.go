//go:build !windows

package video

import "image"

// windowBounds is not available outside Windows; the primary display is
// captured instead.
func windowBounds([]int32) (image.Rectangle, bool) {
	return image.Rectangle{}, false
}
