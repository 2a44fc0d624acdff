package mining

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vnminer/agent/internal/video"
)

const (
	// MaxTextRunes bounds the stored text of a slot.
	MaxTextRunes = 1000
	// TruncationMarker is appended to text cut at MaxTextRunes.
	TruncationMarker = " [...]"
	// ThumbnailWidth is the width of the cached preview image.
	ThumbnailWidth = 150
)

// Slot is one capture: a line of text, when it appeared, a screenshot and,
// once sealed, the audio spoken around it.
//
// ID, Text and Timestamp never change. Media fields are guarded because
// export reads them from a worker goroutine while the run loop may dispose
// the slot.
type Slot struct {
	ID        string
	Text      string
	Timestamp time.Time

	mu         sync.RWMutex
	screenshot []byte
	audio      []byte // nil while open
	thumb      image.Image
	disposed   bool

	exporting atomic.Bool
}

// NewSlot creates an open slot. text is truncated to MaxTextRunes.
func NewSlot(text string, ts time.Time, screenshot []byte) *Slot {
	return &Slot{
		ID:         newSlotID(),
		Text:       TruncateText(text),
		Timestamp:  ts,
		screenshot: screenshot,
	}
}

func newSlotID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// TruncateText cuts text at MaxTextRunes and marks the cut.
func TruncateText(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxTextRunes]) + TruncationMarker
}

// IsOpen reports whether the slot is still waiting for its audio.
func (s *Slot) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio == nil && !s.disposed
}

// seal stores the audio clip. A nil clip is stored as empty so the slot
// still counts as sealed. Reports false if the slot was not open.
func (s *Slot) seal(clip []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio != nil || s.disposed {
		return false
	}
	if clip == nil {
		clip = []byte{}
	}
	s.audio = clip
	return true
}

// Audio returns the sealed clip (nil while open or after disposal). The
// returned slice must not be modified.
func (s *Slot) Audio() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

// Screenshot returns the JPEG taken at capture time, if any.
func (s *Slot) Screenshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screenshot
}

// DisplayTime is the capture time of day.
func (s *Slot) DisplayTime() string {
	return s.Timestamp.Format("15:04:05")
}

// Thumbnail decodes the screenshot at ThumbnailWidth and caches it. It
// returns nil when there is no usable screenshot.
func (s *Slot) Thumbnail() image.Image {
	s.mu.RLock()
	thumb, shot := s.thumb, s.screenshot
	s.mu.RUnlock()
	if thumb != nil {
		return thumb
	}
	if len(shot) == 0 {
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil
	}
	thumb = video.ScaleToWidth(img, ThumbnailWidth)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	s.thumb = thumb
	return thumb
}

// Dispose drops all media so the memory can be reclaimed.
func (s *Slot) Dispose() {
	s.mu.Lock()
	s.audio = nil
	s.screenshot = nil
	s.thumb = nil
	s.disposed = true
	s.mu.Unlock()
}

// Disposed reports whether Dispose has run.
func (s *Slot) Disposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

// DenseChars counts the slot's dense-script characters, recomputed from the
// stored text on every call.
func (s *Slot) DenseChars() int {
	return CountDenseChars(s.Text)
}

// Exporting reports whether an export of this slot is running.
func (s *Slot) Exporting() bool {
	return s.exporting.Load()
}

func (s *Slot) tryBeginExport() bool {
	return s.exporting.CompareAndSwap(false, true)
}

func (s *Slot) endExport() {
	s.exporting.Store(false)
}
