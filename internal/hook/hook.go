// Package hook delivers lines of text from a running application (via the
// clipboard or a texthooker websocket) as timestamped events.
package hook

import (
	"errors"
	"sync"
	"time"

	"github.com/vnminer/agent/internal/logging"
)

var log = logging.L("hook")

// Event is one line of text reported by a source.
type Event struct {
	Text      string
	Timestamp time.Time
}

// Handler receives events. Sources call it from their own goroutine.
type Handler func(Event)

// Source produces text events until stopped.
type Source interface {
	Start(handler Handler) error
	Stop()
}

// ErrNoHandler is returned when Start is called without a handler.
var ErrNoHandler = errors.New("hook: nil handler")

// DuplicateWindow is how long an identical line is suppressed after it was
// last delivered.
const DuplicateWindow = time.Second

// Debouncer drops an event whose text equals the previous one when it
// arrives within the window.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   string
	lastAt time.Time
}

// NewDebouncer creates a debouncer; window <= 0 uses DuplicateWindow.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DuplicateWindow
	}
	return &Debouncer{window: window}
}

// Allow reports whether ev should be delivered and records it if so.
func (d *Debouncer) Allow(ev Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ev.Text == d.last && !d.lastAt.IsZero() && ev.Timestamp.Sub(d.lastAt) < d.window {
		return false
	}
	d.last = ev.Text
	d.lastAt = ev.Timestamp
	return true
}

// Reset forgets the previous event.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.last = ""
	d.lastAt = time.Time{}
	d.mu.Unlock()
}

// Wrap returns a handler that forwards only events Allow accepts.
func (d *Debouncer) Wrap(next Handler) Handler {
	return func(ev Event) {
		if d.Allow(ev) {
			next(ev)
		} else {
			log.Debug("duplicate line suppressed", "chars", len([]rune(ev.Text)))
		}
	}
}
