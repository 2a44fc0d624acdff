package mining

import (
	"math"
	"sync"
	"time"
)

// Tracker measures active reading time and counts dense-script characters
// to derive reading speed. It is safe for concurrent use.
type Tracker struct {
	clock Clock

	mu          sync.Mutex
	running     bool
	startedAt   time.Time
	accumulated time.Duration
	chars       int
}

// NewTracker creates a paused tracker.
func NewTracker(clock Clock) *Tracker {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Tracker{clock: clock}
}

// Start begins or resumes timing. Totals are kept.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.startedAt = t.clock.Now()
}

// Pause stops timing and keeps totals.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.accumulated += t.sinceStart()
	t.running = false
}

// Reset zeroes time and characters and stops timing.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.accumulated = 0
	t.chars = 0
}

// AddCharacters adds n to the character count.
func (t *Tracker) AddCharacters(n int) {
	t.mu.Lock()
	t.chars += n
	if t.chars < 0 {
		t.chars = 0
	}
	t.mu.Unlock()
}

// RemoveCharacters subtracts n, flooring the count at zero.
func (t *Tracker) RemoveCharacters(n int) {
	t.mu.Lock()
	t.chars -= n
	if t.chars < 0 {
		t.chars = 0
	}
	t.mu.Unlock()
}

// Characters returns the character count.
func (t *Tracker) Characters() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chars
}

// IsTracking reports whether time is advancing.
func (t *Tracker) IsTracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Elapsed returns the active time so far.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed()
}

func (t *Tracker) elapsed() time.Duration {
	if t.running {
		return t.accumulated + t.sinceStart()
	}
	return t.accumulated
}

func (t *Tracker) sinceStart() time.Duration {
	d := t.clock.Now().Sub(t.startedAt)
	if d < 0 {
		return 0
	}
	return d
}

// CharsPerMinute is rounded to one decimal; 0 when no time has elapsed.
func (t *Tracker) CharsPerMinute() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	minutes := t.elapsed().Minutes()
	if minutes <= 0 {
		return 0
	}
	return math.Round(float64(t.chars)/minutes*10) / 10
}

// CharsPerHour is rounded to a whole number; 0 when no time has elapsed.
func (t *Tracker) CharsPerHour() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	hours := t.elapsed().Hours()
	if hours <= 0 {
		return 0
	}
	return math.Round(float64(t.chars) / hours)
}

// Stats is a point-in-time copy of the tracker.
type Stats struct {
	Tracking       bool
	Elapsed        time.Duration
	Characters     int
	CharsPerMinute float64
	CharsPerHour   float64
}

// Stats returns all tracker values at once.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	running, elapsed, chars := t.running, t.elapsed(), t.chars
	t.mu.Unlock()

	s := Stats{Tracking: running, Elapsed: elapsed, Characters: chars}
	if m := elapsed.Minutes(); m > 0 {
		s.CharsPerMinute = math.Round(float64(chars)/m*10) / 10
		s.CharsPerHour = math.Round(float64(chars) / elapsed.Hours())
	}
	return s
}
