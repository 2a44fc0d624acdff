package mining

import (
	"context"
	"sync"
	"time"

	"github.com/vnminer/agent/internal/hook"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires every due, unstopped timer.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) lastTimer() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type exportCall struct{ startAgo, endAgo float64 }

type fakeAudio struct {
	mu        sync.Mutex
	startErr  error
	recording bool
	device    string
	window    int
	starts    int
	stops     int
	clip      []byte
	exports   []exportCall
	onErr     func(error)
}

// Start reports an open failure both ways, like the recorder.
func (a *fakeAudio) Start(deviceID string, windowSeconds int) error {
	a.mu.Lock()
	if err := a.startErr; err != nil {
		fn := a.onErr
		a.mu.Unlock()
		if fn != nil {
			fn(err)
		}
		return err
	}
	defer a.mu.Unlock()
	a.recording = true
	a.device = deviceID
	a.window = windowSeconds
	a.starts++
	return nil
}

func (a *fakeAudio) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recording = false
	a.stops++
}

func (a *fakeAudio) Export(startAgo, endAgo float64) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exports = append(a.exports, exportCall{startAgo, endAgo})
	if !a.recording {
		return nil, false
	}
	return a.clip, true
}

func (a *fakeAudio) OnError(fn func(error)) {
	a.mu.Lock()
	a.onErr = fn
	a.mu.Unlock()
}

// fail simulates the device disappearing under a running capture.
func (a *fakeAudio) fail(err error) {
	a.mu.Lock()
	a.recording = false
	fn := a.onErr
	a.mu.Unlock()
	fn(err)
}

func (a *fakeAudio) calls() []exportCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]exportCall(nil), a.exports...)
}

type fakeText struct {
	mu       sync.Mutex
	handler  hook.Handler
	startErr error
	starts   int
	stops    int
}

func (f *fakeText) Start(h hook.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.handler = h
	f.starts++
	return nil
}

func (f *fakeText) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	f.stops++
}

func (f *fakeText) emit(text string, ts time.Time) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(hook.Event{Text: text, Timestamp: ts})
	}
}

type fakeScreens struct {
	mu      sync.Mutex
	shot    []byte
	delay   time.Duration
	targets []string
}

func (f *fakeScreens) CaptureWindow(target string, maxWidth int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.targets = append(f.targets, target)
	return f.shot
}

type storedMedia struct {
	name string
	data []byte
}

type fakeCards struct {
	mu        sync.Mutex
	storeErr  error
	refuse    bool
	updateOK  bool
	updateMsg string
	stored    []storedMedia
	updates   [][]string
	block     chan struct{}
}

func (f *fakeCards) StoreMedia(ctx context.Context, filename string, data []byte) (bool, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return false, f.storeErr
	}
	if f.refuse {
		return false, nil
	}
	f.stored = append(f.stored, storedMedia{filename, data})
	return true, nil
}

func (f *fakeCards) UpdateLastCard(ctx context.Context, deck, audioField, imageField, audioFile, imageFile string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, []string{deck, audioField, imageField, audioFile, imageFile})
	return f.updateOK, f.updateMsg
}

func (f *fakeCards) snapshot() ([]storedMedia, [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storedMedia(nil), f.stored...), append([][]string(nil), f.updates...)
}

type fakeConverter struct{ out []byte }

func (c fakeConverter) ToCompressed(wav []byte, _ int) []byte {
	if c.out == nil {
		return wav
	}
	return c.out
}

func hookEvent(text string, ts time.Time) hook.Event {
	return hook.Event{Text: text, Timestamp: ts}
}
