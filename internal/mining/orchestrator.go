// Package mining turns text events into capture slots: it opens a slot per
// line, seals the previous one with audio cut from the rolling buffer, keeps
// the slot history bounded and hands sealed slots to the exporter.
package mining

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnminer/agent/internal/health"
	"github.com/vnminer/agent/internal/hook"
	"github.com/vnminer/agent/internal/logging"
	"github.com/vnminer/agent/internal/video"
	"github.com/vnminer/agent/internal/workerpool"
)

var log = logging.L("mining")

const (
	// sealPadding is taken before the slot timestamp to keep speech that
	// starts slightly before the text appears.
	sealPadding = 250 * time.Millisecond
	// fallbackWindow is used when the computed window is empty.
	fallbackWindow = 5.0
)

// State of the capture cycle.
type State int

const (
	StateIdle      State = iota // no open slot, timer disarmed
	StateBuffering              // one open slot, timer armed
)

func (s State) String() string {
	if s == StateBuffering {
		return "buffering"
	}
	return "idle"
}

// AudioSource is the rolling audio buffer.
type AudioSource interface {
	Start(deviceID string, windowSeconds int) error
	Stop()
	Export(startAgo, endAgo float64) ([]byte, bool)
	OnError(func(error))
}

// Settings are the tunables the orchestrator reads on every capture.
type Settings struct {
	DeviceID       string
	TargetWindow   string
	BufferSeconds  int
	MaxSlots       int
	FixedTimeout   float64 // seconds
	DynamicTimeout bool
	MaxImageWidth  int
	Timeout        TimeoutParams
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		BufferSeconds:  120,
		MaxSlots:       50,
		FixedTimeout:   30,
		DynamicTimeout: true,
		MaxImageWidth:  1280,
		Timeout:        DefaultTimeoutParams(),
	}
}

func (s Settings) normalize() Settings {
	d := DefaultSettings()
	if s.BufferSeconds <= 0 {
		s.BufferSeconds = d.BufferSeconds
	}
	if s.MaxSlots <= 0 {
		s.MaxSlots = d.MaxSlots
	}
	if s.FixedTimeout <= 0 {
		s.FixedTimeout = d.FixedTimeout
	}
	if s.Timeout == (TimeoutParams{}) {
		s.Timeout = d.Timeout
	}
	return s
}

// Options wires the orchestrator's collaborators. Audio and Text are
// required.
type Options struct {
	Audio    AudioSource
	Text     hook.Source
	Screens  video.Screenshotter
	Exporter *Exporter
	Pool     *workerpool.Pool
	Health   *health.Monitor
	Clock    Clock
	Settings Settings
}

// Snapshot is a consistent view of the orchestrator for status displays.
type Snapshot struct {
	State    State
	Running  bool
	Slots    int
	OpenSlot string
	Tracker  Stats
	Settings Settings
}

// Orchestrator owns the slot store and runs every state transition on a
// single goroutine (Run). Text events, timer fires and device errors are
// posted to it; public methods block until their transition completes.
type Orchestrator struct {
	audio    AudioSource
	text     hook.Source
	screens  video.Screenshotter
	exporter *Exporter
	pool     *workerpool.Pool
	ownPool  bool
	health   *health.Monitor
	clock    Clock
	tracker  *Tracker

	// Transitions waiting for the run loop, in arrival order.
	queueMu   sync.Mutex
	queue     []func()
	wake      chan struct{}
	done      chan struct{}
	runOnce   sync.Once
	accepting atomic.Bool

	subsMu sync.RWMutex
	subs   []func(Notice)

	// Confined to the run loop.
	settings Settings
	store    *Store
	state    State
	running  bool
	idle     Timer
	idleGen  uint64
}

// New creates an orchestrator. Call Run before any other method.
func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	settings := opts.Settings.normalize()
	o := &Orchestrator{
		audio:    opts.Audio,
		text:     opts.Text,
		screens:  opts.Screens,
		exporter: opts.Exporter,
		pool:     opts.Pool,
		health:   opts.Health,
		clock:    opts.Clock,
		tracker:  NewTracker(opts.Clock),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		settings: settings,
		store:    NewStore(settings.MaxSlots),
	}
	if o.pool == nil {
		o.pool = workerpool.New("export", 1, 8)
		o.ownPool = true
	}
	o.audio.OnError(func(err error) {
		o.enqueue(func() { o.handleAudioError(err) })
	})
	return o
}

// Subscribe registers fn for every notice. fn runs on the run loop: it must
// not block and must not call back into the orchestrator.
func (o *Orchestrator) Subscribe(fn func(Notice)) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	subs := make([]func(Notice), len(o.subs), len(o.subs)+1)
	copy(subs, o.subs)
	o.subs = append(subs, fn)
}

// Tracker returns the session tracker.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// Run executes transitions until ctx is cancelled, then stops buffering.
// It must be called exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	err := ErrClosed
	o.runOnce.Do(func() {
		defer close(o.done)
		for {
			select {
			case <-ctx.Done():
				o.shutdown()
				err = ctx.Err()
				return
			case <-o.wake:
				o.drain()
			}
		}
	})
	return err
}

func (o *Orchestrator) shutdown() {
	if o.running {
		o.stop("Buffer stopped.")
	}
	if o.ownPool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.pool.Shutdown(ctx)
	}
}

// drain runs queued transitions in arrival order until the queue is empty.
func (o *Orchestrator) drain() {
	for {
		o.queueMu.Lock()
		batch := o.queue
		o.queue = nil
		o.queueMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// enqueue appends fn to the run queue without ever blocking the caller
// (capture goroutines, timers, hook pollers). Transitions run in the order
// they were enqueued. It reports false once the loop has exited.
func (o *Orchestrator) enqueue(fn func()) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	o.queueMu.Lock()
	o.queue = append(o.queue, fn)
	o.queueMu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the loop and waits for it.
func (o *Orchestrator) call(fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	if !o.enqueue(wrapped) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-o.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (o *Orchestrator) emit(n Notice) {
	if n.At.IsZero() {
		n.At = o.clock.Now()
	}
	o.subsMu.RLock()
	subs := o.subs
	o.subsMu.RUnlock()
	for _, fn := range subs {
		fn(n)
	}
}

func (o *Orchestrator) status(msg string, err error) {
	o.emit(Notice{Kind: NoticeStatus, Message: msg, Err: err})
}

// onText is the hook handler; events after Stop are dropped.
func (o *Orchestrator) onText(ev hook.Event) {
	if !o.accepting.Load() {
		return
	}
	o.enqueue(func() { o.handleText(ev) })
}

// HandleText posts a text event as if a hook had produced it.
func (o *Orchestrator) HandleText(ev hook.Event) {
	o.onText(ev)
}

// Start begins buffering on deviceID ("" keeps the configured device).
func (o *Orchestrator) Start(deviceID string) error {
	var err error
	if cerr := o.call(func() { err = o.start(deviceID) }); cerr != nil {
		return cerr
	}
	return err
}

// Stop seals any open slot and stops buffering.
func (o *Orchestrator) Stop() error {
	return o.call(func() { o.stop("Buffer stopped.") })
}

// DeleteSlot removes a slot and takes its characters off the tracker.
func (o *Orchestrator) DeleteSlot(id string) error {
	var err error
	if cerr := o.call(func() { err = o.deleteSlot(id) }); cerr != nil {
		return cerr
	}
	return err
}

// EndSession stops buffering, discards every slot and resets the tracker.
func (o *Orchestrator) EndSession() error {
	return o.call(o.endSession)
}

// Slots returns the slots newest-first. Once Run has returned the store is
// no longer reachable and Slots returns nil.
func (o *Orchestrator) Slots() []*Slot {
	var out []*Slot
	if err := o.call(func() { out = o.store.Slots() }); err != nil {
		return nil
	}
	return out
}

// Snapshot returns the current state. Once Run has returned it returns the
// zero Snapshot: Idle, not running, no slots.
func (o *Orchestrator) Snapshot() Snapshot {
	var s Snapshot
	err := o.call(func() {
		s = Snapshot{
			State:    o.state,
			Running:  o.running,
			Slots:    o.store.Len(),
			Tracker:  o.tracker.Stats(),
			Settings: o.settings,
		}
		if open := o.store.Open(); len(open) > 0 {
			s.OpenSlot = open[0].ID
		}
	})
	if err != nil {
		return Snapshot{}
	}
	return s
}

// Settings returns the active settings, or the zero Settings once Run has
// returned.
func (o *Orchestrator) Settings() Settings {
	var s Settings
	if err := o.call(func() { s = o.settings }); err != nil {
		return Settings{}
	}
	return s
}

// UpdateSettings replaces the settings. A smaller MaxSlots evicts at once.
// BufferSeconds applies from the next Start.
func (o *Orchestrator) UpdateSettings(s Settings) error {
	return o.call(func() {
		o.settings = s.normalize()
		for _, gone := range o.store.SetBound(o.settings.MaxSlots) {
			log.Debug("slot evicted by new bound", logging.KeySlotID, gone.ID)
		}
	})
}

// ExportAsync queues an export of slot id ("" or "latest" for the newest)
// on the worker pool. An open slot is sealed first. The outcome arrives as
// NoticeExported or NoticeExportFailed.
func (o *Orchestrator) ExportAsync(id string, cfg ExportConfig) error {
	var err error
	if cerr := o.call(func() { err = o.exportAsync(id, cfg) }); cerr != nil {
		return cerr
	}
	return err
}

func (o *Orchestrator) start(deviceID string) error {
	if o.running {
		return nil
	}
	if deviceID == "" {
		deviceID = o.settings.DeviceID
	}

	if err := o.audio.Start(deviceID, o.settings.BufferSeconds); err != nil {
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		o.health.Update(health.Audio, health.Unhealthy, err.Error())
		o.status("Cannot start buffer: "+err.Error(), err)
		return err
	}
	o.health.Update(health.Audio, health.Healthy, "buffering")

	o.accepting.Store(true)
	if err := o.text.Start(o.onText); err != nil {
		o.accepting.Store(false)
		o.audio.Stop()
		err = fmt.Errorf("start text hook: %w", err)
		o.health.Update(health.Hook, health.Unhealthy, err.Error())
		o.status("Cannot start text hook: "+err.Error(), err)
		return err
	}
	o.health.Update(health.Hook, health.Healthy, "listening")

	o.settings.DeviceID = deviceID
	o.tracker.Start()
	o.running = true
	log.Info("buffer running", logging.KeyDevice, deviceID, "windowSeconds", o.settings.BufferSeconds)
	o.status("Buffer running...", nil)
	return nil
}

func (o *Orchestrator) stop(msg string) {
	if !o.running {
		return
	}
	o.sealOpen(o.clock.Now())
	o.accepting.Store(false)
	o.audio.Stop()
	o.text.Stop()
	o.disarmIdle()
	o.tracker.Pause()
	o.running = false
	o.state = StateIdle
	o.health.Update(health.Audio, health.Healthy, "stopped")
	o.health.Update(health.Hook, health.Healthy, "stopped")
	log.Info("buffer stopped")
	o.status(msg, nil)
}

func (o *Orchestrator) handleText(ev hook.Event) {
	if !o.running {
		return
	}
	now := o.clock.Now()
	o.disarmIdle()
	o.sealOpen(now)

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}
	var shot []byte
	if o.screens != nil {
		shot = o.screens.CaptureWindow(o.settings.TargetWindow, o.settings.MaxImageWidth)
	}
	slot := NewSlot(ev.Text, ts, shot)
	o.store.InsertNewest(slot)
	o.tracker.AddCharacters(slot.DenseChars())
	for _, gone := range o.store.EvictOverBound() {
		log.Debug("slot evicted", logging.KeySlotID, gone.ID)
	}

	timeout, mode := o.idleTimeout(slot.Text)
	o.armIdle(timeout)
	o.state = StateBuffering

	o.emit(Notice{
		Kind:    NoticeSlotCaptured,
		SlotID:  slot.ID,
		Timeout: timeout,
		Message: fmt.Sprintf("Slot captured! Sealing in %.1fs (%s)", timeout.Seconds(), mode),
	})
}

func (o *Orchestrator) idleTimeout(text string) (time.Duration, string) {
	if o.settings.DynamicTimeout {
		return seconds(o.settings.Timeout.Dynamic(text)), "Dynamic"
	}
	return seconds(o.settings.FixedTimeout), "Fixed"
}

// armIdle replaces any pending idle timer. Each arm gets a new generation
// so a timer that fired before being stopped is ignored.
func (o *Orchestrator) armIdle(d time.Duration) {
	o.disarmIdle()
	gen := o.idleGen
	o.idle = o.clock.AfterFunc(d, func() {
		o.enqueue(func() { o.handleIdle(gen) })
	})
}

func (o *Orchestrator) disarmIdle() {
	if o.idle != nil {
		o.idle.Stop()
		o.idle = nil
	}
	o.idleGen++
}

func (o *Orchestrator) handleIdle(gen uint64) {
	if gen != o.idleGen {
		return
	}
	o.idle = nil
	o.state = StateIdle
	if o.sealOpen(o.clock.Now()) > 0 {
		o.emit(Notice{Kind: NoticeSealedByInactivity, Message: "Slot sealed due to inactivity."})
	}
}

func (o *Orchestrator) sealOpen(end time.Time) int {
	n := 0
	for _, slot := range o.store.Open() {
		if o.sealSlot(slot, end) {
			n++
		}
	}
	return n
}

// sealSlot cuts the audio from just before the slot's timestamp to end.
func (o *Orchestrator) sealSlot(slot *Slot, end time.Time) bool {
	if !slot.IsOpen() {
		return false
	}
	now := o.clock.Now()
	startAgo := now.Sub(slot.Timestamp.Add(-sealPadding)).Seconds()
	endAgo := math.Max(0, now.Sub(end).Seconds())
	if startAgo <= endAgo {
		startAgo = endAgo + fallbackWindow
	}

	clip, ok := o.audio.Export(startAgo, endAgo)
	if !ok {
		log.Warn("no audio for slot", logging.KeySlotID, slot.ID, "startAgo", startAgo, "endAgo", endAgo)
		clip = []byte{}
	}
	if !slot.seal(clip) {
		return false
	}
	o.emit(Notice{Kind: NoticeSlotSealed, SlotID: slot.ID, Bytes: len(clip)})
	return true
}

func (o *Orchestrator) handleAudioError(cause error) {
	if !o.running {
		return
	}
	err := fmt.Errorf("%w: %v", ErrUnexpectedCaptureStop, cause)
	o.stop("Buffer stopped.")
	o.health.Update(health.Audio, health.Unhealthy, cause.Error())
	o.status("ERROR: "+cause.Error(), err)
	o.emit(Notice{Kind: NoticeBufferStoppedUnexpectedly, Message: cause.Error(), Err: err})
}

func (o *Orchestrator) deleteSlot(id string) error {
	slot := o.store.Find(id)
	if slot == nil {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	wasOpen := slot.IsOpen()
	o.tracker.RemoveCharacters(slot.DenseChars())
	o.store.Delete(slot)
	if wasOpen {
		o.disarmIdle()
		o.state = StateIdle
	}
	o.status(fmt.Sprintf("Slot %s deleted.", id), nil)
	return nil
}

func (o *Orchestrator) endSession() {
	o.stop("Buffer stopped.")
	n := o.store.ClearAll()
	o.tracker.Reset()
	o.state = StateIdle
	log.Info("session ended", "slotsDiscarded", n)
	o.status("Session ended.", nil)
}

func (o *Orchestrator) resolve(id string) *Slot {
	if id == "" || id == "latest" {
		return o.store.Head()
	}
	return o.store.Find(id)
}

func (o *Orchestrator) exportAsync(id string, cfg ExportConfig) error {
	slot := o.resolve(id)
	if slot == nil {
		return fmt.Errorf("%w: %q", ErrSlotNotFound, id)
	}
	if o.exporter == nil {
		return fmt.Errorf("%w: no exporter configured", ErrExportFailure)
	}
	if cfg.Deck == "" {
		err := fmt.Errorf("%w: no deck selected", ErrConfigurationIncomplete)
		o.emit(Notice{Kind: NoticeExportFailed, SlotID: slot.ID, Message: err.Error(), Err: err})
		return err
	}
	if slot.IsOpen() {
		o.disarmIdle()
		o.state = StateIdle
		o.sealSlot(slot, o.clock.Now())
	}

	exporter := o.exporter
	err := o.pool.Submit(func(ctx context.Context) {
		res := exporter.Export(ctx, slot, cfg)
		n := Notice{Kind: NoticeExported, SlotID: slot.ID, Message: res.Message}
		if !res.Success {
			n.Kind = NoticeExportFailed
			n.Err = fmt.Errorf("%w: %s", ErrExportFailure, res.Message)
		}
		o.enqueue(func() { o.emit(n) })
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExportFailure, err)
	}
	return nil
}
