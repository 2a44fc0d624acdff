package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vnminer/agent/internal/logging"
)

var log = logging.L("audio")

// Recorder keeps the trailing window of a live capture stream in a Ring and
// cuts WAV clips out of it on demand.
type Recorder struct {
	capturer Capturer

	mu      sync.Mutex // control path only; the ring has its own lock
	ring    *Ring
	stream  Stream
	device  string
	onError func(error)

	recording  atomic.Bool
	manualStop atomic.Bool
	session    atomic.Uint64
}

// NewRecorder creates a recorder on top of a capture backend.
func NewRecorder(capturer Capturer) *Recorder {
	return &Recorder{capturer: capturer}
}

// OnError registers the handler for capture failures: a device that cannot
// be opened by Start (called on the caller's goroutine), and unexpected
// stops such as an unplugged device or a driver fault (called from the
// capture goroutine). It is never called for Stop.
func (r *Recorder) OnError(fn func(error)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// Start begins continuous capture from deviceID into a ring holding
// windowSeconds of audio. A running capture is stopped first. The ring is
// reused when the size is unchanged. A failure to open the device is
// returned and also delivered to the OnError handler.
func (r *Recorder) Start(deviceID string, windowSeconds int) error {
	err := r.start(deviceID, windowSeconds)
	if err != nil {
		r.mu.Lock()
		fn := r.onError
		r.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	}
	return err
}

func (r *Recorder) start(deviceID string, windowSeconds int) error {
	if r.recording.Load() {
		r.Stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.manualStop.Store(false)

	stream, format, err := r.capturer.Open(deviceID)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) && !errors.Is(err, ErrNotSupported) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		log.Warn("cannot open capture device", logging.KeyDevice, deviceID, logging.KeyError, err)
		return err
	}
	if !format.Valid() {
		r.manualStop.Store(true)
		stream.Stop()
		return fmt.Errorf("%w: device reported %s", ErrDeviceUnavailable, format)
	}

	want := NewRing(format, windowSeconds)
	if r.ring == nil || r.ring.Cap() != want.Cap() || r.ring.Format() != format {
		r.ring = want
	}
	ring := r.ring
	gen := ring.Arm()
	session := r.session.Add(1)

	onData := func(chunk []byte) {
		ring.WriteGen(gen, chunk)
	}
	onStopped := func(cause error) {
		r.handleStopped(session, cause)
	}

	if err := stream.Start(onData, onStopped); err != nil {
		r.manualStop.Store(true)
		ring.Disarm()
		stream.Stop()
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return err
	}

	r.stream = stream
	r.device = deviceID
	r.recording.Store(true)
	log.Info("buffering started",
		logging.KeyDevice, deviceID,
		"format", format.String(),
		"windowSeconds", windowSeconds,
		"capacityBytes", ring.Cap(),
	)
	return nil
}

// handleStopped runs on the capture goroutine when delivery ends. The
// manual-stop flag is set before Stop touches the stream, so a stop we asked
// for is never reported as a failure.
func (r *Recorder) handleStopped(session uint64, cause error) {
	if r.session.Load() != session {
		return
	}
	r.recording.Store(false)
	if r.manualStop.Load() {
		return
	}
	if cause == nil {
		cause = ErrDeviceLost
	}
	log.Error("capture stopped unexpectedly", logging.KeyError, cause)

	r.mu.Lock()
	fn := r.onError
	r.mu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

// Stop halts capture and releases the device. No write reaches the ring
// after Stop returns. Idempotent.
func (r *Recorder) Stop() {
	r.manualStop.Store(true)

	r.mu.Lock()
	stream := r.stream
	ring := r.ring
	r.stream = nil
	r.mu.Unlock()

	if ring != nil {
		ring.Disarm()
	}
	if stream != nil {
		if err := stream.Stop(); err != nil {
			log.Warn("error releasing capture stream", logging.KeyError, err)
		}
		log.Info("buffering stopped", logging.KeyDevice, r.device)
	}
	r.recording.Store(false)
}

// IsRecording reports whether a capture stream is live.
func (r *Recorder) IsRecording() bool {
	return r.recording.Load()
}

// Format returns the format of the current (or last) ring.
func (r *Recorder) Format() Format {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ring == nil {
		return Format{}
	}
	return r.ring.Format()
}

// Export returns a WAV clip of the audio between startAgo and endAgo
// seconds before now. It reports false when not recording or when the span
// is empty or longer than the window.
func (r *Recorder) Export(startAgo, endAgo float64) ([]byte, bool) {
	if !r.recording.Load() {
		return nil, false
	}
	r.mu.Lock()
	ring := r.ring
	r.mu.Unlock()
	if ring == nil {
		return nil, false
	}

	pcm, ok := ring.Window(startAgo, endAgo)
	if !ok {
		return nil, false
	}
	clip, err := EncodeWAV(ring.Format(), pcm)
	if err != nil {
		log.Warn("cannot package audio clip", logging.KeyError, err)
		return nil, false
	}
	return clip, true
}
