package audio

import (
	"math"
	"sync"
)

// Ring is a fixed-capacity circular byte buffer holding the trailing window
// of captured audio. The write cursor always points at the next byte to be
// overwritten. The mutex is held only for the copy in and out, never across
// encoding or callbacks.
type Ring struct {
	mu       sync.Mutex
	format   Format
	buf      []byte
	pos      int
	written  int64
	gen      uint64
	accepted bool
}

// NewRing sizes a ring for seconds of audio in format. Capacity is rounded
// down to a whole number of frames.
func NewRing(format Format, seconds int) *Ring {
	capacity := format.BytesPerSecond() * seconds
	if align := format.BlockAlign(); align > 0 {
		capacity -= capacity % align
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Ring{
		format: format,
		buf:    make([]byte, capacity),
	}
}

// Cap returns the capacity in bytes.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Format returns the sample format the ring was sized for.
func (r *Ring) Format() Format {
	return r.format
}

// Written returns the total number of bytes accepted since the last Arm.
func (r *Ring) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Arm rewinds the cursor and opens a new write generation. Only writes
// tagged with the returned generation are accepted until the next Arm or
// Disarm.
func (r *Ring) Arm() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.pos = 0
	r.written = 0
	r.accepted = true
	return r.gen
}

// Disarm closes the current generation; late chunks from a stopped device
// are dropped.
func (r *Ring) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.accepted = false
}

// Write copies chunk in at the cursor, wrapping around the end.
func (r *Ring) Write(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write(chunk)
}

// WriteGen is Write for the capture callback: it is a no-op unless gen is
// the generation returned by the latest Arm.
func (r *Ring) WriteGen(gen uint64, chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.accepted || gen != r.gen {
		return false
	}
	r.write(chunk)
	return true
}

func (r *Ring) write(chunk []byte) {
	size := len(r.buf)
	if size == 0 || len(chunk) == 0 {
		return
	}
	r.written += int64(len(chunk))

	// Only the last size bytes of an oversized chunk survive.
	if len(chunk) > size {
		skip := len(chunk) - size
		r.pos = (r.pos + skip) % size
		chunk = chunk[skip:]
	}

	for len(chunk) > 0 {
		n := copy(r.buf[r.pos:], chunk)
		r.pos += n
		if r.pos >= size {
			r.pos = 0
		}
		chunk = chunk[n:]
	}
}

// WindowBytes copies the bytes between startOffset and endOffset bytes
// before the cursor, oldest first. It reports false when the span is empty
// or longer than the ring.
func (r *Ring) WindowBytes(startOffset, endOffset int) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.buf)
	if endOffset < 0 {
		endOffset = 0
	}
	length := startOffset - endOffset
	if size == 0 || length <= 0 || length > size {
		return nil, false
	}

	startIdx := ((r.pos-startOffset)%size + size) % size
	endIdx := ((r.pos-endOffset)%size + size) % size

	out := make([]byte, 0, length)
	if startIdx < endIdx {
		out = append(out, r.buf[startIdx:endIdx]...)
	} else {
		// The window spans the wrap point.
		out = append(out, r.buf[startIdx:]...)
		out = append(out, r.buf[:endIdx]...)
	}
	return out, true
}

// Window copies the audio between startAgo and endAgo seconds before now,
// aligned down to whole frames.
func (r *Ring) Window(startAgo, endAgo float64) ([]byte, bool) {
	bps := r.format.BytesPerSecond()
	align := r.format.BlockAlign()
	if bps <= 0 || align <= 0 {
		return nil, false
	}
	if endAgo < 0 {
		endAgo = 0
	}
	start := secondsToBytes(startAgo, bps, len(r.buf))
	end := secondsToBytes(endAgo, bps, len(r.buf))
	start -= start % align
	end -= end % align
	return r.WindowBytes(start, end)
}

// secondsToBytes converts a duration to a byte offset, saturating just past
// the ring capacity so absurd requests still fail the length check.
func secondsToBytes(seconds float64, bps, capacity int) int {
	v := seconds * float64(bps)
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v > float64(capacity)+float64(bps) {
		return capacity + bps
	}
	return int(v)
}
