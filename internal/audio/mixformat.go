package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	waveFormatPCMTag       = 0x0001
	waveFormatIEEEFloat    = 0x0003
	waveFormatExtensible   = 0xFFFE
	waveFormatExHeaderSize = 18
	waveFormatExtSize      = 40
)

// mixFormat is a decoded WAVEFORMATEX / WAVEFORMATEXTENSIBLE as reported by
// a shared-mode audio engine.
type mixFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Float         bool
}

// parseMixFormat decodes the little-endian WAVEFORMATEX in raw. For the
// extensible form the sub-format GUID decides between integer and float
// samples.
func parseMixFormat(raw []byte) (mixFormat, error) {
	if len(raw) < waveFormatExHeaderSize {
		return mixFormat{}, fmt.Errorf("%w: short wave format (%d bytes)", ErrUnsupportedFormat, len(raw))
	}
	tag := binary.LittleEndian.Uint16(raw[0:])
	mf := mixFormat{
		Channels:      int(binary.LittleEndian.Uint16(raw[2:])),
		SampleRate:    int(binary.LittleEndian.Uint32(raw[4:])),
		BitsPerSample: int(binary.LittleEndian.Uint16(raw[14:])),
	}

	switch tag {
	case waveFormatPCMTag:
	case waveFormatIEEEFloat:
		mf.Float = true
	case waveFormatExtensible:
		if len(raw) < waveFormatExtSize {
			return mixFormat{}, fmt.Errorf("%w: truncated extensible format", ErrUnsupportedFormat)
		}
		switch sub := binary.LittleEndian.Uint32(raw[24:]); sub {
		case waveFormatPCMTag:
		case waveFormatIEEEFloat:
			mf.Float = true
		default:
			return mixFormat{}, fmt.Errorf("%w: sub-format 0x%08X", ErrUnsupportedFormat, sub)
		}
	default:
		return mixFormat{}, fmt.Errorf("%w: format tag 0x%04X", ErrUnsupportedFormat, tag)
	}

	if mf.Channels <= 0 || mf.SampleRate <= 0 {
		return mixFormat{}, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, mf.Channels, mf.SampleRate)
	}
	switch {
	case mf.Float && mf.BitsPerSample == 32:
	case !mf.Float && (mf.BitsPerSample == 16 || mf.BitsPerSample == 24 || mf.BitsPerSample == 32):
	default:
		return mixFormat{}, fmt.Errorf("%w: %d-bit samples (float=%v)", ErrUnsupportedFormat, mf.BitsPerSample, mf.Float)
	}
	return mf, nil
}

// Output is the ring format the mix is converted to.
func (mf mixFormat) Output() Format {
	return Format{SampleRate: mf.SampleRate, Channels: mf.Channels, BitsPerSample: 16}
}

// frameBytes is the size of one source frame.
func (mf mixFormat) frameBytes() int {
	return mf.Channels * mf.BitsPerSample / 8
}

// toPCM16 converts frames of the mix format in src into 16-bit little-endian
// PCM appended to dst[:0]. Float samples are clamped to [-1, 1].
func (mf mixFormat) toPCM16(dst, src []byte) []byte {
	width := mf.BitsPerSample / 8
	n := len(src) / width
	if cap(dst) < n*2 {
		dst = make([]byte, n*2)
	}
	dst = dst[:n*2]

	for i := 0; i < n; i++ {
		b := src[i*width:]
		var v int16
		switch {
		case mf.Float:
			f := math.Float32frombits(binary.LittleEndian.Uint32(b))
			switch {
			case math.IsNaN(float64(f)):
				f = 0
			case f > 1:
				f = 1
			case f < -1:
				f = -1
			}
			v = int16(f * math.MaxInt16)
		case width == 2:
			v = int16(binary.LittleEndian.Uint16(b))
		case width == 3:
			v = int16(uint16(b[1]) | uint16(b[2])<<8)
		case width == 4:
			v = int16(binary.LittleEndian.Uint32(b) >> 16)
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
	return dst
}
