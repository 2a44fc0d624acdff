package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// ErrUnsupportedFormat is returned when PCM cannot be packaged as WAV.
var ErrUnsupportedFormat = errors.New("unsupported PCM format")

// EncodeWAV wraps interleaved little-endian PCM in a RIFF/WAVE container.
func EncodeWAV(format Format, pcm []byte) ([]byte, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	samples, err := pcmToInts(format.BitsPerSample, pcm)
	if err != nil {
		return nil, err
	}

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, format.SampleRate, format.BitsPerSample, format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           samples,
		SourceBitDepth: format.BitsPerSample,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.Bytes(), nil
}

func pcmToInts(bits int, pcm []byte) ([]int, error) {
	width := bits / 8
	n := len(pcm) / width
	samples := make([]int, n)
	switch bits {
	case 16:
		for i := 0; i < n; i++ {
			samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		}
	case 24:
		for i := 0; i < n; i++ {
			b := pcm[i*3:]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			samples[i] = int(v)
		}
	case 32:
		for i := 0; i < n; i++ {
			samples[i] = int(int32(binary.LittleEndian.Uint32(pcm[i*4:])))
		}
	default:
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, bits)
	}
	return samples, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch the RIFF and data chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		if end > cap(s.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(s.pos) + offset
	case io.SeekEnd:
		next = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position %d", next)
	}
	s.pos = int(next)
	return next, nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.buf
}
