package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	f := Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}
	want := []int16{0, 1, -1, 32767, -32768, 1234, -4321, 42}
	pcm := make([]byte, len(want)*2)
	for i, v := range want {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	clip, err := EncodeWAV(f, pcm)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if string(clip[0:4]) != "RIFF" || string(clip[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", clip[:12])
	}
	if got := binary.LittleEndian.Uint32(clip[4:8]); int(got) != len(clip)-8 {
		t.Fatalf("RIFF size = %d, want %d", got, len(clip)-8)
	}

	d := wav.NewDecoder(bytes.NewReader(clip))
	if !d.IsValidFile() {
		t.Fatal("decoder rejected the clip")
	}
	if int(d.SampleRate) != f.SampleRate || int(d.NumChans) != f.Channels || int(d.BitDepth) != f.BitsPerSample {
		t.Fatalf("header = %dHz/%dch/%dbit, want %s", d.SampleRate, d.NumChans, d.BitDepth, f)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if len(buf.Data) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(want))
	}
	for i, v := range want {
		if buf.Data[i] != int(v) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], v)
		}
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	clip, err := EncodeWAV(Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}, nil)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(clip) < 44 {
		t.Fatalf("clip length = %d, want at least a 44-byte header", len(clip))
	}
}

func TestEncodeWAVRejectsBadFormat(t *testing.T) {
	tests := []Format{
		{},
		{SampleRate: 8000, Channels: 1, BitsPerSample: 12},
		{SampleRate: 8000, Channels: 1, BitsPerSample: 8},
	}
	for _, f := range tests {
		if _, err := EncodeWAV(f, []byte{1, 2, 3, 4}); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("EncodeWAV(%s) error = %v, want ErrUnsupportedFormat", f, err)
		}
	}
}

func TestPCMToInts24(t *testing.T) {
	pcm := []byte{0xFF, 0xFF, 0xFF, 0x01, 0x00, 0x00}
	got, err := pcmToInts(24, pcm)
	if err != nil {
		t.Fatalf("pcmToInts: %v", err)
	}
	if len(got) != 2 || got[0] != -1 || got[1] != 1 {
		t.Fatalf("pcmToInts(24) = %v, want [-1 1]", got)
	}
}

func TestSeekBufferPatch(t *testing.T) {
	var s seekBuffer
	s.Write([]byte("hello world"))
	if _, err := s.Seek(0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	s.Write([]byte("J"))
	if got := string(s.Bytes()); got != "Jello world" {
		t.Fatalf("Bytes() = %q", got)
	}
	if _, err := s.Seek(-100, 1); err == nil {
		t.Fatal("negative seek should fail")
	}
}
