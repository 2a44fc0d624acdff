package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// waveFormatBytes builds a WAVEFORMATEX, or a WAVEFORMATEXTENSIBLE when sub
// is non-zero.
func waveFormatBytes(tag uint16, channels, rate, bits int, sub uint32) []byte {
	size := waveFormatExHeaderSize
	if tag == waveFormatExtensible {
		size = waveFormatExtSize
	}
	b := make([]byte, size)
	binary.LittleEndian.PutUint16(b[0:], tag)
	binary.LittleEndian.PutUint16(b[2:], uint16(channels))
	binary.LittleEndian.PutUint32(b[4:], uint32(rate))
	binary.LittleEndian.PutUint32(b[8:], uint32(rate*channels*bits/8))
	binary.LittleEndian.PutUint16(b[12:], uint16(channels*bits/8))
	binary.LittleEndian.PutUint16(b[14:], uint16(bits))
	if tag == waveFormatExtensible {
		binary.LittleEndian.PutUint16(b[16:], 22)
		binary.LittleEndian.PutUint16(b[18:], uint16(bits))
		binary.LittleEndian.PutUint32(b[20:], 0x3)
		binary.LittleEndian.PutUint32(b[24:], sub)
	}
	return b
}

func TestParseMixFormat(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    mixFormat
		wantErr bool
	}{
		{
			name: "extensible float",
			raw:  waveFormatBytes(waveFormatExtensible, 2, 48000, 32, waveFormatIEEEFloat),
			want: mixFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Float: true},
		},
		{
			name: "extensible pcm",
			raw:  waveFormatBytes(waveFormatExtensible, 2, 44100, 24, waveFormatPCMTag),
			want: mixFormat{SampleRate: 44100, Channels: 2, BitsPerSample: 24},
		},
		{
			name: "plain pcm",
			raw:  waveFormatBytes(waveFormatPCMTag, 1, 16000, 16, 0),
			want: mixFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
		},
		{
			name: "plain float",
			raw:  waveFormatBytes(waveFormatIEEEFloat, 2, 48000, 32, 0),
			want: mixFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Float: true},
		},
		{name: "short", raw: []byte{1, 0, 2}, wantErr: true},
		{name: "truncated extensible", raw: waveFormatBytes(waveFormatExtensible, 2, 48000, 32, 3)[:30], wantErr: true},
		{name: "unknown subformat", raw: waveFormatBytes(waveFormatExtensible, 2, 48000, 32, 0x92), wantErr: true},
		{name: "8-bit", raw: waveFormatBytes(waveFormatPCMTag, 1, 8000, 8, 0), wantErr: true},
		{name: "64-bit float", raw: waveFormatBytes(waveFormatIEEEFloat, 2, 48000, 64, 0), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMixFormat(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMixFormat: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMixFormatOutputIs16Bit(t *testing.T) {
	mf := mixFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Float: true}
	want := Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}
	if got := mf.Output(); got != want {
		t.Fatalf("Output() = %s, want %s", got, want)
	}
}

func samples16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestToPCM16Float(t *testing.T) {
	in := []float32{0, 0.5, -1, 2, -3, float32(math.NaN())}
	src := make([]byte, len(in)*4)
	for i, f := range in {
		binary.LittleEndian.PutUint32(src[i*4:], math.Float32bits(f))
	}
	mf := mixFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 32, Float: true}

	got := samples16(mf.toPCM16(nil, src))
	want := []int16{0, 16383, -32767, 32767, -32767, 0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestToPCM16Integer(t *testing.T) {
	tests := []struct {
		name string
		bits int
		src  []byte
		want []int16
	}{
		{name: "16-bit", bits: 16, src: []byte{0x34, 0x12, 0xFF, 0xFF}, want: []int16{0x1234, -1}},
		{name: "24-bit", bits: 24, src: []byte{0xAA, 0x34, 0x12, 0x00, 0x00, 0x80}, want: []int16{0x1234, -32768}},
		{name: "32-bit", bits: 32, src: []byte{0, 0, 0x34, 0x12, 0, 0, 0xFF, 0xFF}, want: []int16{0x1234, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf := mixFormat{SampleRate: 8000, Channels: 1, BitsPerSample: tt.bits}
			got := samples16(mf.toPCM16(nil, tt.src))
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("sample %d = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestToPCM16ReusesBuffer(t *testing.T) {
	mf := mixFormat{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	buf := make([]byte, 0, 64)
	out := mf.toPCM16(buf, []byte{1, 0, 2, 0})
	if len(out) != 4 || &out[0] != &buf[:1][0] {
		t.Fatalf("buffer not reused: len=%d", len(out))
	}
}

func TestDeviceDisplayNameMarksLoopback(t *testing.T) {
	out := Device{Name: "Speakers", HostAPI: "WASAPI", Loopback: true}
	in := Device{Name: "Mic", HostAPI: "WASAPI"}
	if got := out.DisplayName(); got != "Speakers (WASAPI) [output]" {
		t.Fatalf("output DisplayName = %q", got)
	}
	if got := in.DisplayName(); got != "Mic (WASAPI)" {
		t.Fatalf("input DisplayName = %q", got)
	}
}
