package media

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestToCompressed(t *testing.T) {
	wav := []byte("RIFF....WAVEfmt ")
	mp3 := []byte{0xFF, 0xFB, 0x90, 0x64, 0x00}

	var gotArgs []string
	var gotStdin []byte
	f := NewFFmpegConverter("/opt/ffmpeg")
	f.run = func(_ context.Context, name string, args []string, stdin []byte) ([]byte, error) {
		if name != "/opt/ffmpeg" {
			t.Fatalf("ran %q", name)
		}
		gotArgs = args
		gotStdin = stdin
		return mp3, nil
	}

	out := f.ToCompressed(wav, 128)
	if string(out) != string(mp3) {
		t.Fatalf("ToCompressed returned %v, want mp3 bytes", out)
	}
	if string(gotStdin) != string(wav) {
		t.Fatal("wav was not piped to stdin")
	}
	if !strings.Contains(strings.Join(gotArgs, " "), "-b:a 128k") {
		t.Fatalf("args %v missing bitrate", gotArgs)
	}
}

func TestToCompressedFallsBack(t *testing.T) {
	wav := []byte("RIFF....WAVEfmt ")
	tests := []struct {
		name    string
		bitrate int
		out     []byte
		err     error
	}{
		{"process error", 128, nil, errors.New("exit status 1")},
		{"not mp3", 128, []byte("garbage"), nil},
		{"empty output", 128, nil, nil},
		{"bitrate disabled", 0, []byte("ID3"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFFmpegConverter("")
			f.run = func(context.Context, string, []string, []byte) ([]byte, error) {
				return tt.out, tt.err
			}
			if got := f.ToCompressed(wav, tt.bitrate); string(got) != string(wav) {
				t.Fatalf("ToCompressed = %q, want original wav", got)
			}
		})
	}
}

func TestToCompressedMissingBinary(t *testing.T) {
	f := NewFFmpegConverter("/nonexistent/ffmpeg-binary")
	if f.Available() {
		t.Fatal("Available() = true for missing binary")
	}
	wav := []byte("RIFFdata")
	if got := f.ToCompressed(wav, 128); string(got) != string(wav) {
		t.Fatal("missing binary should keep the wav")
	}
}

func TestIsMP3(t *testing.T) {
	tests := []struct {
		in   []byte
		want bool
	}{
		{[]byte("ID3\x04"), true},
		{[]byte{0xFF, 0xFB}, true},
		{[]byte{0xFF, 0x00}, false},
		{[]byte("RIFF"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsMP3(tt.in); got != tt.want {
			t.Errorf("IsMP3(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPassthrough(t *testing.T) {
	in := []byte("x")
	if got := (Passthrough{}).ToCompressed(in, 320); &got[0] != &in[0] {
		t.Fatal("Passthrough should return its input")
	}
}
