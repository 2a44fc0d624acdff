// Package media converts captured WAV clips to a compressed format before
// they are sent to Anki.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/vnminer/agent/internal/logging"
)

var log = logging.L("media")

const defaultTimeout = 30 * time.Second

// Converter compresses a WAV clip. On any failure it returns the input
// unchanged so the caller can still export the original audio.
type Converter interface {
	ToCompressed(wav []byte, bitrateKbps int) []byte
}

// runner executes a filter process feeding stdin and returning stdout.
type runner func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// FFmpegConverter pipes clips through an ffmpeg binary to MP3.
type FFmpegConverter struct {
	Path    string
	Timeout time.Duration
	run     runner
}

// NewFFmpegConverter uses path, or "ffmpeg" from PATH when empty.
func NewFFmpegConverter(path string) *FFmpegConverter {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegConverter{Path: path, Timeout: defaultTimeout, run: runProcess}
}

// Available reports whether the ffmpeg binary can be found.
func (f *FFmpegConverter) Available() bool {
	_, err := exec.LookPath(f.Path)
	return err == nil
}

// IsMP3 reports whether data starts like an MP3 stream (ID3 tag or frame
// sync).
func IsMP3(data []byte) bool {
	if len(data) >= 3 && string(data[:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func (f *FFmpegConverter) ToCompressed(wav []byte, bitrateKbps int) []byte {
	if len(wav) == 0 || bitrateKbps <= 0 {
		return wav
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", strconv.Itoa(bitrateKbps) + "k",
		"-f", "mp3", "pipe:1",
	}

	start := time.Now()
	out, err := f.run(ctx, f.Path, args, wav)
	if err != nil {
		log.Warn("mp3 conversion failed, keeping wav", logging.KeyError, err)
		return wav
	}
	if !IsMP3(out) {
		log.Warn("mp3 conversion produced no audio, keeping wav", "bytes", len(out))
		return wav
	}
	log.Debug("clip converted to mp3",
		"wavBytes", len(wav),
		"mp3Bytes", len(out),
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return out
}

func runProcess(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

// Passthrough is a Converter that never converts.
type Passthrough struct{}

func (Passthrough) ToCompressed(wav []byte, _ int) []byte { return wav }
