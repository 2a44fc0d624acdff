//go:build cgo && !windows

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// portAudioCapturer captures from PortAudio input endpoints (microphones,
// "Stereo Mix", virtual loopback cables) as 16-bit PCM.
type portAudioCapturer struct {
	initOnce sync.Once
	initErr  error
	closed   atomic.Bool
}

// NewCapturer returns the PortAudio capture backend.
func NewCapturer() Capturer {
	return &portAudioCapturer{}
}

func (c *portAudioCapturer) init() error {
	c.initOnce.Do(func() {
		c.initErr = portaudio.Initialize()
	})
	return c.initErr
}

func (c *portAudioCapturer) Devices() ([]Device, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = deviceID(def)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		d := Device{
			ID:         deviceID(info),
			Name:       info.Name,
			Channels:   info.MaxInputChannels,
			SampleRate: info.DefaultSampleRate,
		}
		if info.HostApi != nil {
			d.HostAPI = info.HostApi.Name
		}
		d.Default = d.ID == defaultName
		devices = append(devices, d)
	}
	return devices, nil
}

func (c *portAudioCapturer) Open(id string) (Stream, Format, error) {
	if err := c.init(); err != nil {
		return nil, Format{}, fmt.Errorf("%w: portaudio init: %v", ErrDeviceUnavailable, err)
	}

	info, err := c.lookup(id)
	if err != nil {
		return nil, Format{}, err
	}

	channels := info.MaxInputChannels
	if channels > 2 {
		channels = 2
	}
	format := Format{
		SampleRate:    int(info.DefaultSampleRate),
		Channels:      channels,
		BitsPerSample: 16,
	}
	frames := format.SampleRate / 50 // 20ms per read

	in := make([]int16, frames*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultHighInputLatency,
		},
		SampleRate:      info.DefaultSampleRate,
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, in)
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: open %q: %v", ErrDeviceUnavailable, info.Name, err)
	}

	log.Info("capture stream opened",
		"device", info.Name,
		"format", format.String(),
	)

	return &portAudioStream{
		stream:  stream,
		in:      in,
		scratch: make([]byte, len(in)*2),
		done:    make(chan struct{}),
	}, format, nil
}

func (c *portAudioCapturer) lookup(id string) (*portaudio.DeviceInfo, error) {
	if id == "" {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input: %v", ErrDeviceUnavailable, err)
		}
		return info, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrDeviceUnavailable, err)
	}
	for _, info := range infos {
		if deviceID(info) == id && info.MaxInputChannels > 0 {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %q not found", ErrDeviceUnavailable, id)
}

func (c *portAudioCapturer) Close() error {
	if c.closed.Swap(true) || c.init() != nil {
		return nil
	}
	return portaudio.Terminate()
}

// deviceID is stable across runs as long as the endpoint keeps its name.
func deviceID(info *portaudio.DeviceInfo) string {
	if info.HostApi != nil {
		return info.HostApi.Name + "/" + info.Name
	}
	return info.Name
}

type portAudioStream struct {
	stream   *portaudio.Stream
	in       []int16
	scratch  []byte
	stopping atomic.Bool
	started  bool
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

func (s *portAudioStream) Start(onData func([]byte), onStopped func(error)) error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
	}
	s.started = true

	go func() {
		defer close(s.done)
		var cause error
		for !s.stopping.Load() {
			if err := s.stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					continue
				}
				cause = err
				break
			}
			for i, v := range s.in {
				binary.LittleEndian.PutUint16(s.scratch[i*2:], uint16(v))
			}
			onData(s.scratch)
		}
		if s.stopping.Load() {
			cause = nil
		}
		onStopped(cause)
	}()
	return nil
}

func (s *portAudioStream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		if s.started {
			<-s.done
			if err := s.stream.Stop(); err != nil {
				s.stopErr = err
			}
		}
		if err := s.stream.Close(); err != nil && s.stopErr == nil {
			s.stopErr = err
		}
	})
	return s.stopErr
}
