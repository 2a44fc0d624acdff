package audio

import (
	"errors"
	"fmt"
)

// Device is a capture endpoint the user can pick.
type Device struct {
	ID         string
	Name       string
	HostAPI    string
	Channels   int
	SampleRate float64
	Default    bool
	// Loopback marks an output endpoint captured in loopback mode, i.e.
	// what the machine is playing rather than a microphone.
	Loopback bool
}

// DisplayName is the label shown in device listings.
func (d Device) DisplayName() string {
	name := d.Name
	if d.HostAPI != "" {
		name = fmt.Sprintf("%s (%s)", d.Name, d.HostAPI)
	}
	if d.Loopback {
		return name + " [output]"
	}
	return name
}

// Capturer opens capture streams on a platform audio backend.
type Capturer interface {
	// Devices lists endpoints that can be captured from.
	Devices() ([]Device, error)
	// Open prepares a stream on deviceID and reports the PCM format it
	// will deliver. "" picks the backend default: the default output
	// endpoint where loopback is supported, the default input otherwise.
	Open(deviceID string) (Stream, Format, error)
	// Close releases the backend.
	Close() error
}

// Stream is one open capture session.
type Stream interface {
	// Start begins delivering PCM to onData from the backend's own
	// goroutine. onStopped is called exactly once when delivery ends, with
	// nil after Stop and the cause otherwise.
	Start(onData func([]byte), onStopped func(error)) error
	// Stop halts capture and releases the device. It returns only after
	// the delivery goroutine has exited. Safe to call more than once.
	Stop() error
}

var (
	// ErrNotSupported is returned when no capture backend is compiled in.
	ErrNotSupported = errors.New("audio capture not supported in this build")

	// ErrDeviceUnavailable is returned when the endpoint cannot be opened.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrDeviceLost is reported when a running stream dies without a cause.
	ErrDeviceLost = errors.New("audio device disconnected")
)
