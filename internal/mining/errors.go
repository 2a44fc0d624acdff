package mining

import "errors"

var (
	// ErrDeviceUnavailable means the audio endpoint could not be opened;
	// buffering does not start.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrUnexpectedCaptureStop means the device faulted or disappeared while
	// buffering; the orchestrator stops completely.
	ErrUnexpectedCaptureStop = errors.New("capture stopped unexpectedly")

	// ErrExportFailure covers anything that keeps a slot from reaching Anki.
	ErrExportFailure = errors.New("export failed")

	// ErrConfigurationIncomplete means a required export setting (the deck)
	// is missing. It is reported before any network I/O.
	ErrConfigurationIncomplete = errors.New("configuration incomplete")

	// ErrSlotNotFound is returned for an unknown slot id.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrClosed is returned once the run loop has exited.
	ErrClosed = errors.New("orchestrator closed")
)
