//go:build !cgo && !windows

package audio

// stubCapturer is used when the module is built without cgo, where the
// PortAudio backend is unavailable.
type stubCapturer struct{}

// NewCapturer returns a backend that reports ErrNotSupported.
func NewCapturer() Capturer {
	return stubCapturer{}
}

func (stubCapturer) Devices() ([]Device, error) {
	return nil, ErrNotSupported
}

func (stubCapturer) Open(string) (Stream, Format, error) {
	return nil, Format{}, ErrNotSupported
}

func (stubCapturer) Close() error {
	return nil
}
