package audio

import "fmt"

// Format describes interleaved integer PCM as delivered by the capture device.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BlockAlign is the size in bytes of one frame (one sample for every channel).
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerSecond is the average data rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BlockAlign()
}

// Valid reports whether the format can back a ring buffer.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.BitsPerSample > 0 && f.BitsPerSample%8 == 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}
