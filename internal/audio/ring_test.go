package audio

import (
	"bytes"
	"testing"
)

// byteFormat gives one byte per frame so offsets read directly as bytes.
var byteFormat = Format{SampleRate: 10, Channels: 1, BitsPerSample: 8}

func writeEach(r *Ring, s string) {
	for i := 0; i < len(s); i++ {
		r.Write([]byte{s[i]})
	}
}

func TestRingWrapTrace(t *testing.T) {
	r := NewRing(byteFormat, 1)
	if r.Cap() != 10 {
		t.Fatalf("Cap() = %d, want 10", r.Cap())
	}
	r.Arm()
	writeEach(r, "AAAABBBBCCCC")

	if !bytes.Equal(r.buf, []byte("CCAABBBBCC")) {
		t.Fatalf("buffer = %q, want %q", r.buf, "CCAABBBBCC")
	}
	if r.pos != 2 {
		t.Fatalf("pos = %d, want 2", r.pos)
	}

	got, ok := r.WindowBytes(10, 0)
	if !ok {
		t.Fatal("full window should succeed")
	}
	if string(got) != "AABBBBCCCC" {
		t.Fatalf("window = %q, want %q", got, "AABBBBCCCC")
	}
}

func TestRingWindowSpans(t *testing.T) {
	r := NewRing(byteFormat, 1)
	r.Arm()
	writeEach(r, "0123456789abcdef") // cursor at 6, buffer holds 6..f

	tests := []struct {
		name       string
		start, end int
		want       string
		ok         bool
	}{
		{"most recent", 3, 0, "def", true},
		{"across wrap", 8, 2, "89abcd", true},
		{"contiguous", 4, 1, "cde", true},
		{"whole ring", 10, 0, "6789abcdef", true},
		{"empty", 3, 3, "", false},
		{"inverted", 2, 5, "", false},
		{"too long", 11, 0, "", false},
		{"negative end clamps", 2, -4, "ef", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.WindowBytes(tt.start, tt.end)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && string(got) != tt.want {
				t.Fatalf("window = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRingMatchesLinearHistory(t *testing.T) {
	r := NewRing(byteFormat, 1)
	r.Arm()
	var history []byte
	chunks := [][]byte{
		[]byte("abc"), []byte("defgh"), []byte("i"), []byte("jklmnop"),
		[]byte("qr"), []byte("stuvwxyz01"), []byte("234"),
	}
	for _, c := range chunks {
		r.Write(c)
		history = append(history, c...)
		for start := 1; start <= r.Cap() && start <= len(history); start++ {
			for end := 0; end < start; end++ {
				got, ok := r.WindowBytes(start, end)
				if !ok {
					t.Fatalf("WindowBytes(%d, %d) failed", start, end)
				}
				want := history[len(history)-start : len(history)-end]
				if !bytes.Equal(got, want) {
					t.Fatalf("WindowBytes(%d, %d) = %q, want %q", start, end, got, want)
				}
			}
		}
	}
}

func TestRingOversizedChunk(t *testing.T) {
	r := NewRing(byteFormat, 1)
	r.Arm()
	r.Write([]byte("xy"))
	r.Write([]byte("ABCDEFGHIJKLMNO")) // 15 bytes into a 10-byte ring

	got, ok := r.WindowBytes(10, 0)
	if !ok {
		t.Fatal("window should succeed")
	}
	if string(got) != "FGHIJKLMNO" {
		t.Fatalf("window = %q, want last 10 bytes of the chunk", got)
	}
	if r.Written() != 17 {
		t.Fatalf("Written() = %d, want 17", r.Written())
	}
}

func TestRingGenerationDropsLateWrites(t *testing.T) {
	r := NewRing(byteFormat, 1)
	old := r.Arm()
	if !r.WriteGen(old, []byte("abc")) {
		t.Fatal("write in current generation should be accepted")
	}

	r.Disarm()
	if r.WriteGen(old, []byte("zzz")) {
		t.Fatal("write after Disarm should be dropped")
	}

	cur := r.Arm()
	if r.WriteGen(old, []byte("zzz")) {
		t.Fatal("write from a previous generation should be dropped")
	}
	if !r.WriteGen(cur, []byte("de")) {
		t.Fatal("write in new generation should be accepted")
	}
	got, _ := r.WindowBytes(2, 0)
	if string(got) != "de" {
		t.Fatalf("window = %q, want %q", got, "de")
	}
	if r.Written() != 2 {
		t.Fatalf("Written() = %d, want 2 after re-arm", r.Written())
	}
}

func TestRingWindowSecondsAligned(t *testing.T) {
	f := Format{SampleRate: 1000, Channels: 2, BitsPerSample: 16} // 4000 B/s, 4-byte frames
	r := NewRing(f, 2)
	if r.Cap() != 8000 {
		t.Fatalf("Cap() = %d, want 8000", r.Cap())
	}
	r.Arm()
	pcm := make([]byte, 8000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	r.Write(pcm)

	got, ok := r.Window(0.50025, 0.25)
	if !ok {
		t.Fatal("Window should succeed")
	}
	if len(got)%f.BlockAlign() != 0 {
		t.Fatalf("window length %d not frame aligned", len(got))
	}
	if len(got) != 1000 {
		t.Fatalf("window length = %d, want 1000", len(got))
	}

	if _, ok := r.Window(2.5, 0); ok {
		t.Fatal("window longer than the ring should fail")
	}
	if _, ok := r.Window(1, 1); ok {
		t.Fatal("empty window should fail")
	}
	if _, ok := r.Window(1e18, 0); ok {
		t.Fatal("absurd window should fail")
	}
}

func TestNewRingAlignsCapacity(t *testing.T) {
	f := Format{SampleRate: 3, Channels: 2, BitsPerSample: 24} // 6-byte frames
	r := NewRing(f, 5)
	if r.Cap()%f.BlockAlign() != 0 {
		t.Fatalf("Cap() = %d not a multiple of %d", r.Cap(), f.BlockAlign())
	}
}
