package mining

import (
	"math"
	"time"
	"unicode"
)

// denseScript covers the Hiragana, Katakana and CJK Unified Ideographs
// blocks. Whole blocks are used, so the prolonged sound mark and middle dot
// count as Katakana.
var denseScript = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x3040, Hi: 0x309F, Stride: 1},
		{Lo: 0x30A0, Hi: 0x30FF, Stride: 1},
		{Lo: 0x4E00, Hi: 0x9FFF, Stride: 1},
	},
}

// pauseRunes are the punctuation marks that lengthen an utterance.
var pauseRunes = map[rune]bool{
	'。': true,
	'、': true,
	'？': true,
	'！': true,
	'…': true,
	'　': true,
}

// CountDenseChars counts characters whose count tracks spoken syllables.
func CountDenseChars(text string) int {
	n := 0
	for _, r := range text {
		if unicode.Is(denseScript, r) {
			n++
		}
	}
	return n
}

// CountPauses counts pause punctuation.
func CountPauses(text string) int {
	n := 0
	for _, r := range text {
		if pauseRunes[r] {
			n++
		}
	}
	return n
}

// TimeoutParams tune the dynamic idle timeout, in seconds.
type TimeoutParams struct {
	Base     float64
	PerChar  float64
	PerPause float64
	Min      float64
}

// DefaultTimeoutParams returns base 0.75s, 0.25s per character, 0.5s per
// pause and a 2s floor.
func DefaultTimeoutParams() TimeoutParams {
	return TimeoutParams{Base: 0.75, PerChar: 0.25, PerPause: 0.50, Min: 2.0}
}

// Dynamic estimates how long the line takes to be spoken.
func (p TimeoutParams) Dynamic(text string) float64 {
	est := p.Base + float64(CountDenseChars(text))*p.PerChar + float64(CountPauses(text))*p.PerPause
	return math.Max(p.Min, est)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
