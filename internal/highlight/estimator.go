// Package highlight estimates which part of a chunk is being spoken at a
// given moment of playback. The estimate is linear over word count rather
// than phoneme timing; its only consumer is the UI highlight.
package highlight

import (
	"time"
	"unicode"
)

// WordBoundaries returns the cumulative character offset after each
// "word + trailing whitespace" token in text. Text with no recognizable
// words yields a single boundary at the full length, so per-word timing
// fractions never divide by zero.
func WordBoundaries(text string) []int {
	var boundaries []int
	i := 0
	for i < len(text) {
		for i < len(text) && isSpaceByte(text[i]) {
			i++
		}
		if i >= len(text) {
			break
		}
		for i < len(text) && !isSpaceByte(text[i]) {
			i++
		}
		for i < len(text) && isSpaceByte(text[i]) {
			i++
		}
		boundaries = append(boundaries, i)
	}
	if len(boundaries) == 0 {
		return []int{len(text)}
	}
	return boundaries
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// OffsetAt maps elapsed playback time within a chunk to an estimated
// character offset into that chunk. The fraction is clamped to [0, 1] and
// the word index to the last valid boundary.
func OffsetAt(boundaries []int, elapsed, duration time.Duration) int {
	if len(boundaries) == 0 {
		return 0
	}
	fraction := Fraction(elapsed, duration)
	idx := int(fraction * float64(len(boundaries)))
	if idx >= len(boundaries) {
		idx = len(boundaries) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return boundaries[idx]
}

// Fraction clamps elapsed/duration to [0, 1]. A non-positive duration is
// treated as already finished.
func Fraction(elapsed, duration time.Duration) float64 {
	if duration <= 0 {
		return 1
	}
	f := float64(elapsed) / float64(duration)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// EstimateDuration derives a speaking duration for text from a
// words-per-minute rate, used when the renderer cannot report a real
// duration for the audio.
func EstimateDuration(text string, wordsPerMinute int) time.Duration {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 170
	}
	words := 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	if words == 0 {
		words = 1
	}
	return time.Duration(float64(words) / float64(wordsPerMinute) * float64(time.Minute))
}
