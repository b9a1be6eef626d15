package synth

import (
	"context"
	"math"
	"unicode"

	"github.com/lecternfm/lectern/internal/protocol"
)

const mockSampleRate = 24000

// MockEngine is a deterministic fallback engine used when no local model
// is available. It renders a quiet tone whose length tracks the word count
// of the input, so playback pacing and highlighting stay plausible.
type MockEngine struct {
	rate int
}

func NewMockEngine(observe LoadObserver) *MockEngine {
	observe.notify(LoadStatus{Stage: protocol.TypeModelLoadStart, Device: "cpu"})
	observe.notify(LoadStatus{Stage: protocol.TypeModelLoadReady})
	return &MockEngine{rate: mockSampleRate}
}

func (e *MockEngine) SampleRate() int { return e.rate }

func (e *MockEngine) Generate(ctx context.Context, text string, opts Options) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
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

	// ~170 wpm at speed 1.0.
	seconds := float64(words) / (170.0 / 60.0) / speed
	n := int(seconds * float64(e.rate))
	if n <= 0 {
		n = 1
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.05 * float32(math.Sin(2*math.Pi*220*float64(i)/float64(e.rate)))
	}
	return samples, nil
}

func (e *MockEngine) Close() error { return nil }
