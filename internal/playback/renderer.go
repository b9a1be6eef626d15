package playback

import (
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/lecternfm/lectern/internal/stream"
)

// Renderer begins rendering one audio unit and reports natural completion
// on done. halt stops the render immediately; it must be safe to call
// after done fires.
type Renderer interface {
	Play(unit stream.AudioUnit) (done <-chan struct{}, halt func(), err error)
}

// SpeakerRenderer plays units through the system output device via beep.
// The speaker mixer is a process-wide singleton; Init pins its sample rate.
type SpeakerRenderer struct {
	rate beep.SampleRate
}

func NewSpeakerRenderer(sampleRate int) (*SpeakerRenderer, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, err
	}
	return &SpeakerRenderer{rate: sr}, nil
}

func (r *SpeakerRenderer) Play(unit stream.AudioUnit) (<-chan struct{}, func(), error) {
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	s := &monoStreamer{samples: unit.Samples}
	speaker.Play(beep.Seq(s, beep.Callback(finish)))

	halt := func() {
		speaker.Clear()
		finish()
	}
	return done, halt, nil
}

// monoStreamer streams mono float32 samples to both output channels.
type monoStreamer struct {
	samples []float32
	pos     int
}

func (m *monoStreamer) Stream(samples [][2]float64) (int, bool) {
	if m.pos >= len(m.samples) {
		return 0, false
	}
	n := 0
	for i := range samples {
		if m.pos >= len(m.samples) {
			break
		}
		v := float64(m.samples[m.pos])
		samples[i][0] = v
		samples[i][1] = v
		m.pos++
		n++
	}
	return n, true
}

func (m *monoStreamer) Err() error { return nil }

// TimedRenderer renders nothing audible and completes after the unit's
// real duration. Used when no output device is configured, so pacing,
// backpressure, and highlighting behave as they would with a speaker.
type TimedRenderer struct{}

func (TimedRenderer) Play(unit stream.AudioUnit) (<-chan struct{}, func(), error) {
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	timer := time.AfterFunc(unit.Duration(), finish)
	halt := func() {
		timer.Stop()
		finish()
	}
	return done, halt, nil
}
