package playback

import (
	"math"
	"sync"
	"time"

	"github.com/lecternfm/lectern/internal/highlight"
	"github.com/lecternfm/lectern/internal/observability"
	"github.com/lecternfm/lectern/internal/stream"
)

// DefaultTickInterval paces the highlight tick near a display refresh.
const DefaultTickInterval = 50 * time.Millisecond

// Hooks receive playback observations. Either hook may be nil. Hooks are
// called from the playback goroutine and must not block.
type Hooks struct {
	// OnOffset reports the estimated character offset currently being
	// spoken, absolute within the session's source text.
	OnOffset func(charOffset int)
	// OnProgress reports chunk accounting after each unit finishes.
	// percent is capped at 99 until the controller sees the worker's
	// explicit complete message.
	OnProgress func(processed, total, percent int)
}

// Scheduler drains an ordered queue of audio units strictly FIFO through a
// single playback loop, emitting highlight ticks and progress accounting.
// Starting while a loop is already running is a no-op.
type Scheduler struct {
	renderer Renderer
	channel  *stream.Channel
	tick     time.Duration
	wpm      int
	window   *observability.StageWindow
	hooks    Hooks

	mu         sync.Mutex
	gen        uint64
	pending    []stream.AudioUnit
	playing    bool
	halt       func()
	charOffset int
	processed  int
	total      int
}

func NewScheduler(renderer Renderer, channel *stream.Channel, tick time.Duration, wordsPerMinute int, window *observability.StageWindow, hooks Hooks) *Scheduler {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Scheduler{
		renderer: renderer,
		channel:  channel,
		tick:     tick,
		wpm:      wordsPerMinute,
		window:   window,
		hooks:    hooks,
	}
}

// Reset prepares the scheduler for a new session starting at the given
// absolute character offset. The previous session must be stopped first.
func (s *Scheduler) Reset(baseCharOffset int) {
	s.mu.Lock()
	s.charOffset = baseCharOffset
	s.processed = 0
	s.total = 0
	s.mu.Unlock()
}

// SetTotal records the session's expected chunk count.
func (s *Scheduler) SetTotal(total int) {
	s.mu.Lock()
	s.total = total
	s.mu.Unlock()
}

// Processed reports how many units have finished against the expected
// total.
func (s *Scheduler) Processed() (processed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.total
}

// Enqueue appends a unit and starts the playback loop if it is not
// already running.
func (s *Scheduler) Enqueue(unit stream.AudioUnit) {
	s.mu.Lock()
	s.pending = append(s.pending, unit)
	if s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = true
	gen := s.gen
	s.mu.Unlock()
	go s.loop(gen)
}

// Stop halts the active render immediately, cancels the highlight tick,
// and clears the pending queue. Cleared units are acknowledged here; a
// unit already popped by the loop is acknowledged by the playback
// goroutine on its way out, so depth accounting balances on every path.
// Safe to call when nothing is playing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.gen++
	halt := s.halt
	s.halt = nil
	cleared := len(s.pending)
	s.pending = nil
	s.playing = false
	s.mu.Unlock()

	if halt != nil {
		halt()
	}
	for i := 0; i < cleared; i++ {
		s.ack()
	}
}

func (s *Scheduler) loop(gen uint64) {
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			s.playing = false
			s.mu.Unlock()
			return
		}
		unit := s.pending[0]
		s.pending = s.pending[1:]
		startOffset := s.charOffset
		s.mu.Unlock()

		if !s.playUnit(gen, unit, startOffset) {
			return
		}
	}
}

// playUnit renders one unit to its natural end while driving the highlight
// tick. Returns false when the session was stopped underneath it.
func (s *Scheduler) playUnit(gen uint64, unit stream.AudioUnit, startOffset int) bool {
	boundaries := highlight.WordBoundaries(unit.SourceText)
	duration := unit.Duration()
	if duration <= 0 {
		duration = highlight.EstimateDuration(unit.SourceText, s.wpm)
	}

	done, halt, err := s.renderer.Play(unit)
	if err != nil {
		// Skip an unrenderable unit but keep accounting moving.
		s.finishUnit(gen, unit, startOffset)
		return !s.stale(gen)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Stopped before the halt func was registered; this unit is
		// invisible to Stop, so retire and acknowledge it here.
		s.mu.Unlock()
		halt()
		s.ack()
		return false
	}
	s.halt = halt
	s.mu.Unlock()

	started := time.Now()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	tickC := ticker.C

	for {
		select {
		case <-done:
			if s.stale(gen) {
				s.ack()
				return false
			}
			s.mu.Lock()
			s.halt = nil
			s.mu.Unlock()
			s.window.Observe(observability.StageUnitPlayback, float64(time.Since(started).Milliseconds()))
			s.finishUnit(gen, unit, startOffset)
			return true
		case <-tickC:
			if s.stale(gen) {
				s.ack()
				return false
			}
			elapsed := time.Since(started)
			s.emitOffset(startOffset + highlight.OffsetAt(boundaries, elapsed, duration))
			if highlight.Fraction(elapsed, duration) >= 1 {
				// Past the estimate: stop ticking, wait for the render.
				ticker.Stop()
				tickC = nil
			}
		}
	}
}

// finishUnit snaps the offset to the chunk end and advances accounting.
// The unit is acknowledged whether or not the session is still current;
// once popped it is owed exactly one Consumed.
func (s *Scheduler) finishUnit(gen uint64, unit stream.AudioUnit, startOffset int) {
	defer s.ack()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.charOffset = startOffset + len(unit.SourceText)
	s.processed++
	processed, total := s.processed, s.total
	s.mu.Unlock()

	s.emitOffset(startOffset + len(unit.SourceText))
	if s.hooks.OnProgress != nil {
		s.hooks.OnProgress(processed, total, CappedPercent(processed, total))
	}
}

func (s *Scheduler) ack() {
	if s.channel != nil {
		s.channel.Consumed()
	}
}

func (s *Scheduler) emitOffset(offset int) {
	if s.hooks.OnOffset != nil {
		s.hooks.OnOffset(offset)
	}
}

func (s *Scheduler) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// CappedPercent reports streaming progress, held below 100 until an
// explicit complete message arrives so a final in-flight chunk is never
// claimed done early.
func CappedPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(processed) / float64(total) * 100))
	if p > 99 {
		p = 99
	}
	return p
}
