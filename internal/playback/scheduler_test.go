package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/lecternfm/lectern/internal/observability"
	"github.com/lecternfm/lectern/internal/stream"
)

// fakeRenderer records played units; completion is immediate unless block
// is set, in which case the unit renders until halted.
type fakeRenderer struct {
	mu     sync.Mutex
	played []stream.AudioUnit
	halted int
	block  bool
	playCh chan struct{}
}

func (r *fakeRenderer) Play(unit stream.AudioUnit) (<-chan struct{}, func(), error) {
	r.mu.Lock()
	r.played = append(r.played, unit)
	r.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	if r.playCh != nil {
		r.playCh <- struct{}{}
	}
	if !r.block {
		finish()
	}
	halt := func() {
		r.mu.Lock()
		r.halted++
		r.mu.Unlock()
		finish()
	}
	return done, halt, nil
}

func (r *fakeRenderer) playedTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	texts := make([]string, len(r.played))
	for i, u := range r.played {
		texts[i] = u.SourceText
	}
	return texts
}

type progressLog struct {
	mu       sync.Mutex
	offsets  []int
	percents []int
}

func (l *progressLog) hooks() Hooks {
	return Hooks{
		OnOffset: func(off int) {
			l.mu.Lock()
			l.offsets = append(l.offsets, off)
			l.mu.Unlock()
		},
		OnProgress: func(_, _, percent int) {
			l.mu.Lock()
			l.percents = append(l.percents, percent)
			l.mu.Unlock()
		},
	}
}

func waitForProcessed(t *testing.T, s *Scheduler, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p, _ := s.Processed(); p == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	p, total := s.Processed()
	t.Fatalf("processed = %d/%d, want %d", p, total, want)
}

// waitForDepth polls the channel because the acknowledgment for an
// in-flight unit lands on the playback goroutine, not inside Stop.
func waitForDepth(t *testing.T, channel *stream.Channel, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if channel.Depth() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel depth = %d, want %d", channel.Depth(), want)
}

func TestSchedulerPlaysFIFOWithCappedProgress(t *testing.T) {
	renderer := &fakeRenderer{}
	channel := stream.NewChannel(6)
	log := &progressLog{}
	window := observability.NewStageWindow(16)
	s := NewScheduler(renderer, channel, DefaultTickInterval, 170, window, log.hooks())

	s.Reset(0)
	s.SetTotal(4)
	texts := []string{"aaaa ", "bbbb ", "cccc ", "dddd "}
	for _, text := range texts {
		channel.Publish()
		s.Enqueue(stream.AudioUnit{SourceText: text})
	}
	waitForProcessed(t, s, 4)

	got := renderer.playedTexts()
	for i, text := range texts {
		if got[i] != text {
			t.Fatalf("play order[%d] = %q, want %q", i, got[i], text)
		}
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	wantPercents := []int{25, 50, 75, 99}
	if len(log.percents) != len(wantPercents) {
		t.Fatalf("percents = %v, want %v", log.percents, wantPercents)
	}
	for i, want := range wantPercents {
		if log.percents[i] != want {
			t.Fatalf("percent[%d] = %d, want %d", i, log.percents[i], want)
		}
	}
	if last := log.offsets[len(log.offsets)-1]; last != 20 {
		t.Fatalf("final offset = %d, want 20", last)
	}
	if d := channel.Depth(); d != 0 {
		t.Fatalf("channel depth = %d, want 0", d)
	}

	var unitSamples int
	for _, st := range window.Snapshot().Stages {
		if st.Stage == observability.StageUnitPlayback {
			unitSamples = st.Samples
		}
	}
	if unitSamples != 4 {
		t.Fatalf("unit_playback samples = %d, want 4", unitSamples)
	}
}

func TestSchedulerStopClearsPendingAndAcks(t *testing.T) {
	renderer := &fakeRenderer{block: true, playCh: make(chan struct{}, 8)}
	channel := stream.NewChannel(6)
	s := NewScheduler(renderer, channel, DefaultTickInterval, 170, nil, Hooks{})

	s.Reset(0)
	s.SetTotal(3)
	for _, text := range []string{"one ", "two ", "three "} {
		channel.Publish()
		s.Enqueue(stream.AudioUnit{SourceText: text})
	}

	select {
	case <-renderer.playCh:
	case <-time.After(5 * time.Second):
		t.Fatal("first unit never started rendering")
	}
	time.Sleep(20 * time.Millisecond)

	s.Stop()

	waitForDepth(t, channel, 0)
	renderer.mu.Lock()
	halted := renderer.halted
	renderer.mu.Unlock()
	if halted != 1 {
		t.Fatalf("halted = %d, want 1", halted)
	}
	if p, _ := s.Processed(); p != 0 {
		t.Fatalf("processed after stop = %d, want 0", p)
	}

	// The loop must exit without touching the cleared queue.
	time.Sleep(50 * time.Millisecond)
	if got := len(renderer.playedTexts()); got != 1 {
		t.Fatalf("units rendered = %d, want 1", got)
	}
}

// latchRenderer blocks inside Play until released, modeling a device
// whose open call takes long enough for a stop to land mid-handoff.
type latchRenderer struct {
	entered chan struct{}
	release chan struct{}
}

func (r *latchRenderer) Play(unit stream.AudioUnit) (<-chan struct{}, func(), error) {
	r.entered <- struct{}{}
	<-r.release
	done := make(chan struct{})
	close(done)
	return done, func() {}, nil
}

func TestSchedulerStopWhileRendererStartingStillAcks(t *testing.T) {
	renderer := &latchRenderer{entered: make(chan struct{}), release: make(chan struct{})}
	channel := stream.NewChannel(6)
	s := NewScheduler(renderer, channel, DefaultTickInterval, 170, nil, Hooks{})

	s.Reset(0)
	s.SetTotal(1)
	channel.Publish()
	s.Enqueue(stream.AudioUnit{SourceText: "hello "})

	// The unit is popped and sitting inside Play, so Stop cannot see it
	// in the pending queue and no halt func is registered yet.
	select {
	case <-renderer.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("renderer never entered Play")
	}
	s.Stop()
	close(renderer.release)

	// The playback goroutine must still acknowledge the unit or the
	// producer would eventually stall at capacity.
	waitForDepth(t, channel, 0)
	if p, _ := s.Processed(); p != 0 {
		t.Fatalf("processed after stop = %d, want 0", p)
	}
}

func TestSchedulerEmitsHighlightTicks(t *testing.T) {
	log := &progressLog{}
	channel := stream.NewChannel(6)
	s := NewScheduler(TimedRenderer{}, channel, 20*time.Millisecond, 170, nil, log.hooks())

	s.Reset(0)
	s.SetTotal(1)
	text := "one two three four"
	channel.Publish()
	// 200ms of real audio so several ticks land mid-unit.
	s.Enqueue(stream.AudioUnit{
		Samples:    make([]float32, 4800),
		SampleRate: 24000,
		SourceText: text,
	})
	waitForProcessed(t, s, 1)

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.offsets) < 3 {
		t.Fatalf("offset emissions = %d, want several ticks", len(log.offsets))
	}
	for i := 1; i < len(log.offsets); i++ {
		if log.offsets[i] < log.offsets[i-1] {
			t.Fatalf("offsets regressed: %v", log.offsets)
		}
	}
	if last := log.offsets[len(log.offsets)-1]; last != len(text) {
		t.Fatalf("final offset = %d, want %d", last, len(text))
	}
}

func TestCappedPercent(t *testing.T) {
	cases := []struct {
		processed, total, want int
	}{
		{0, 0, 0},
		{0, 4, 0},
		{1, 4, 25},
		{2, 3, 67},
		{3, 4, 75},
		{4, 4, 99},
		{9, 5, 99},
	}
	for _, tc := range cases {
		if got := CappedPercent(tc.processed, tc.total); got != tc.want {
			t.Fatalf("CappedPercent(%d, %d) = %d, want %d", tc.processed, tc.total, got, tc.want)
		}
	}
}
