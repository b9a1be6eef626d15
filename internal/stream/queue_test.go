package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lecternfm/lectern/internal/synth"
)

// scriptedEngine records the texts it voices and can block mid-generation.
type scriptedEngine struct {
	mu      sync.Mutex
	texts   []string
	failOn  string
	started chan string
	release chan struct{}
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{}
}

func (e *scriptedEngine) Generate(ctx context.Context, text string, opts synth.Options) ([]float32, error) {
	if e.started != nil {
		e.started <- text
		<-e.release
	}
	e.mu.Lock()
	e.texts = append(e.texts, text)
	fail := e.failOn != "" && text == e.failOn
	e.mu.Unlock()
	if fail {
		return nil, errors.New("synthesis blew up")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *scriptedEngine) SampleRate() int { return 24000 }
func (e *scriptedEngine) Close() error    { return nil }

func (e *scriptedEngine) voiced() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

func collectEvents(t *testing.T, task *Task, ack func()) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-task.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Type == EventAudio && ack != nil {
				ack()
			}
		case <-timeout:
			t.Fatalf("timed out draining events, have %d", len(events))
		}
	}
}

func TestTaskEmitsOrderedEventsWithOneTerminal(t *testing.T) {
	engine := newScriptedEngine()
	channel := NewChannel(MaxQueueSize)
	q := NewTaskQueue(engine, channel, 20)
	defer q.Close()

	task := q.Submit(Request{Text: "One two three. Four five six. Seven eight nine."})
	events := collectEvents(t, task, q.AcknowledgeConsumed)

	if len(events) < 3 {
		t.Fatalf("got %d events, want chunk_count + audio + complete", len(events))
	}
	if events[0].Type != EventChunkCount {
		t.Fatalf("first event = %s, want chunk_count", events[0].Type)
	}
	audio := 0
	terminals := 0
	for _, ev := range events[1:] {
		switch ev.Type {
		case EventAudio:
			if ev.Seq != audio {
				t.Fatalf("audio seq = %d, want %d", ev.Seq, audio)
			}
			if len(ev.Unit.Samples) == 0 {
				t.Fatal("audio unit has no samples")
			}
			audio++
		case EventComplete:
			terminals++
			if ev.Cancelled {
				t.Fatal("uncancelled task reported cancelled")
			}
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}
	if audio != events[0].Count {
		t.Fatalf("audio events = %d, want %d", audio, events[0].Count)
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", terminals)
	}
	if d := channel.Depth(); d != 0 {
		t.Fatalf("channel depth after drain = %d, want 0", d)
	}
}

func TestBackpressureBlocksProducerUntilConsumed(t *testing.T) {
	engine := newScriptedEngine()
	channel := NewChannel(2)
	q := NewTaskQueue(engine, channel, 10)
	defer q.Close()

	// Several short chunks against capacity 2; do not acknowledge anything yet.
	task := q.Submit(Request{Text: "alpha one. beta two. gamma three. delta four."})

	deadline := time.After(5 * time.Second)
	published := 0
	for published < 2 {
		select {
		case ev := <-task.Events():
			if ev.Type == EventAudio {
				published++
			}
		case <-deadline:
			t.Fatal("timed out waiting for first two audio events")
		}
	}

	time.Sleep(80 * time.Millisecond)
	if got := len(engine.voiced()); got != 2 {
		t.Fatalf("generated %d chunks while channel full, want 2", got)
	}
	if d := channel.Depth(); d != 2 {
		t.Fatalf("channel depth = %d, want 2", d)
	}

	// One acknowledgment releases exactly one more generation.
	q.AcknowledgeConsumed()
	select {
	case ev := <-task.Events():
		if ev.Type != EventAudio {
			t.Fatalf("event after ack = %s, want audio", ev.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not resume after acknowledgment")
	}

	q.AcknowledgeConsumed()
	q.AcknowledgeConsumed()
	collectEvents(t, task, q.AcknowledgeConsumed)
}

func TestCancelMidGenerationPublishesNoAudio(t *testing.T) {
	engine := newScriptedEngine()
	engine.started = make(chan string, 1)
	engine.release = make(chan struct{})
	channel := NewChannel(MaxQueueSize)
	q := NewTaskQueue(engine, channel, 20)
	defer q.Close()

	task := q.Submit(Request{Text: "First sentence here. Second sentence here."})

	// Wait for the first generation to be in flight, cancel, then let the
	// engine finish. The finished audio must be discarded, not published.
	select {
	case <-engine.started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}
	task.Cancel()
	close(engine.release)

	<-task.Done()
	var sawAudio bool
	var terminal *Event
	for ev := range task.Events() {
		switch ev.Type {
		case EventAudio:
			sawAudio = true
		case EventComplete:
			ev := ev
			terminal = &ev
		}
	}
	if sawAudio {
		t.Fatal("audio published after cancellation")
	}
	if terminal == nil || !terminal.Cancelled {
		t.Fatalf("terminal = %+v, want complete with cancelled=true", terminal)
	}
	if d := channel.Depth(); d != 0 {
		t.Fatalf("channel depth = %d, want 0", d)
	}
}

func TestSubmitSerializesSessions(t *testing.T) {
	engine := newScriptedEngine()
	channel := NewChannel(MaxQueueSize)
	q := NewTaskQueue(engine, channel, 10)
	defer q.Close()

	first := q.Submit(Request{Text: "aaa one. aaa two."})
	second := q.Submit(Request{Text: "bbb one. bbb two."})
	collectEvents(t, first, q.AcknowledgeConsumed)
	collectEvents(t, second, q.AcknowledgeConsumed)

	voiced := engine.voiced()
	if len(voiced) != 4 {
		t.Fatalf("voiced %d chunks, want 4", len(voiced))
	}
	for i, text := range voiced {
		wantPrefix := "aaa"
		if i >= 2 {
			wantPrefix = "bbb"
		}
		if text[:3] != wantPrefix {
			t.Fatalf("chunk %d voiced %q, want prefix %q", i, text, wantPrefix)
		}
	}
}

func TestGenerationErrorIsTerminal(t *testing.T) {
	engine := newScriptedEngine()
	engine.failOn = "kaboom here."
	channel := NewChannel(MaxQueueSize)
	q := NewTaskQueue(engine, channel, 20)
	defer q.Close()

	task := q.Submit(Request{Text: "fine sentence. kaboom here."})
	events := collectEvents(t, task, q.AcknowledgeConsumed)

	last := events[len(events)-1]
	if last.Type != EventError || last.Err == nil {
		t.Fatalf("last event = %+v, want error", last)
	}
	for _, ev := range events {
		if ev.Type == EventComplete {
			t.Fatal("complete emitted alongside error terminal")
		}
	}
}

func TestEngineVoicesCleanedTextButUnitKeepsOriginal(t *testing.T) {
	engine := newScriptedEngine()
	channel := NewChannel(MaxQueueSize)
	q := NewTaskQueue(engine, channel, 200)
	defer q.Close()

	task := q.Submit(Request{Text: "Hello **world**"})
	events := collectEvents(t, task, q.AcknowledgeConsumed)

	var unit AudioUnit
	for _, ev := range events {
		if ev.Type == EventAudio {
			unit = ev.Unit
		}
	}
	if unit.SourceText != "Hello **world**" {
		t.Fatalf("unit source = %q, want the original markup", unit.SourceText)
	}
	voiced := engine.voiced()
	if len(voiced) != 1 || voiced[0] != "Hello world" {
		t.Fatalf("voiced = %q, want [\"Hello world\"]", voiced)
	}
}

func TestChannelConsumedFloorsAtZero(t *testing.T) {
	c := NewChannel(2)
	c.Consumed()
	if d := c.Depth(); d != 0 {
		t.Fatalf("depth = %d, want 0", d)
	}
	c.Publish()
	c.Publish()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.WaitWhileFull(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitWhileFull() error = %v, want context.Canceled", err)
	}

	c.Consumed()
	if err := c.WaitWhileFull(context.Background()); err != nil {
		t.Fatalf("WaitWhileFull() error = %v after consume", err)
	}
}

func TestChannelBlockedHookFiresOncePerWait(t *testing.T) {
	c := NewChannel(1)
	var fired int
	c.OnBlocked(func() { fired++ })

	// Below capacity: the wait returns immediately and the hook stays
	// silent.
	if err := c.WaitWhileFull(context.Background()); err != nil {
		t.Fatalf("WaitWhileFull() error = %v on empty channel", err)
	}
	if fired != 0 {
		t.Fatalf("hook fired %d times without blocking, want 0", fired)
	}

	c.Publish()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.WaitWhileFull(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitWhileFull() error = %v, want context.Canceled", err)
	}
	if fired != 1 {
		t.Fatalf("hook fired %d times for one blocked wait, want 1", fired)
	}
}

func TestUnitDuration(t *testing.T) {
	u := AudioUnit{Samples: make([]float32, 24000), SampleRate: 24000}
	if got := u.Duration(); got != time.Second {
		t.Fatalf("Duration() = %s, want 1s", got)
	}
	if got := (AudioUnit{}).Duration(); got != 0 {
		t.Fatalf("empty Duration() = %s, want 0", got)
	}
}
