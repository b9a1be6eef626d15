package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lecternfm/lectern/internal/synth"
	"github.com/lecternfm/lectern/internal/textseg"
)

// EventType identifies the discrete messages a synthesis task emits.
type EventType string

const (
	EventChunkCount EventType = "chunk_count"
	EventAudio      EventType = "audio"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is one ordered message from the synthesis worker to its consumer.
type Event struct {
	Type      EventType
	Count     int
	Seq       int
	Unit      AudioUnit
	Cancelled bool
	Err       error
}

// Request describes one generation session.
type Request struct {
	Text  string
	Voice string
	Speed float64
}

// Task is a single submitted generation session. Its event stream is
// closed after exactly one terminal event (complete or error).
type Task struct {
	req       Request
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	events    chan Event
	done      chan struct{}
}

// Events yields the task's ordered messages. The channel closes after the
// terminal event; consumers must drain it.
func (t *Task) Events() <-chan Event { return t.events }

// Done closes once the task has fully settled, including the terminal
// event emit.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel requests cooperative cancellation. A generation call already in
// flight runs to completion first.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

func (t *Task) isCancelled() bool { return t.cancelled.Load() }

// TaskQueue serializes generation sessions onto a single synthesis engine.
// The engine supports one in-flight generation at a time; a single worker
// goroutine is the only caller, so no two requests ever execute
// concurrently against it. Cancellation is checked before each chunk,
// after each backpressure wait, and after each generation call.
type TaskQueue struct {
	engine  synth.Engine
	channel *Channel
	target  int

	mu      sync.Mutex
	pending []*Task
	active  *Task
	closed  bool

	workCh chan struct{}
	done   chan struct{}
}

// NewTaskQueue starts the single worker goroutine.
func NewTaskQueue(engine synth.Engine, channel *Channel, targetChunkSize int) *TaskQueue {
	if targetChunkSize <= 0 {
		targetChunkSize = textseg.DefaultTargetSize
	}
	q := &TaskQueue{
		engine:  engine,
		channel: channel,
		target:  targetChunkSize,
		workCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit enqueues a generation session. It never runs before every earlier
// session (stopped or not) has fully settled.
func (q *TaskQueue) Submit(req Request) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, MaxQueueSize+8),
		done:   make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		t.cancelled.Store(true)
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	select {
	case q.workCh <- struct{}{}:
	default:
	}
	return t
}

// Stop cancels the active and any pending sessions and blocks until each
// has settled, so no audio attributable to a stale session can be
// published afterwards.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	tasks := append([]*Task(nil), q.pending...)
	if q.active != nil {
		tasks = append(tasks, q.active)
	}
	q.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

// AcknowledgeConsumed records that playback finished one audio unit,
// releasing backpressure.
func (q *TaskQueue) AcknowledgeConsumed() {
	q.channel.Consumed()
}

// Close stops the worker after cancelling and settling everything queued.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Stop()
	select {
	case q.workCh <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *TaskQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		var t *Task
		if len(q.pending) > 0 {
			t = q.pending[0]
			q.pending = q.pending[1:]
			q.active = t
		}
		closed := q.closed
		q.mu.Unlock()

		if t != nil {
			q.runTask(t)
			q.mu.Lock()
			q.active = nil
			q.mu.Unlock()
			continue
		}
		if closed {
			return
		}
		<-q.workCh
	}
}

// runTask drives one session: chunk, then for each chunk in order wait out
// backpressure, generate, and publish, re-checking cancellation at every
// checkpoint. Exactly one terminal event is emitted per session.
func (q *TaskQueue) runTask(t *Task) {
	defer close(t.done)
	defer close(t.events)

	chunks := textseg.Split(t.req.Text, q.target)
	t.events <- Event{Type: EventChunkCount, Count: len(chunks)}

	for i, chunk := range chunks {
		if t.isCancelled() {
			break
		}
		if err := q.channel.WaitWhileFull(t.ctx); err != nil {
			break
		}
		if t.isCancelled() {
			break
		}

		// The engine voices a cleaned rendition; the unit keeps the
		// original chunk so display offsets stay aligned.
		spoken := synth.Speakable(chunk)
		if spoken == "" {
			spoken = chunk
		}

		// Once started, the generation call is not aborted; cancellation
		// takes effect at the next checkpoint.
		samples, err := q.engine.Generate(context.WithoutCancel(t.ctx), spoken, synth.Options{
			Voice: t.req.Voice,
			Speed: t.req.Speed,
		})
		if err != nil {
			t.events <- Event{Type: EventError, Err: err}
			return
		}
		if t.isCancelled() {
			break
		}

		q.channel.Publish()
		t.events <- Event{Type: EventAudio, Seq: i, Unit: AudioUnit{
			Samples:    samples,
			SampleRate: q.engine.SampleRate(),
			SourceText: chunk,
		}}
	}

	t.events <- Event{Type: EventComplete, Cancelled: t.isCancelled()}
}
