package reader

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lecternfm/lectern/internal/audio"
	"github.com/lecternfm/lectern/internal/observability"
	"github.com/lecternfm/lectern/internal/playback"
	"github.com/lecternfm/lectern/internal/protocol"
	"github.com/lecternfm/lectern/internal/reliability"
	"github.com/lecternfm/lectern/internal/stream"
	"github.com/lecternfm/lectern/internal/synth"
	"github.com/lecternfm/lectern/internal/textseg"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StatePaused    State = "paused"
)

var (
	ErrNothingToStream = errors.New("nothing to stream at this offset")
	ErrNotStreaming    = errors.New("no active stream")
	ErrUnknownVoice    = errors.New("unknown voice")
)

// Notifier broadcasts a protocol message to connected clients. It must not
// block; the hub buffers per client.
type Notifier func(msg any)

// Config carries the tunables a reading session starts from.
type Config struct {
	ChunkTargetSize int
	QueueCapacity   int
	Voice           string
	Speed           float64
	TickInterval    time.Duration
	WordsPerMinute  int
}

// Snapshot is the controller state surfaced over the session endpoint.
type Snapshot struct {
	State             State   `json:"state"`
	BaseOffsetPercent float64 `json:"base_offset_percent"`
	EffectivePercent  float64 `json:"effective_percent"`
	ProcessedChunks   int     `json:"processed_chunks"`
	TotalChunks       int     `json:"total_chunks"`
	Voice             string  `json:"voice"`
	Speed             float64 `json:"speed"`
}

// Controller owns the play/pause/stop/seek state machine for the single
// live reading session. It translates client intents into chunker, queue,
// and scheduler operations and aggregates progress back out. Exactly one
// session streams at a time; starting a new one retires the previous one's
// in-flight work first.
type Controller struct {
	logger  *log.Logger
	notify  Notifier
	metrics *observability.Metrics
	window  *observability.StageWindow

	queue      *stream.TaskQueue
	channel    *stream.Channel
	scheduler  *playback.Scheduler
	sampleRate int

	mu           sync.Mutex
	state        State
	text         string
	voice        string
	speed        float64
	base         float64
	streamed     int
	current      *stream.Task
	pumpDone     chan struct{}
	completeSeen bool
	firstAudio   bool
	playStarted  time.Time
	seq          int
}

func New(engine synth.Engine, renderer playback.Renderer, cfg Config, notify Notifier, logger *log.Logger, metrics *observability.Metrics, window *observability.StageWindow) *Controller {
	if cfg.Voice == "" {
		cfg.Voice = synth.DefaultVoice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{
		logger:     logger,
		notify:     notify,
		metrics:    metrics,
		window:     window,
		sampleRate: engine.SampleRate(),
		state:      StateIdle,
		voice:      cfg.Voice,
		speed:      cfg.Speed,
	}
	c.channel = stream.NewChannel(cfg.QueueCapacity)
	c.channel.OnBlocked(func() {
		c.window.ObserveIndicator(observability.IndicatorBackpressureWait)
	})
	c.queue = stream.NewTaskQueue(engine, c.channel, cfg.ChunkTargetSize)
	c.scheduler = playback.NewScheduler(renderer, c.channel, cfg.TickInterval, cfg.WordsPerMinute, window, playback.Hooks{
		OnOffset:   c.onOffset,
		OnProgress: c.onProgress,
	})
	return c
}

// SetSource replaces the readable text wholesale, retiring any live
// session first so a stream never reads from swapped-out text.
func (c *Controller) SetSource(text string) {
	c.Stop()
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

func (c *Controller) SetVoice(id string) error {
	if !synth.KnownVoice(id) {
		return fmt.Errorf("%w: %s", ErrUnknownVoice, id)
	}
	c.mu.Lock()
	c.voice = id
	c.mu.Unlock()
	return nil
}

// SetSpeed clamps to the range the synthesis engine renders cleanly.
func (c *Controller) SetSpeed(speed float64) {
	if speed < 0.5 {
		speed = 0.5
	}
	if speed > 2.0 {
		speed = 2.0
	}
	c.mu.Lock()
	c.speed = speed
	c.mu.Unlock()
}

// QueueDepth reports the audio channel's undelivered unit count.
func (c *Controller) QueueDepth() int {
	return c.channel.Depth()
}

func (c *Controller) Snapshot() Snapshot {
	processed, total := c.scheduler.Processed()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:             c.state,
		BaseOffsetPercent: round2(c.base),
		EffectivePercent:  effectiveProgress(c.base, c.streamed),
		ProcessedChunks:   processed,
		TotalChunks:       total,
		Voice:             c.voice,
		Speed:             c.speed,
	}
}

// HandleControl dispatches one validated client control message.
func (c *Controller) HandleControl(msg protocol.ClientControl) error {
	if msg.VoiceID != "" {
		if err := c.SetVoice(msg.VoiceID); err != nil {
			return err
		}
	}
	if msg.Speed > 0 {
		c.SetSpeed(msg.Speed)
	}
	switch msg.Action {
	case protocol.ActionPlay:
		return c.Play(msg.OffsetPercent)
	case protocol.ActionPause:
		return c.Pause()
	case protocol.ActionStop:
		return c.Stop()
	case protocol.ActionSeek:
		return c.Seek(*msg.OffsetPercent)
	default:
		return fmt.Errorf("unsupported action %q", msg.Action)
	}
}

// Play starts streaming. With an offset it behaves like seek; without one
// it resumes from the stored base offset (or the beginning when idle).
// Playing while already streaming without an offset is a no-op.
func (c *Controller) Play(offsetPercent *float64) error {
	c.mu.Lock()
	state := c.state
	base := c.base
	c.mu.Unlock()

	switch state {
	case StateStreaming:
		if offsetPercent == nil {
			return nil
		}
		return c.Seek(*offsetPercent)
	case StatePaused:
		if offsetPercent != nil {
			base = *offsetPercent
		}
		if err := c.start(base); err != nil {
			return err
		}
		c.event("resumed")
		return nil
	default:
		if offsetPercent != nil {
			base = *offsetPercent
		}
		if err := c.start(base); err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.ActiveSessions.Inc()
		}
		c.event("started")
		return nil
	}
}

// Pause stops the pipeline without resetting the character offset. The
// blended effective progress becomes the base offset a later resume
// starts from.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateStreaming {
		c.mu.Unlock()
		return ErrNotStreaming
	}
	eff := effectiveProgress(c.base, c.streamed)
	c.base = eff
	c.streamed = 0
	c.state = StatePaused
	c.completeSeen = false
	t := c.current
	c.current = nil
	c.mu.Unlock()

	if t != nil {
		t.Cancel()
	}
	c.scheduler.Stop()

	c.send(protocol.ReadingProgress{Type: protocol.TypeReadingProgress, Percent: eff})
	c.event("paused")
	c.logger.Printf("reader: paused at %.1f%%", eff)
	return nil
}

// Stop retires the session entirely and returns to Idle. Safe to call when
// nothing is playing.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return nil
	}
	t := c.current
	c.current = nil
	c.state = StateIdle
	c.base = 0
	c.streamed = 0
	c.completeSeen = false
	c.mu.Unlock()

	if t != nil {
		t.Cancel()
	}
	c.scheduler.Stop()
	c.scheduler.Reset(0)

	c.send(protocol.Complete{Type: protocol.TypeComplete, Cancelled: true})
	c.window.ObserveIndicator(observability.IndicatorSessionCancelled)
	if c.metrics != nil {
		c.metrics.ActiveSessions.Dec()
	}
	c.event("stopped")
	c.logger.Printf("reader: stopped")
	return nil
}

// Seek is stop-then-play: the in-flight task fully settles before the new
// request is issued, so audio from two sessions never interleaves.
func (c *Controller) Seek(offsetPercent float64) error {
	if offsetPercent < 0 || offsetPercent > 100 {
		return fmt.Errorf("offset_percent %.1f out of range", offsetPercent)
	}

	c.mu.Lock()
	prev := c.state
	t := c.current
	pd := c.pumpDone
	c.current = nil
	c.completeSeen = false
	c.mu.Unlock()

	if t != nil {
		t.Cancel()
	}
	c.scheduler.Stop()
	if t != nil {
		<-t.Done()
		// Also drain the pump so a broadcast already past its staleness
		// check cannot land after the new session's first messages.
		<-pd
	}

	if err := c.start(offsetPercent); err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.base = 0
		c.streamed = 0
		c.mu.Unlock()
		if prev != StateIdle && c.metrics != nil {
			c.metrics.ActiveSessions.Dec()
		}
		return err
	}
	if prev == StateIdle && c.metrics != nil {
		c.metrics.ActiveSessions.Inc()
	}
	c.event("seek")
	return nil
}

// Close shuts the pipeline down for process exit.
func (c *Controller) Close() {
	c.Stop()
	c.queue.Close()
}

// start slices the source text at the word boundary at or after the given
// percent and submits it as a new generation session.
func (c *Controller) start(basePercent float64) error {
	began := time.Now()

	c.mu.Lock()
	text := c.text
	voice := c.voice
	speed := c.speed
	c.mu.Unlock()

	off := textseg.SnapToWordStart(text, textseg.OffsetForPercent(text, basePercent))
	remaining := text[off:]
	if strings.TrimSpace(remaining) == "" {
		c.send(protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "nothing_to_stream",
			Source: "reader",
			Detail: "no readable text at or after the requested offset",
		})
		return ErrNothingToStream
	}

	c.scheduler.Reset(off)
	task := c.queue.Submit(stream.Request{Text: remaining, Voice: voice, Speed: speed})

	c.mu.Lock()
	c.state = StateStreaming
	c.base = basePercent
	c.streamed = 0
	c.completeSeen = false
	c.firstAudio = false
	c.playStarted = began
	c.seq = 0
	c.current = task
	pd := make(chan struct{})
	c.pumpDone = pd
	c.mu.Unlock()

	go func() {
		c.pump(task)
		close(pd)
	}()

	c.window.Observe(observability.StageSessionStart, float64(time.Since(began).Milliseconds()))
	c.logger.Printf("reader: streaming from %.1f%% (offset %d, %d chars, voice %s)", basePercent, off, len(remaining), voice)
	return nil
}

// pump drains one task's event stream until it closes. Events from a task
// that has been superseded are ignored, except that published-but-stale
// audio is acknowledged so the channel's depth accounting stays balanced.
func (c *Controller) pump(t *stream.Task) {
	for ev := range t.Events() {
		switch ev.Type {
		case stream.EventChunkCount:
			if c.stale(t) {
				continue
			}
			c.scheduler.SetTotal(ev.Count)
			c.send(protocol.ChunkCount{Type: protocol.TypeChunkCount, Count: ev.Count})

		case stream.EventAudio:
			if c.stale(t) {
				c.channel.Consumed()
				continue
			}
			c.observeFirstAudio()
			c.scheduler.Enqueue(ev.Unit)
			c.sendAudio(ev)

		case stream.EventError:
			c.onWorkerError(t, ev.Err)

		case stream.EventComplete:
			if ev.Cancelled || c.stale(t) {
				continue
			}
			c.onWorkerComplete(t)
		}
	}
}

func (c *Controller) stale(t *stream.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != t
}

func (c *Controller) observeFirstAudio() {
	c.mu.Lock()
	first := !c.firstAudio
	c.firstAudio = true
	started := c.playStarted
	c.mu.Unlock()
	if !first {
		return
	}
	elapsed := time.Since(started)
	if c.metrics != nil {
		c.metrics.ObserveFirstAudioLatency(elapsed)
	}
	c.window.Observe(observability.StageFirstAudio, float64(elapsed.Milliseconds()))
}

func (c *Controller) sendAudio(ev stream.Event) {
	c.mu.Lock()
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	rate := ev.Unit.SampleRate
	if rate <= 0 {
		rate = c.sampleRate
	}
	wav, err := audio.EncodeWAVPCM16LE(audio.PCM16FromFloat32(ev.Unit.Samples), rate)
	if err != nil {
		c.logger.Printf("reader: wav encode failed: %v", err)
		return
	}
	c.send(protocol.StreamAudio{
		Type:        protocol.TypeStreamAudio,
		Seq:         seq,
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
		Text:        ev.Unit.SourceText,
	})
}

// onWorkerError is fatal to the session: surface the error, return to
// Idle, no automatic retry. Units already played stay played.
func (c *Controller) onWorkerError(t *stream.Task, err error) {
	c.mu.Lock()
	if c.current != t {
		c.mu.Unlock()
		return
	}
	c.current = nil
	was := c.state
	c.state = StateIdle
	c.base = 0
	c.streamed = 0
	c.completeSeen = false
	c.mu.Unlock()

	c.scheduler.Stop()

	c.send(protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		Code:   reliability.SynthesisErrorCode(err),
		Source: "synthesis",
		Detail: err.Error(),
	})
	if was != StateIdle && c.metrics != nil {
		c.metrics.ActiveSessions.Dec()
	}
	c.event("error")
	c.logger.Printf("reader: synthesis failed: %v", err)
}

// onWorkerComplete records that every chunk has been published. The
// session finalizes once the scheduler has also drained them.
func (c *Controller) onWorkerComplete(t *stream.Task) {
	c.mu.Lock()
	if c.current != t {
		c.mu.Unlock()
		return
	}
	c.completeSeen = true
	c.mu.Unlock()

	processed, total := c.scheduler.Processed()
	if total > 0 && processed >= total {
		c.finalize()
	}
}

// onOffset relays highlight ticks from the playback loop.
func (c *Controller) onOffset(charOffset int) {
	c.send(protocol.Highlight{Type: protocol.TypeHighlight, CharOffset: charOffset})
}

// onProgress publishes blended progress after each finished unit and
// finalizes the session once the last unit drains after the worker's
// complete message.
func (c *Controller) onProgress(processed, total, percent int) {
	c.mu.Lock()
	c.streamed = percent
	base := c.base
	done := c.completeSeen && total > 0 && processed >= total
	c.mu.Unlock()

	if done {
		c.finalize()
		return
	}
	c.send(protocol.ReadingProgress{Type: protocol.TypeReadingProgress, Percent: effectiveProgress(base, percent)})
}

// finalize reports 100% and exactly one terminal complete, then returns
// to Idle.
func (c *Controller) finalize() {
	c.mu.Lock()
	if c.state != StateStreaming || !c.completeSeen {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.base = 0
	c.streamed = 0
	c.completeSeen = false
	c.current = nil
	c.mu.Unlock()

	c.send(protocol.ReadingProgress{Type: protocol.TypeReadingProgress, Percent: 100})
	c.send(protocol.Complete{Type: protocol.TypeComplete})
	if c.metrics != nil {
		c.metrics.ActiveSessions.Dec()
	}
	c.event("completed")
	c.logger.Printf("reader: session complete")
}

func (c *Controller) send(msg any) {
	if c.notify != nil {
		c.notify(msg)
	}
}

func (c *Controller) event(name string) {
	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues(name).Inc()
	}
}

// effectiveProgress blends the base offset a session started from with
// how far that session has streamed through the remainder.
func effectiveProgress(base float64, streamed int) float64 {
	return round2(base + float64(streamed)*(1-base/100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
