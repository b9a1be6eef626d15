package reader

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lecternfm/lectern/internal/observability"
	"github.com/lecternfm/lectern/internal/playback"
	"github.com/lecternfm/lectern/internal/protocol"
	"github.com/lecternfm/lectern/internal/stream"
	"github.com/lecternfm/lectern/internal/synth"
)

// toneEngine returns a short burst of samples instantly.
type toneEngine struct{}

func (toneEngine) Generate(ctx context.Context, text string, opts synth.Options) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]float32, 240), nil
}
func (toneEngine) SampleRate() int { return 24000 }
func (toneEngine) Close() error    { return nil }

// instantRenderer completes every unit immediately.
type instantRenderer struct{}

func (instantRenderer) Play(unit stream.AudioUnit) (<-chan struct{}, func(), error) {
	done := make(chan struct{})
	close(done)
	return done, func() {}, nil
}

// gateRenderer hands the test a finish func per unit so playback advances
// only when the test says so.
type gateRenderer struct {
	started chan func()
}

func newGateRenderer() *gateRenderer {
	return &gateRenderer{started: make(chan func(), 16)}
}

func (r *gateRenderer) Play(unit stream.AudioUnit) (<-chan struct{}, func(), error) {
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }
	r.started <- finish
	return done, finish, nil
}

type msgLog struct {
	mu   sync.Mutex
	msgs []any
}

func (l *msgLog) notify(msg any) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *msgLog) all() []any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]any(nil), l.msgs...)
}

func (l *msgLog) waitFor(t *testing.T, what string, pred func([]any) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred(l.all()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; have %d messages", what, len(l.all()))
}

func hasComplete(msgs []any, cancelled bool) bool {
	for _, m := range msgs {
		if c, ok := m.(protocol.Complete); ok && c.Cancelled == cancelled {
			return true
		}
	}
	return false
}

func newTestController(t *testing.T, renderer playback.Renderer, rec *msgLog) *Controller {
	t.Helper()
	c := New(toneEngine{}, renderer, Config{ChunkTargetSize: 20}, rec.notify,
		log.New(io.Discard, "", 0), nil, observability.NewStageWindow(16))
	t.Cleanup(c.Close)
	return c
}

func TestPlayRunsToExactlyOneComplete(t *testing.T) {
	rec := &msgLog{}
	c := newTestController(t, instantRenderer{}, rec)
	c.SetSource("One two three. Four five six.")

	if err := c.Play(nil); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	rec.waitFor(t, "complete", func(msgs []any) bool { return hasComplete(msgs, false) })

	msgs := rec.all()
	if _, ok := msgs[0].(protocol.ChunkCount); !ok {
		t.Fatalf("first message = %T, want ChunkCount", msgs[0])
	}
	count := msgs[0].(protocol.ChunkCount).Count

	completes := 0
	audio := 0
	sawHundred := false
	for _, m := range msgs {
		switch v := m.(type) {
		case protocol.Complete:
			completes++
		case protocol.StreamAudio:
			if v.Seq != audio {
				t.Fatalf("audio seq = %d, want %d", v.Seq, audio)
			}
			if v.AudioBase64 == "" || v.Text == "" {
				t.Fatalf("audio message missing payload: %+v", v)
			}
			audio++
		case protocol.ReadingProgress:
			if v.Percent == 100 {
				sawHundred = true
			} else if sawHundred {
				t.Fatal("progress emitted after the 100% report")
			}
		}
	}
	if completes != 1 {
		t.Fatalf("complete messages = %d, want exactly 1", completes)
	}
	if audio != count {
		t.Fatalf("audio messages = %d, want %d", audio, count)
	}
	if !sawHundred {
		t.Fatal("never reported 100% progress")
	}

	snap := c.Snapshot()
	if snap.State != StateIdle || snap.BaseOffsetPercent != 0 {
		t.Fatalf("snapshot after complete = %+v, want idle at 0", snap)
	}
}

func TestPauseStoresBlendedBaseAndResumes(t *testing.T) {
	rec := &msgLog{}
	renderer := newGateRenderer()
	c := newTestController(t, renderer, rec)
	c.SetSource("One two three. Four five six. Seven eight nine.")

	if err := c.Play(nil); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	// Let exactly one unit finish so progress moves off zero.
	select {
	case finish := <-renderer.started:
		finish()
	case <-time.After(5 * time.Second):
		t.Fatal("first unit never started")
	}
	rec.waitFor(t, "progress", func(msgs []any) bool {
		for _, m := range msgs {
			if p, ok := m.(protocol.ReadingProgress); ok && p.Percent > 0 {
				return true
			}
		}
		return false
	})

	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StatePaused {
		t.Fatalf("state = %s, want paused", snap.State)
	}
	if snap.BaseOffsetPercent <= 0 || snap.BaseOffsetPercent != snap.EffectivePercent {
		t.Fatalf("paused snapshot = %+v, want base > 0 equal to effective", snap)
	}
	if hasComplete(rec.all(), true) || hasComplete(rec.all(), false) {
		t.Fatal("pause must not broadcast a complete")
	}

	if err := c.Play(nil); err != nil {
		t.Fatalf("resume Play() error = %v", err)
	}
	select {
	case <-renderer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("resume never started rendering")
	}
	if got := c.Snapshot().State; got != StateStreaming {
		t.Fatalf("state after resume = %s, want streaming", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	rec.waitFor(t, "cancelled complete", func(msgs []any) bool { return hasComplete(msgs, true) })
	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("state after stop = %s, want idle", got)
	}
}

func TestPauseWhenIdle(t *testing.T) {
	c := newTestController(t, instantRenderer{}, &msgLog{})
	c.SetSource("Some text here.")
	if err := c.Pause(); !errors.Is(err, ErrNotStreaming) {
		t.Fatalf("Pause() error = %v, want ErrNotStreaming", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() when idle error = %v", err)
	}
}

func TestSeekValidation(t *testing.T) {
	rec := &msgLog{}
	c := newTestController(t, instantRenderer{}, rec)
	c.SetSource("Hello world.")

	if err := c.Seek(150); err == nil {
		t.Fatal("expected error for offset > 100")
	}

	// Nothing remains at 100%; the session must not start.
	if err := c.Seek(100); !errors.Is(err, ErrNothingToStream) {
		t.Fatalf("Seek(100) error = %v, want ErrNothingToStream", err)
	}
	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("state = %s, want idle after rejected seek", got)
	}
	found := false
	for _, m := range rec.all() {
		if e, ok := m.(protocol.ErrorEvent); ok && e.Code == "nothing_to_stream" {
			found = true
		}
	}
	if !found {
		t.Fatal("no nothing_to_stream error event broadcast")
	}
}

func TestSeekWhileStreamingNeverInterleavesSessions(t *testing.T) {
	rec := &msgLog{}
	renderer := newGateRenderer()
	c := newTestController(t, renderer, rec)
	c.SetSource("alpha one. alpha two. alpha three. bravo one. bravo two. bravo three.")

	if err := c.Play(nil); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	// Hold playback on the first unit so the seek lands mid-stream with
	// audio still in flight.
	rec.waitFor(t, "first audio", func(msgs []any) bool {
		for _, m := range msgs {
			if _, ok := m.(protocol.StreamAudio); ok {
				return true
			}
		}
		return false
	})

	if err := c.Seek(50); err != nil {
		t.Fatalf("Seek(50) error = %v", err)
	}

	// Release every unit the renderer is handed until the new session
	// drains to its complete.
	stopDrain := make(chan struct{})
	go func() {
		for {
			select {
			case finish := <-renderer.started:
				finish()
			case <-stopDrain:
				return
			}
		}
	}()
	defer close(stopDrain)
	rec.waitFor(t, "complete", func(msgs []any) bool { return hasComplete(msgs, false) })

	msgs := rec.all()
	secondCount := -1
	counts := 0
	for i, m := range msgs {
		if _, ok := m.(protocol.ChunkCount); ok {
			counts++
			if counts == 2 {
				secondCount = i
			}
		}
	}
	if counts != 2 {
		t.Fatalf("chunk_count messages = %d, want 2", counts)
	}

	seq := 0
	for _, m := range msgs[secondCount+1:] {
		a, ok := m.(protocol.StreamAudio)
		if !ok {
			continue
		}
		if strings.Contains(a.Text, "alpha") {
			t.Fatalf("audio from the retired session after the seek: %q", a.Text)
		}
		if a.Seq != seq {
			t.Fatalf("post-seek audio seq = %d, want %d", a.Seq, seq)
		}
		seq++
	}
	if seq == 0 {
		t.Fatal("no audio broadcast for the post-seek session")
	}
}

func TestPlayWhileStreamingIsNoOp(t *testing.T) {
	rec := &msgLog{}
	renderer := newGateRenderer()
	c := newTestController(t, renderer, rec)
	c.SetSource("One two three. Four five six.")

	if err := c.Play(nil); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	select {
	case <-renderer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never started")
	}
	if err := c.Play(nil); err != nil {
		t.Fatalf("second Play() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	counts := 0
	for _, m := range rec.all() {
		if _, ok := m.(protocol.ChunkCount); ok {
			counts++
		}
	}
	if counts != 1 {
		t.Fatalf("chunk_count messages = %d, want 1", counts)
	}
}

func TestVoiceAndSpeedControls(t *testing.T) {
	c := newTestController(t, instantRenderer{}, &msgLog{})
	c.SetSource("Some text here.")

	if err := c.SetVoice("not_a_voice"); !errors.Is(err, ErrUnknownVoice) {
		t.Fatalf("SetVoice() error = %v, want ErrUnknownVoice", err)
	}
	if err := c.SetVoice("bm_george"); err != nil {
		t.Fatalf("SetVoice(bm_george) error = %v", err)
	}
	c.SetSpeed(5.0)
	snap := c.Snapshot()
	if snap.Voice != "bm_george" {
		t.Fatalf("voice = %s, want bm_george", snap.Voice)
	}
	if snap.Speed != 2.0 {
		t.Fatalf("speed = %v, want clamped to 2.0", snap.Speed)
	}

	bad := protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionPlay, VoiceID: "nope"}
	if err := c.HandleControl(bad); !errors.Is(err, ErrUnknownVoice) {
		t.Fatalf("HandleControl() error = %v, want ErrUnknownVoice", err)
	}
}

func TestEffectiveProgressBlend(t *testing.T) {
	cases := []struct {
		base     float64
		streamed int
		want     float64
	}{
		{0, 0, 0},
		{0, 50, 50},
		{40, 0, 40},
		{40, 50, 70},
		{50, 99, 99.5},
	}
	for _, tc := range cases {
		if got := effectiveProgress(tc.base, tc.streamed); got != tc.want {
			t.Fatalf("effectiveProgress(%v, %d) = %v, want %v", tc.base, tc.streamed, got, tc.want)
		}
	}
}
