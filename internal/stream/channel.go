package stream

import (
	"context"
	"sync"
	"time"
)

// MaxQueueSize bounds undelivered audio units between synthesis and
// playback. Values beyond 6 buy no smoothness and hold seconds of audio
// hostage across a seek.
const MaxQueueSize = 6

// defaultBackpressurePoll is the fallback re-check cadence while waiting
// for the consumer; the consume acknowledgment normally wakes the producer
// well before it fires.
const defaultBackpressurePoll = time.Second

// AudioUnit is one chunk's synthesized audio plus the exact source text it
// was rendered from. Owned by the channel accounting until playback
// acknowledges it; not reused afterwards.
type AudioUnit struct {
	Samples    []float32
	SampleRate int
	SourceText string
}

// Duration reports the real playback length of the unit.
func (u AudioUnit) Duration() time.Duration {
	if u.SampleRate <= 0 || len(u.Samples) == 0 {
		return 0
	}
	return time.Duration(float64(len(u.Samples)) / float64(u.SampleRate) * float64(time.Second))
}

// Channel is the advisory backpressure counter between the synthesis
// producer and the playback consumer. It counts undelivered units; it does
// not carry them. Both sides are trusted: the producer checks depth before
// each publish, the consumer acknowledges after each unit finishes.
type Channel struct {
	mu        sync.Mutex
	wake      chan struct{}
	depth     int
	capacity  int
	poll      time.Duration
	onBlocked func()
}

func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = MaxQueueSize
	}
	return &Channel{
		wake:     make(chan struct{}),
		capacity: capacity,
		poll:     defaultBackpressurePoll,
	}
}

// OnBlocked registers a hook fired once per WaitWhileFull call that finds
// the channel full and actually waits. Must be set before the producer
// starts; the hook must not block.
func (c *Channel) OnBlocked(fn func()) {
	c.mu.Lock()
	c.onBlocked = fn
	c.mu.Unlock()
}

func (c *Channel) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

func (c *Channel) Capacity() int { return c.capacity }

// Publish records one more undelivered unit. The producer must have
// observed depth < capacity first (WaitWhileFull).
func (c *Channel) Publish() {
	c.mu.Lock()
	c.depth++
	c.mu.Unlock()
}

// Consumed acknowledges that one unit finished playback. Depth is floored
// at zero and any waiting producer is woken.
func (c *Channel) Consumed() {
	c.mu.Lock()
	if c.depth > 0 {
		c.depth--
	}
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()
}

// WaitWhileFull blocks until depth drops below capacity or ctx is done.
// The wait is woken by Consumed and additionally re-checks on a coarse
// poll interval as a safety net.
func (c *Channel) WaitWhileFull(ctx context.Context) error {
	blocked := false
	for {
		c.mu.Lock()
		if c.depth < c.capacity {
			c.mu.Unlock()
			return nil
		}
		wake := c.wake
		onBlocked := c.onBlocked
		c.mu.Unlock()

		if !blocked {
			blocked = true
			if onBlocked != nil {
				onBlocked()
			}
		}

		timer := time.NewTimer(c.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
