// Package synth wraps the speech-synthesis engine. The engine supports a
// single in-flight generation at a time; callers serialize access through
// the streaming task queue.
package synth

import (
	"context"

	"github.com/lecternfm/lectern/internal/protocol"
)

// Options select the voice and speaking rate for one generation call.
type Options struct {
	Voice string
	Speed float64
}

// Engine produces mono float32 samples for one text chunk per call. Calls
// are assumed synchronous and, once started, not cancellable; the context
// only bounds setup work.
type Engine interface {
	Generate(ctx context.Context, text string, opts Options) ([]float32, error)
	SampleRate() int
	Close() error
}

// LoadStatus reports model loading progress during engine startup.
type LoadStatus struct {
	Stage    protocol.MessageType
	Device   string
	Progress float64
}

// LoadObserver receives LoadStatus updates; a nil observer is allowed.
type LoadObserver func(LoadStatus)

func (o LoadObserver) notify(s LoadStatus) {
	if o != nil {
		o(s)
	}
}
