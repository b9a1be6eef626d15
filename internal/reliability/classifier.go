package reliability

import (
	"context"
	"errors"
	"strings"
)

// Synthesis failure codes surfaced to clients. Failures are fatal to the
// current session; classification drives the user-facing message, not a
// retry policy.
const (
	CodeModelLoadFailed  = "model_load_failed"
	CodeWorkerClosed     = "worker_closed"
	CodeGenerationFailed = "generation_failed"
)

// SynthesisErrorCode maps a synthesis failure to its client-facing code.
func SynthesisErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeWorkerClosed
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "failed to start"), strings.Contains(msg, "not found"), strings.Contains(msg, "loading"):
		return CodeModelLoadFailed
	case strings.Contains(msg, "closed"), strings.Contains(msg, "broken pipe"), strings.Contains(msg, "out-of-sync"):
		return CodeWorkerClosed
	default:
		return CodeGenerationFailed
	}
}
