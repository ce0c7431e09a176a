// Package llm abstracts the completion and embedding capabilities the
// memory core consumes. Providers are collaborators: the core only
// distinguishes rate-limited, bad-request, and other failures.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited marks a 429-class failure. Retry with backoff.
var ErrRateLimited = errors.New("llm: rate limited")

// ErrBadRequest marks a 400-class / configuration failure. Do not retry;
// callers fall back to degraded mode.
var ErrBadRequest = errors.New("llm: bad request")

// ErrUnavailable marks a provider that is not configured at all.
var ErrUnavailable = errors.New("llm: provider unavailable")

// Options tune a single completion call.
type Options struct {
	MaxTokens   int
	Temperature float64
	System      string
	JSONMode    bool
}

// Client is the completion capability.
type Client interface {
	// Complete returns the model's text for prompt. Implementations
	// honor ctx cancellation.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	// Available reports whether the provider is configured and healthy
	// enough to attempt calls.
	Available() bool
}

// Embedder is the optional embedding capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetryPolicy bounds a retry loop with exponential backoff.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Factor   int
	Max      time.Duration
}

// ExtractionRetry covers extraction calls: 3 attempts, 1s/2s/4s.
var ExtractionRetry = RetryPolicy{Attempts: 3, Initial: time.Second, Factor: 2, Max: 10 * time.Second}

// SleepRetry covers sleep sub-passes: 2 attempts, 2s/4s.
var SleepRetry = RetryPolicy{Attempts: 2, Initial: 2 * time.Second, Factor: 2, Max: 10 * time.Second}

// RecallRetry covers recall synthesis: 3 attempts, 5s/15s/45s.
var RecallRetry = RetryPolicy{Attempts: 3, Initial: 5 * time.Second, Factor: 3, Max: 120 * time.Second}

// Backoff returns the sleep before attempt i (0-based; 0 means none).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= time.Duration(p.Factor)
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// CompleteWithRetry runs a completion under the policy. Rate limits and
// transient failures retry with backoff; bad requests abort immediately.
func CompleteWithRetry(ctx context.Context, c Client, prompt string, opts Options, policy RetryPolicy) (string, error) {
	if c == nil || !c.Available() {
		return "", ErrUnavailable
	}

	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if wait := policy.Backoff(attempt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := c.Complete(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrBadRequest) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
