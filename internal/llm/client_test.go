package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSchedules(t *testing.T) {
	assert.Equal(t, time.Duration(0), ExtractionRetry.Backoff(0))
	assert.Equal(t, time.Second, ExtractionRetry.Backoff(1))
	assert.Equal(t, 2*time.Second, ExtractionRetry.Backoff(2))

	assert.Equal(t, 2*time.Second, SleepRetry.Backoff(1))

	assert.Equal(t, 5*time.Second, RecallRetry.Backoff(1))
	assert.Equal(t, 15*time.Second, RecallRetry.Backoff(2))
}

func TestBackoffCap(t *testing.T) {
	p := RetryPolicy{Attempts: 10, Initial: time.Second, Factor: 3, Max: 5 * time.Second}
	assert.Equal(t, 5*time.Second, p.Backoff(9))
}

func TestCompleteWithRetryBadRequestAborts(t *testing.T) {
	m := NewMockClient()
	m.Err = ErrBadRequest

	_, err := CompleteWithRetry(context.Background(), m, "p", Options{}, ExtractionRetry)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, 1, m.CallCount())
}

func TestCompleteWithRetryRetriesTransient(t *testing.T) {
	calls := 0
	m := NewMockClient()
	m.Respond = func(string, Options) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}

	fast := RetryPolicy{Attempts: 3, Initial: time.Millisecond, Factor: 2, Max: time.Millisecond}
	out, err := CompleteWithRetry(context.Background(), m, "p", Options{}, fast)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

func TestCompleteWithRetryUnavailable(t *testing.T) {
	m := NewMockClient()
	m.Down = true
	_, err := CompleteWithRetry(context.Background(), m, "p", Options{}, ExtractionRetry)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = CompleteWithRetry(context.Background(), nil, "p", Options{}, ExtractionRetry)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCompleteWithRetryHonorsCancellation(t *testing.T) {
	m := NewMockClient()
	m.Err = errors.New("always failing")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := RetryPolicy{Attempts: 3, Initial: time.Minute, Factor: 2, Max: time.Minute}
	_, err := CompleteWithRetry(ctx, m, "p", Options{}, slow)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnconfiguredOpenAIClient(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{})
	assert.False(t, c.Available())
	_, err := c.Complete(context.Background(), "p", Options{})
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Nil(t, NewOpenAIEmbedder(OpenAIConfig{}))
}
