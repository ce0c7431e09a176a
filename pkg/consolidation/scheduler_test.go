package consolidation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/sheep/internal/store"
)

type fakeActivity struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	order []string
}

func (f *fakeActivity) Agents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeActivity) LastActivity(agentID string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[agentID]
}

func TestSchedulerDropsConcurrentTrigger(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})

	runner := func(_ context.Context, agentID string) (*store.ConsolidationRun, error) {
		started <- agentID
		<-release
		return &store.ConsolidationRun{ID: "cr-" + agentID, Status: store.RunCompleted}, nil
	}
	s := NewScheduler(runner, nil, DefaultSchedulerConfig(), nil)

	type result struct {
		run *store.ConsolidationRun
		err error
	}
	firstDone := make(chan result, 1)
	go func() {
		run, err := s.TriggerConsolidation(context.Background(), "X", true)
		firstDone <- result{run, err}
	}()
	<-started
	require.True(t, s.Active("X"))

	// Colliding trigger for the same agent is dropped: nil, no error,
	// no second run.
	run, err := s.TriggerConsolidation(context.Background(), "X", true)
	require.NoError(t, err)
	assert.Nil(t, run)

	// A different agent proceeds.
	otherDone := make(chan result, 1)
	go func() {
		run, err := s.TriggerConsolidation(context.Background(), "Y", true)
		otherDone <- result{run, err}
	}()
	assert.Equal(t, "Y", <-started)

	close(release)
	first := <-firstDone
	require.NoError(t, first.err)
	require.NotNil(t, first.run)

	other := <-otherDone
	require.NoError(t, other.err)
	require.NotNil(t, other.run)

	// After completion, force starts a fresh run.
	third, err := s.TriggerConsolidation(context.Background(), "X", true)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "cr-X", third.ID)
}

func TestSchedulerMinIntervalGuard(t *testing.T) {
	calls := 0
	runner := func(_ context.Context, agentID string) (*store.ConsolidationRun, error) {
		calls++
		return &store.ConsolidationRun{Status: store.RunCompleted}, nil
	}
	cfg := DefaultSchedulerConfig()
	cfg.MinInterval = time.Hour
	s := NewScheduler(runner, nil, cfg, nil)

	run, err := s.TriggerConsolidation(context.Background(), "X", false)
	require.NoError(t, err)
	require.NotNil(t, run)

	// Within the interval an unforced trigger is dropped.
	run, err = s.TriggerConsolidation(context.Background(), "X", false)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.Equal(t, 1, calls)

	// force bypasses the interval guard.
	run, err = s.TriggerConsolidation(context.Background(), "X", true)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 2, calls)
}

func TestSchedulerInvalidCronSpec(t *testing.T) {
	runner := func(_ context.Context, _ string) (*store.ConsolidationRun, error) {
		return nil, nil
	}
	cfg := DefaultSchedulerConfig()
	cfg.CronSpec = "not a cron line"
	s := NewScheduler(runner, &fakeActivity{}, cfg, nil)
	assert.Nil(t, s.schedule)
	// Sweep with a disabled schedule is a no-op, not a panic.
	s.cronSweep(context.Background())
}

func TestSchedulerRelease(t *testing.T) {
	runner := func(_ context.Context, _ string) (*store.ConsolidationRun, error) {
		return &store.ConsolidationRun{Status: store.RunCompleted}, nil
	}
	s := NewScheduler(runner, nil, DefaultSchedulerConfig(), nil)

	_, err := s.TriggerConsolidation(context.Background(), "X", true)
	require.NoError(t, err)
	assert.False(t, s.Active("X"))
	assert.False(t, s.LastConsolidation("X").IsZero())
}
