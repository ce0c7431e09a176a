package consolidation

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kittclouds/sheep/internal/store"
)

// Runner executes one consolidation for an agent. The scheduler
// guarantees at most one in flight per agent.
type Runner func(ctx context.Context, agentID string) (*store.ConsolidationRun, error)

// ActivityReporter tells the idle timer when each agent was last active.
type ActivityReporter interface {
	Agents() []string
	LastActivity(agentID string) time.Time
}

// SchedulerConfig tunes the trigger sources.
type SchedulerConfig struct {
	IdleThreshold time.Duration
	MinInterval   time.Duration
	// CronSpec is a standard 5-field cron expression for the daily run.
	CronSpec string
}

// DefaultSchedulerConfig runs idle agents after 30 minutes of silence,
// at most every 6 hours, with a 3 AM cron sweep.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		IdleThreshold: 30 * time.Minute,
		MinInterval:   6 * time.Hour,
		CronSpec:      "0 3 * * *",
	}
}

// Timer cadences.
const (
	idleTickInterval = 10 * time.Minute
	cronTickInterval = time.Minute
)

// agentState is the per-agent scheduling bookkeeping.
type agentState struct {
	lastConsolidation time.Time
	active            bool
	cronRunDate       string // "2006-01-02" of today's cron-triggered run
}

// Scheduler is the per-process consolidation controller. The active set
// is the mutual-exclusion guard: duplicate triggers are dropped with a
// log, never queued.
type Scheduler struct {
	mu       sync.Mutex
	states   map[string]*agentState
	runner   Runner
	activity ActivityReporter
	cfg      SchedulerConfig
	schedule cron.Schedule
	log      *zap.SugaredLogger
	cancel   context.CancelFunc
}

// NewScheduler builds a scheduler. An invalid cron spec disables the
// cron timer and is logged, not fatal.
func NewScheduler(runner Runner, activity ActivityReporter, cfg SchedulerConfig, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		states:   make(map[string]*agentState),
		runner:   runner,
		activity: activity,
		cfg:      cfg,
		log:      log,
	}
	if cfg.CronSpec != "" {
		schedule, err := cron.ParseStandard(cfg.CronSpec)
		if err != nil {
			log.Warnw("scheduler: invalid cron spec, cron timer disabled", "spec", cfg.CronSpec, "err", err)
		} else {
			s.schedule = schedule
		}
	}
	return s
}

// Start launches the idle and cron timers. Stop with Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(ctx, idleTickInterval, s.idleSweep)
	go s.loop(ctx, cronTickInterval, s.cronSweep)
}

// Stop halts the timers. In-flight consolidations finish on their own
// contexts.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, sweep func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// idleSweep triggers agents idle beyond the threshold.
func (s *Scheduler) idleSweep(ctx context.Context) {
	if s.activity == nil {
		return
	}
	now := time.Now()
	for _, agentID := range s.activity.Agents() {
		last := s.activity.LastActivity(agentID)
		if last.IsZero() || now.Sub(last) < s.cfg.IdleThreshold {
			continue
		}
		if _, err := s.TriggerConsolidation(ctx, agentID, false); err != nil {
			s.log.Warnw("scheduler: idle trigger failed", "agent", agentID, "err", err)
		}
	}
}

// cronSweep triggers each agent once per day at the configured time.
func (s *Scheduler) cronSweep(ctx context.Context) {
	if s.schedule == nil || s.activity == nil {
		return
	}
	now := time.Now()
	// The schedule fires within this minute iff the next activation
	// from one minute ago lands inside it.
	next := s.schedule.Next(now.Add(-cronTickInterval))
	if next.After(now) {
		return
	}
	today := now.Format("2006-01-02")

	for _, agentID := range s.activity.Agents() {
		s.mu.Lock()
		st := s.state(agentID)
		alreadyRan := st.cronRunDate == today
		if !alreadyRan {
			st.cronRunDate = today
		}
		s.mu.Unlock()
		if alreadyRan {
			continue
		}
		if _, err := s.TriggerConsolidation(ctx, agentID, false); err != nil {
			s.log.Warnw("scheduler: cron trigger failed", "agent", agentID, "err", err)
		}
	}
}

// TriggerConsolidation starts a run for the agent unless one is active
// or the minimum interval has not elapsed (force overrides the interval
// guard, never the concurrency guard). Returns nil without error when
// the trigger is dropped.
func (s *Scheduler) TriggerConsolidation(ctx context.Context, agentID string, force bool) (*store.ConsolidationRun, error) {
	s.mu.Lock()
	st := s.state(agentID)
	if st.active {
		s.mu.Unlock()
		s.log.Infow("scheduler: consolidation already active, trigger dropped", "agent", agentID)
		return nil, nil
	}
	if !force && !st.lastConsolidation.IsZero() &&
		time.Since(st.lastConsolidation) < s.cfg.MinInterval {
		s.mu.Unlock()
		s.log.Debugw("scheduler: minimum interval not elapsed, trigger dropped", "agent", agentID)
		return nil, nil
	}
	// Atomically claim the agent before releasing the lock.
	st.active = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		st.active = false
		st.lastConsolidation = time.Now()
		s.mu.Unlock()
	}()

	run, err := s.runner(ctx, agentID)
	if err != nil {
		s.log.Warnw("scheduler: consolidation failed", "agent", agentID, "err", err)
		return run, err
	}
	return run, nil
}

// Active reports whether the agent has a consolidation in flight.
func (s *Scheduler) Active(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(agentID).active
}

// LastConsolidation reports when the agent last finished a run.
func (s *Scheduler) LastConsolidation(agentID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(agentID).lastConsolidation
}

// state returns (creating if needed) the agent's entry. Callers hold mu.
func (s *Scheduler) state(agentID string) *agentState {
	st, ok := s.states[agentID]
	if !ok {
		st = &agentState{}
		s.states[agentID] = st
	}
	return st
}
