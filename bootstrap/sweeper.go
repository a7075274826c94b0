package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/artpar/quotagate/adapters/metrics"
	"github.com/artpar/quotagate/ports"
)

// RecordPruner deletes usage records older than a cutoff.
type RecordPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepResult reports one sweep run.
type SweepResult struct {
	Counters int64
	Records  int64
}

// SweeperDeps contains dependencies for Sweeper.
// Counters and Records may be nil; the matching step is skipped.
type SweeperDeps struct {
	Counters  ports.Sweeper
	Records   RecordPruner
	Retention time.Duration // Records older than this are pruned, 0 keeps them
	Clock     ports.Clock
	Metrics   *metrics.Collector
	Logger    zerolog.Logger
}

// Sweeper removes expired counters and old usage records on a cron schedule.
type Sweeper struct {
	deps    SweeperDeps
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper.
func NewSweeper(deps SweeperDeps) *Sweeper {
	return &Sweeper{
		deps: deps,
		cron: cron.New(),
	}
}

// Start schedules sweeps. Common schedules:
//
//	"@every 5m"   - Every five minutes
//	"0 3 * * *"   - Daily at 3 AM
//
// An empty schedule leaves the sweeper idle.
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule == "" {
		s.deps.Logger.Info().Msg("sweep schedule not configured, skipping sweeper")
		return nil
	}
	if s.deps.Counters == nil && (s.deps.Records == nil || s.deps.Retention <= 0) {
		s.deps.Logger.Debug().Msg("nothing to sweep")
		return nil
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.deps.Logger.Info().
		Str("schedule", schedule).
		Dur("record_retention", s.deps.Retention).
		Msg("sweeper started")
	return nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := s.RunOnce(ctx)
	if err != nil {
		s.deps.Logger.Error().Err(err).Msg("sweep failed")
		return
	}
	if res.Counters > 0 || res.Records > 0 {
		s.deps.Logger.Info().
			Int64("counters", res.Counters).
			Int64("records", res.Records).
			Msg("sweep completed")
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.deps.Clock.Now()

	if s.deps.Counters != nil {
		n, err := s.deps.Counters.DeleteExpired(ctx, now)
		if err != nil {
			return res, fmt.Errorf("delete expired counters: %w", err)
		}
		res.Counters = n
		s.deps.Metrics.Swept(n)
	}

	if s.deps.Records != nil && s.deps.Retention > 0 {
		n, err := s.deps.Records.DeleteBefore(ctx, now.Add(-s.deps.Retention))
		if err != nil {
			return res, fmt.Errorf("prune usage records: %w", err)
		}
		res.Records = n
	}

	return res, nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.deps.Logger.Info().Msg("sweeper stopped")
	}
}

// Running reports whether sweeps are scheduled.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep, nil when idle.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
