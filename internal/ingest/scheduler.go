package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/dealsync/internal/deals"
)

// ParseSchedule turns a cron expression (five fields, or a descriptor such
// as @hourly or @every 15m) into the fixed interval between triggers: the
// distance between the first two occurrences after now.
func ParseSchedule(expr string, now time.Time) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return 0, &deals.ConfigurationError{Setting: "schedule", Err: fmt.Errorf("parse %q: %w", expr, err)}
	}
	first := schedule.Next(now)
	if first.IsZero() {
		return 0, &deals.ConfigurationError{Setting: "schedule", Err: fmt.Errorf("%q never fires", expr)}
	}
	second := schedule.Next(first)
	if second.IsZero() {
		return 0, &deals.ConfigurationError{Setting: "schedule", Err: fmt.Errorf("%q fires only once", expr)}
	}
	interval := second.Sub(first)
	if interval <= 0 {
		return 0, &deals.ConfigurationError{Setting: "schedule", Err: fmt.Errorf("%q yields non-positive interval %s", expr, interval)}
	}
	return interval, nil
}

type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Job is one ingestion pass; *Runner implements it.
type Job interface {
	Run(ctx context.Context, iteration int64) (RunStats, error)
}

type SchedulerOptions struct {
	Interval time.Duration
	Logger   zerolog.Logger
	// OnRunFinished, when set, is called after a run has returned the
	// scheduler to idle.
	OnRunFinished func(RunStats, error)
}

// Scheduler fires the job on a fixed interval and never lets two runs
// overlap. A trigger that arrives while a run is active is dropped.
type Scheduler struct {
	job           Job
	interval      time.Duration
	logger        zerolog.Logger
	onRunFinished func(RunStats, error)

	running   atomic.Bool
	iteration atomic.Int64
	dropped   atomic.Int64
	wg        sync.WaitGroup
}

func NewScheduler(job Job, opts SchedulerOptions) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: job is required", deals.ErrInvalidInput)
	}
	if opts.Interval <= 0 {
		return nil, &deals.ConfigurationError{Setting: "schedule", Err: fmt.Errorf("interval must be positive, got %s", opts.Interval)}
	}
	return &Scheduler{
		job:           job,
		interval:      opts.Interval,
		logger:        opts.Logger,
		onRunFinished: opts.OnRunFinished,
	}, nil
}

func (s *Scheduler) State() State {
	if s.running.Load() {
		return StateRunning
	}
	return StateIdle
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Dropped is the number of triggers discarded because a run was active.
func (s *Scheduler) Dropped() int64 {
	return s.dropped.Load()
}

// Trigger starts a run in the background unless one is already active. It
// reports whether a run was started.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.dropped.Add(1)
		s.logger.Warn().
			Int64("active_iteration", s.iteration.Load()).
			Msg("previous ingestion run has not completed; trigger dropped")
		return false
	}
	iteration := s.iteration.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info().Int64("iteration", iteration).Msg("ingestion iteration started")
		stats, err := s.runJob(ctx, iteration)
		s.running.Store(false)
		s.report(iteration, stats, err)
	}()
	return true
}

// runJob turns a panic inside the job into that run's error so the next
// trigger still fires.
func (s *Scheduler) runJob(ctx context.Context, iteration int64) (stats RunStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Int64("iteration", iteration).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("ingestion run panicked")
			stats.Iteration = iteration
			err = fmt.Errorf("ingestion run panicked: %v", r)
		}
	}()
	return s.job.Run(ctx, iteration)
}

func (s *Scheduler) report(iteration int64, stats RunStats, err error) {
	switch {
	case err == nil:
		s.logger.Info().Int64("iteration", iteration).Msg("ingestion iteration finished")
	case errors.Is(err, context.Canceled):
		s.logger.Warn().Err(err).Int64("iteration", iteration).Msg("ingestion iteration stopped by shutdown")
	default:
		s.logger.Error().Err(err).Int64("iteration", iteration).Msg("ingestion iteration failed; next trigger unaffected")
	}
	if s.onRunFinished != nil {
		s.onRunFinished(stats, err)
	}
}

// Start fires immediately and then once per interval until ctx is done. On
// shutdown it waits for the active run to finish its current record.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
	s.Trigger(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Err(ctx.Err()).Msg("scheduler stopping; waiting for active run")
			s.Wait()
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Wait blocks until no run is active.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
