package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/dealsync/internal/deals"
)

// Source is the remote side of a run.
type Source interface {
	TotalCount(ctx context.Context) (int, error)
	FetchPage(ctx context.Context, pageSize, pageIndex int) ([]deals.RawDeal, error)
}

type RunnerOptions struct {
	PageSize int
	// FetchRetries is how many extra attempts a count or page request gets
	// after a transport failure. Protocol failures are never retried.
	FetchRetries         int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	Logger               zerolog.Logger
}

type RunStats struct {
	RunID       string
	Iteration   int64
	Total       int
	Pages       int
	Records     int
	Inserted    int
	Updated     int
	Unchanged   int
	Failed      int
	Invalid     int
	Interrupted bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Runner drains the source page by page and feeds every record to the engine,
// strictly in order.
type Runner struct {
	source       Source
	engine       *Engine
	pageSize     int
	fetchRetries int
	retryInitial time.Duration
	retryMax     time.Duration
	logger       zerolog.Logger
}

func NewRunner(source Source, engine *Engine, opts RunnerOptions) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: source is required", deals.ErrInvalidInput)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", deals.ErrInvalidInput)
	}
	if opts.PageSize <= 0 {
		return nil, &deals.ConfigurationError{Setting: "page size", Err: fmt.Errorf("must be positive, got %d", opts.PageSize)}
	}
	if opts.FetchRetries < 0 {
		return nil, &deals.ConfigurationError{Setting: "fetch retries", Err: fmt.Errorf("must not be negative, got %d", opts.FetchRetries)}
	}
	retryInitial := opts.RetryInitialInterval
	if retryInitial <= 0 {
		retryInitial = 500 * time.Millisecond
	}
	retryMax := opts.RetryMaxInterval
	if retryMax <= 0 {
		retryMax = 30 * time.Second
	}
	return &Runner{
		source:       source,
		engine:       engine,
		pageSize:     opts.PageSize,
		fetchRetries: opts.FetchRetries,
		retryInitial: retryInitial,
		retryMax:     retryMax,
		logger:       opts.Logger,
	}, nil
}

// Run performs one full synchronization pass. The returned error is a
// transport or protocol failure that cut the run short, or the context error
// when the run stopped early on cancellation; per-record failures only show
// up in the stats.
func (r *Runner) Run(ctx context.Context, iteration int64) (RunStats, error) {
	stats := RunStats{
		RunID:     uuid.NewString(),
		Iteration: iteration,
		StartedAt: time.Now().UTC(),
	}
	log := r.logger.With().Str("run_id", stats.RunID).Int64("iteration", iteration).Logger()
	log.Info().Int("page_size", r.pageSize).Msg("ingestion run started")

	var total int
	err := r.withRetry(ctx, log, "count", func() error {
		var err error
		total, err = r.source.TotalCount(ctx)
		return err
	})
	if err != nil {
		return r.finish(log, stats, err)
	}
	stats.Total = total
	log.Info().Int("total", total).Msg("remote record count fetched")

	for pageIndex := 0; pageIndex*r.pageSize < total; pageIndex++ {
		if ctx.Err() != nil {
			stats.Interrupted = true
			return r.finish(log, stats, fmt.Errorf("ingestion run interrupted before page %d: %w", pageIndex, ctx.Err()))
		}
		var records []deals.RawDeal
		err := r.withRetry(ctx, log, fmt.Sprintf("page %d", pageIndex), func() error {
			var err error
			records, err = r.source.FetchPage(ctx, r.pageSize, pageIndex)
			return err
		})
		if err != nil {
			return r.finish(log, stats, err)
		}
		stats.Pages++
		if len(records) == 0 {
			log.Warn().Int("page_index", pageIndex).Int("total", total).Msg("remote returned an empty page before the reported total; stopping")
			break
		}
		for _, raw := range records {
			r.reconcile(ctx, log, raw, &stats)
			if ctx.Err() != nil {
				stats.Interrupted = true
				return r.finish(log, stats, fmt.Errorf("ingestion run interrupted after page %d: %w", pageIndex, ctx.Err()))
			}
		}
	}
	return r.finish(log, stats, nil)
}

func (r *Runner) reconcile(ctx context.Context, log zerolog.Logger, raw deals.RawDeal, stats *RunStats) {
	stats.Records++
	deal, err := raw.ToDeal()
	if err != nil {
		stats.Invalid++
		log.Warn().Err(err).Str("deal_number", raw.DealNumber).Msg("invalid deal record skipped")
		return
	}
	result := r.engine.Apply(ctx, deal)
	switch result.Outcome {
	case OutcomeInserted:
		stats.Inserted++
	case OutcomeUpdated:
		stats.Updated++
	case OutcomeUnchanged:
		stats.Unchanged++
	default:
		stats.Failed++
	}
}

func (r *Runner) withRetry(ctx context.Context, log zerolog.Logger, what string, op func() error) error {
	if r.fetchRetries == 0 {
		return op()
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryInitial
	policy.MaxInterval = r.retryMax
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.fetchRetries)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !deals.IsTransport(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("request", what).Dur("retry_in", wait).Msg("remote request failed; retrying")
	})
}

func (r *Runner) finish(log zerolog.Logger, stats RunStats, err error) (RunStats, error) {
	stats.FinishedAt = time.Now().UTC()
	event := log.Info()
	msg := "ingestion run completed"
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		event = log.Warn().Err(err)
		msg = "ingestion run interrupted"
	case err != nil:
		event = log.Error().Err(err)
		msg = "ingestion run aborted"
	}
	event.
		Int("total", stats.Total).
		Int("pages", stats.Pages).
		Int("records", stats.Records).
		Int("inserted", stats.Inserted).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Int("failed", stats.Failed).
		Int("invalid", stats.Invalid).
		Dur("elapsed", stats.FinishedAt.Sub(stats.StartedAt)).
		Msg(msg)
	return stats, err
}
