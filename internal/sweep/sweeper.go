// Package sweep rescores the open deal book on a schedule so time-decay
// penalties keep accruing even when nothing else touches a deal.
package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/pipeline-cli/internal/model"
	"github.com/sells-group/pipeline-cli/internal/resilience"
	"github.com/sells-group/pipeline-cli/internal/scoring"
	"github.com/sells-group/pipeline-cli/internal/store"
)

// Options configures the sweep loop.
type Options struct {
	// Interval between sweeps. Default: 24h.
	Interval time.Duration

	// Concurrency bounds how many deals are scored in parallel. Default: 8.
	Concurrency int

	// RatePerSec throttles snapshot loads against the store. 0 disables
	// throttling.
	RatePerSec float64

	// Retry controls how transient store failures are retried.
	Retry resilience.RetryConfig
}

// Result summarizes one sweep pass.
type Result struct {
	Deals    int
	Scored   int
	Failed   int
	Saved    int64
	Duration time.Duration
}

// Sweeper walks every open deal, rescores it against the current clock, and
// bulk-persists the results.
type Sweeper struct {
	store   store.Store
	engine  *scoring.Engine
	opts    Options
	limiter *rate.Limiter
}

// New creates a Sweeper. Zero option fields get defaults.
func New(st store.Store, engine *scoring.Engine, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return &Sweeper{store: st, engine: engine, opts: opts, limiter: limiter}
}

// Run starts the periodic sweep loop. It performs one sweep immediately,
// then repeats on the interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "sweep"))
	log.Info("starting sweep loop",
		zap.Duration("interval", s.opts.Interval),
		zap.Int("concurrency", s.opts.Concurrency),
	)

	s.runAndLog(ctx, log)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweep loop stopped")
			return
		case <-ticker.C:
			s.runAndLog(ctx, log)
		}
	}
}

func (s *Sweeper) runAndLog(ctx context.Context, log *zap.Logger) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		log.Error("sweep: pass failed", zap.Error(err))
		return
	}
	log.Info("sweep: pass complete",
		zap.Int("deals", res.Deals),
		zap.Int("scored", res.Scored),
		zap.Int("failed", res.Failed),
		zap.Int64("saved", res.Saved),
		zap.Duration("duration", res.Duration),
	)
}

// RunOnce performs a single sweep pass over all open deals. Individual deal
// failures are logged and counted but do not abort the pass; only listing
// and the final bulk save are fatal.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	now := start.UTC()
	configHash := s.engine.Config().Hash()

	deals, err := resilience.DoVal(ctx, s.opts.Retry, func(ctx context.Context) ([]model.Deal, error) {
		return s.store.ListOpenDeals(ctx, store.DealFilter{})
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	var mu sync.Mutex
	scores := make([]model.DealScore, 0, len(deals))
	var failed atomic.Int64

	for _, deal := range deals {
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(gctx); err != nil {
					return err
				}
			}

			sc, err := s.scoreDeal(gctx, deal.ID, now, configHash)
			if err != nil {
				failed.Add(1)
				zap.L().Warn("sweep: deal scoring failed",
					zap.String("deal_id", deal.ID),
					zap.Error(err),
				)
				return nil
			}

			mu.Lock()
			scores = append(scores, *sc)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var saved int64
	if len(scores) > 0 {
		saved, err = resilience.DoVal(ctx, retryWithLog(s.opts.Retry, "save_scores"), func(ctx context.Context) (int64, error) {
			return s.store.SaveScores(ctx, scores)
		})
		if err != nil {
			return nil, err
		}
	}

	return &Result{
		Deals:    len(deals),
		Scored:   len(scores),
		Failed:   int(failed.Load()),
		Saved:    saved,
		Duration: time.Since(start),
	}, nil
}

func (s *Sweeper) scoreDeal(ctx context.Context, dealID string, now time.Time, configHash string) (*model.DealScore, error) {
	in, err := resilience.DoVal(ctx, retryWithLog(s.opts.Retry, "load_input"), func(ctx context.Context) (*scoring.Input, error) {
		return s.store.LoadScoringInput(ctx, dealID)
	})
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Score(*in, now)
	if err != nil {
		return nil, err
	}

	return &model.DealScore{
		DealID:          dealID,
		Score:           res.ConfidenceScore,
		BaseScore:       res.BaseScore,
		TotalPenalties:  res.TotalPenalties,
		TotalBonus:      res.TotalBonus,
		WeightedMonthly: res.WeightedMonthly,
		WeightedOnetime: res.WeightedOnetime,
		Breakdown:       res.Breakdown,
		ConfigHash:      configHash,
		ScoredAt:        now,
	}, nil
}

func retryWithLog(cfg resilience.RetryConfig, operation string) resilience.RetryConfig {
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("sweep", operation)
	}
	return cfg
}
