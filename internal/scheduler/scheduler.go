package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/pipeline"
	"github.com/camuig/momentum-trader/internal/storage"
)

// Runner runs one pipeline pass for a symbol.
type Runner interface {
	Run(ctx context.Context, portfolioID uint, symbol string) pipeline.Result
}

// Portfolios is the slice of the ledger the scan loop reads.
type Portfolios interface {
	ActivePortfolios(ctx context.Context) ([]storage.Portfolio, error)
	PositionBySymbol(ctx context.Context, portfolioID uint, symbol string) (*storage.Position, error)
}

type Reviewer interface {
	ReviewAll(ctx context.Context) error
	SnapshotAll(ctx context.Context) error
}

type Notifier interface {
	NotifyResult(res pipeline.Result)
	NotifyError(context string, err error)
}

// CycleSummary counts run outcomes of one scan cycle.
type CycleSummary struct {
	Runs    int
	Skipped int
	ByState map[pipeline.Status]int
}

type Scheduler struct {
	runner     Runner
	portfolios Portfolios
	reviewer   Reviewer
	notifier   Notifier
	config     *config.Config
	logger     *logger.Logger

	// wait is swapped in tests.
	wait func(ctx context.Context, d time.Duration) bool
}

func NewScheduler(runner Runner, portfolios Portfolios, reviewer Reviewer, notifier Notifier, cfg *config.Config, log *logger.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		portfolios: portfolios,
		reviewer:   reviewer,
		notifier:   notifier,
		config:     cfg,
		logger:     log,
		wait:       waitCtx,
	}
}

// Run scans on every interval until ctx is cancelled. Cancellation is only
// observed between cycles: a cycle in flight runs to completion. A failed
// cycle is retried after the retry wait instead of the full interval.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.config.TradingInterval()
	s.logger.Info("scheduler started", "interval", interval.String(), "symbols", s.config.Trading.Symbols)

	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return
		}

		_, err := s.RunCycle(context.WithoutCancel(ctx))
		next := interval
		if err != nil {
			s.logger.Error("scan cycle failed", "error", err, "retry_in", s.config.RetryWait().String())
			next = s.config.RetryWait()
		}

		if !s.wait(ctx, next) {
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

// RunCycle runs the pipeline for every configured symbol of every active
// portfolio. Symbols the portfolio already holds are skipped.
func (s *Scheduler) RunCycle(ctx context.Context) (sum CycleSummary, err error) {
	sum.ByState = make(map[pipeline.Status]int)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scan cycle", "panic", fmt.Sprint(r))
			err = fmt.Errorf("scan cycle panic: %v", r)
			s.notifier.NotifyError("scheduler panic", err)
		}
	}()

	start := time.Now()
	ports, err := s.portfolios.ActivePortfolios(ctx)
	if err != nil {
		return sum, fmt.Errorf("list portfolios: %w", err)
	}
	if len(ports) == 0 {
		s.logger.Warn("no active portfolios, skipping cycle")
		return sum, nil
	}

	var errs []error
	for _, p := range ports {
		for _, sym := range s.config.Trading.Symbols {
			held, err := s.portfolios.PositionBySymbol(ctx, p.ID, sym)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", p.Name, sym, err))
				continue
			}
			if held != nil {
				s.logger.Debug("position already open, skipping", "portfolio", p.Name, "symbol", sym)
				sum.Skipped++
				continue
			}

			res := s.runner.Run(ctx, p.ID, sym)
			s.notifier.NotifyResult(res)
			sum.Runs++
			sum.ByState[res.Status]++
			if res.Status == pipeline.StatusError {
				errs = append(errs, fmt.Errorf("%s/%s at %s: %w", p.Name, sym, res.Stage, res.Err))
			}
		}
	}

	s.logger.Info("scan cycle completed",
		"runs", sum.Runs,
		"skipped", sum.Skipped,
		"executed", sum.ByState[pipeline.StatusExecuted],
		"rejected", sum.ByState[pipeline.StatusRejected],
		"errors", sum.ByState[pipeline.StatusError],
		"elapsed", time.Since(start).String())

	// a failing symbol is not a failing cycle unless every run failed
	if sum.Runs > 0 && sum.ByState[pipeline.StatusError] == sum.Runs {
		return sum, errors.Join(errs...)
	}
	for _, e := range errs {
		s.logger.Warn("scan run error", "error", e)
	}
	return sum, nil
}

// StartCron schedules the periodic P&L review and performance snapshots.
// Jobs run on ctx with its cancellation detached. Stop the returned cron to
// end them.
func (s *Scheduler) StartCron(ctx context.Context) (*cron.Cron, error) {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	base := context.WithoutCancel(ctx)

	if _, err := c.AddFunc(s.config.Cron.ReviewSpec, func() {
		if err := s.reviewer.ReviewAll(base); err != nil {
			s.logger.Error("pnl review", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule review %q: %w", s.config.Cron.ReviewSpec, err)
	}

	if _, err := c.AddFunc(s.config.Cron.SnapshotSpec, func() {
		if err := s.reviewer.SnapshotAll(base); err != nil {
			s.logger.Error("performance snapshot", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule snapshot %q: %w", s.config.Cron.SnapshotSpec, err)
	}

	c.Start()
	s.logger.Info("cron started", "review", s.config.Cron.ReviewSpec, "snapshot", s.config.Cron.SnapshotSpec)
	return c, nil
}

func waitCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
