// Package app wires the trader's components from a loaded config. Both the
// daemon and the CLI build on it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/camuig/momentum-trader/internal/ai"
	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/execution"
	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/market"
	"github.com/camuig/momentum-trader/internal/momentum"
	"github.com/camuig/momentum-trader/internal/pipeline"
	"github.com/camuig/momentum-trader/internal/risk"
	"github.com/camuig/momentum-trader/internal/scheduler"
	"github.com/camuig/momentum-trader/internal/scoring"
	"github.com/camuig/momentum-trader/internal/storage"
	"github.com/camuig/momentum-trader/internal/telegram"
	"github.com/camuig/momentum-trader/internal/web"
)

const eventBuffer = 1024

type App struct {
	Config *config.Config
	Logger *logger.Logger

	DB        *gorm.DB
	Repo      *storage.Repository
	Ledger    *ledger.Ledger
	Risk      *risk.Manager
	Market    *market.Client
	Simulator *execution.Simulator
	Bus       *pipeline.Bus
	Pipeline  *pipeline.Orchestrator
	Reviewer  *pipeline.Reviewer
	Notifier  *telegram.Notifier
	Scheduler *scheduler.Scheduler
	Web       *web.Server
}

func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := storage.NewDatabase(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}

	a := &App{Config: cfg, Logger: log, DB: db}
	a.Repo = storage.NewRepository(db)
	a.Ledger = ledger.New(a.Repo, log.With("component", "ledger"))
	a.Risk = risk.NewManager(a.Ledger, a.Repo, cfg, log.With("component", "risk"))
	a.Ledger.OnEquityChange(a.Risk.EquityChanged)

	a.Market = market.NewClient(cfg.Exchange.RESTBaseURL, cfg.ExchangeTimeout(), log.With("component", "market"))
	a.Simulator = execution.NewSimulator(cfg.Execution, log.With("component", "execution"))
	a.Notifier = telegram.NewNotifier(cfg, log)
	a.Risk.OnTrip(a.Notifier.NotifyTrip)

	a.Bus = pipeline.NewBus(eventBuffer, log)
	a.Bus.Subscribe(pipeline.LogSink(log.With("component", "pipeline")))
	a.Bus.Subscribe(a.Notifier)

	weights := scoring.DefaultWeights().WithOverrides(cfg.Scoring.TimeframeWeights, cfg.Scoring.SentimentPoints)
	a.Pipeline = pipeline.NewOrchestrator(pipeline.Deps{
		Agent:    ai.NewDeepSeekClient(cfg, log.With("component", "ai")),
		Builder:  momentum.NewBuilder(a.Market, cfg.Trading.Timeframes, cfg.Trading.CandleLimit, log),
		Prices:   a.Market,
		Scorer:   scoring.NewScorer(!cfg.Trading.DisableSentiment, weights),
		Auditor:  a.Risk,
		Executor: a.Simulator,
		Ledger:   a.Ledger,
		Repo:     a.Repo,
		Bus:      a.Bus,
	}, cfg, log.With("component", "pipeline"))

	a.Reviewer = pipeline.NewReviewer(a.Ledger, a.Risk, a.Simulator, a.Market, a.Repo, a.Bus, cfg, log.With("component", "review"))
	a.Reviewer.OnClose(a.Notifier.NotifyClosed)

	a.Scheduler = scheduler.NewScheduler(a.Pipeline, a.Ledger, a.Reviewer, a.Notifier, cfg, log.With("component", "scheduler"))
	a.Web = web.NewServer(a.Ledger, a.Risk, a.Repo, cfg, log)
	return a, nil
}

// EnsurePortfolio returns the configured portfolio, creating it on first start.
func (a *App) EnsurePortfolio(ctx context.Context) (*storage.Portfolio, error) {
	cfg := a.Config
	return a.Ledger.EnsurePortfolio(ctx, ledger.CreateRequest{
		Name:            cfg.Portfolio.Name,
		StartingCapital: cfg.Portfolio.StartingCapital,
		ExecutionMode:   cfg.Portfolio.ExecutionMode,
		Limits: storage.Limits{
			MaxPositionSizePct:  cfg.Risk.MaxPositionSizePct,
			MaxTotalExposurePct: cfg.Risk.MaxTotalExposurePct,
			MaxDailyLossPct:     cfg.Risk.MaxDailyLossPct,
			MaxDrawdownPct:      cfg.Risk.MaxDrawdownPct,
		},
	})
}

// Portfolio resolves a portfolio by name, falling back to the configured one.
func (a *App) Portfolio(ctx context.Context, name string) (*storage.Portfolio, error) {
	if name == "" {
		name = a.Config.Portfolio.Name
	}
	return a.Ledger.PortfolioByName(ctx, name)
}

// Stream returns the price stream for the configured symbols, or nil when
// streaming is disabled.
func (a *App) Stream() *market.Stream {
	if !a.Config.Exchange.StreamEnabled {
		return nil
	}
	return market.NewStream(a.Config.Exchange.StreamURL, a.Config.Trading.Symbols, a.Logger.With("component", "stream"))
}

func (a *App) Close() error {
	a.Bus.Close()
	return storage.Close(a.DB)
}
