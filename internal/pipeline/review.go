package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/execution"
	"github.com/camuig/momentum-trader/internal/id"
	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/risk"
	"github.com/camuig/momentum-trader/internal/storage"
)

const (
	ReasonStopLoss   = "stop loss"
	ReasonTakeProfit = "take profit"
)

// monitorEvery is the shortest gap between two stream-driven monitor passes
// over one portfolio.
const monitorEvery = 5 * time.Second

// ReviewReport summarises one P&L review of a portfolio.
type ReviewReport struct {
	PortfolioID uint
	Marked      int
	Alerts      []risk.Alert
	Closed      []ledger.Closed
}

// Reviewer keeps open positions marked to market and flattens the ones whose
// stop or target was touched.
type Reviewer struct {
	ledger   *ledger.Ledger
	risk     *risk.Manager
	executor Executor
	prices   PriceSource
	repo     *storage.Repository
	bus      *Bus
	cfg      *config.Config
	logger   *logger.Logger

	mu      sync.Mutex
	onClose []func(ctx context.Context, c ledger.Closed)

	monMu       sync.Mutex
	lastMonitor map[uint]time.Time
	now         func() time.Time
}

func NewReviewer(l *ledger.Ledger, rm *risk.Manager, executor Executor, prices PriceSource, repo *storage.Repository, bus *Bus, cfg *config.Config, log *logger.Logger) *Reviewer {
	return &Reviewer{
		ledger:   l,
		risk:     rm,
		executor: executor,
		prices:   prices,
		repo:     repo,
		bus:      bus,
		cfg:      cfg,
		logger:   log,

		lastMonitor: make(map[uint]time.Time),
		now:         time.Now,
	}
}

// OnClose registers fn to run after the reviewer closes a position.
func (r *Reviewer) OnClose(fn func(ctx context.Context, c ledger.Closed)) {
	r.mu.Lock()
	r.onClose = append(r.onClose, fn)
	r.mu.Unlock()
}

func (r *Reviewer) notifyClosed(ctx context.Context, c ledger.Closed) {
	r.mu.Lock()
	hooks := slices.Clone(r.onClose)
	r.mu.Unlock()
	for _, fn := range hooks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("close hook panic", "panic", fmt.Sprint(p))
				}
			}()
			fn(ctx, c)
		}()
	}
}

// ReviewAll reviews every active portfolio. A failing portfolio does not stop
// the others.
func (r *Reviewer) ReviewAll(ctx context.Context) error {
	ports, err := r.ledger.ActivePortfolios(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range ports {
		if _, err := r.Review(ctx, p.ID); err != nil {
			errs = append(errs, fmt.Errorf("portfolio %d: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Review refreshes prices, runs the monitor and closes positions at their
// stop or target.
func (r *Reviewer) Review(ctx context.Context, portfolioID uint) (rep ReviewReport, err error) {
	runID := id.Prefixed("rev")
	start := time.Now()
	r.bus.Publish(StageStarted{RunID: runID, Stage: StagePnLReview, At: start.UTC()})
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in pnl review", "portfolio_id", portfolioID, "panic", fmt.Sprint(p), "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", StagePnLReview, p)
		}
		if err != nil {
			r.bus.Publish(StageFailed{RunID: runID, Stage: StagePnLReview, Err: err.Error(), Elapsed: time.Since(start), At: time.Now().UTC()})
			return
		}
		r.bus.Publish(StageCompleted{
			RunID:   runID,
			Stage:   StagePnLReview,
			Output:  fmt.Sprintf("portfolio %d: %d marked, %d alerts, %d closed", portfolioID, rep.Marked, len(rep.Alerts), len(rep.Closed)),
			Elapsed: time.Since(start),
			At:      time.Now().UTC(),
		})
	}()

	rep.PortfolioID = portfolioID
	positions, err := r.ledger.OpenPositions(ctx, portfolioID)
	if err != nil {
		return rep, err
	}

	for _, sym := range symbolsOf(positions) {
		price, err := r.prices.CurrentPrice(ctx, sym)
		if err != nil {
			r.logger.Warn("price unavailable for review", "portfolio_id", portfolioID, "symbol", sym, "error", err)
			continue
		}
		pos, err := r.ledger.MarkToMarket(ctx, portfolioID, sym, price)
		if err != nil {
			r.logger.Error("mark to market", "portfolio_id", portfolioID, "symbol", sym, "error", err)
			continue
		}
		if pos != nil {
			rep.Marked++
		}
	}

	alerts, err := r.risk.Monitor(ctx, portfolioID)
	if err != nil {
		return rep, fmt.Errorf("monitor: %w", err)
	}
	rep.Alerts = alerts

	closing := make(map[uint]bool)
	for _, a := range alerts {
		reason := levelReason(a.Kind)
		if reason == "" || closing[a.PositionID] {
			continue
		}
		closing[a.PositionID] = true
		c, err := r.closeByID(ctx, portfolioID, a.PositionID, a.Value, reason)
		if err != nil {
			if errors.Is(err, ledger.ErrPositionClosed) || errors.Is(err, ledger.ErrPositionNotFound) {
				continue
			}
			r.logger.Error("auto close failed", "portfolio_id", portfolioID, "position_id", a.PositionID, "error", err)
			continue
		}
		rep.Closed = append(rep.Closed, c)
	}

	r.logger.Debug("pnl review done", "portfolio_id", portfolioID, "marked", rep.Marked, "alerts", len(rep.Alerts), "closed", len(rep.Closed))
	return rep, nil
}

// OnPrice applies a streamed price to every active portfolio holding symbol,
// closes positions whose stop or target it crosses and runs the risk monitor.
func (r *Reviewer) OnPrice(ctx context.Context, symbol string, price float64) {
	ports, err := r.ledger.ActivePortfolios(ctx)
	if err != nil {
		r.logger.Error("list portfolios", "error", err)
		return
	}
	for _, p := range ports {
		pos, err := r.ledger.MarkToMarket(ctx, p.ID, symbol, price)
		if err != nil {
			r.logger.Error("mark to market", "portfolio_id", p.ID, "symbol", symbol, "error", err)
			continue
		}
		if pos == nil {
			continue
		}
		if alerts := risk.LevelAlerts(*pos); len(alerts) > 0 {
			_, err = r.closeByID(ctx, p.ID, pos.ID, price, levelReason(alerts[0].Kind))
			if err != nil && !errors.Is(err, ledger.ErrPositionClosed) {
				r.logger.Error("auto close failed", "portfolio_id", p.ID, "position_id", pos.ID, "error", err)
			}
		}
		if r.monitorDue(p.ID) {
			if _, err := r.risk.Monitor(ctx, p.ID); err != nil {
				r.logger.Error("monitor", "portfolio_id", p.ID, "error", err)
			}
		}
	}
}

func (r *Reviewer) monitorDue(portfolioID uint) bool {
	r.monMu.Lock()
	defer r.monMu.Unlock()
	now := r.now()
	if last, ok := r.lastMonitor[portfolioID]; ok && now.Sub(last) < monitorEvery {
		return false
	}
	r.lastMonitor[portfolioID] = now
	return true
}

// CloseAll flattens every open position of the portfolio at current prices.
func (r *Reviewer) CloseAll(ctx context.Context, portfolioID uint, reason string) ([]ledger.Closed, error) {
	positions, err := r.ledger.OpenPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	var (
		out  []ledger.Closed
		errs []error
	)
	for _, pos := range positions {
		price, err := r.prices.CurrentPrice(ctx, pos.Symbol)
		if err != nil {
			r.logger.Warn("price unavailable, closing at last mark", "symbol", pos.Symbol, "error", err)
			price = pos.CurrentPrice
			if price <= 0 {
				price = pos.EntryPrice
			}
		}
		c, err := r.closePosition(ctx, pos, price, reason)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pos.Symbol, err))
			continue
		}
		out = append(out, c)
	}
	return out, errors.Join(errs...)
}

// SnapshotAll records a performance snapshot for every active portfolio.
func (r *Reviewer) SnapshotAll(ctx context.Context) error {
	ports, err := r.ledger.ActivePortfolios(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range ports {
		if _, err := r.ledger.RecordSnapshot(ctx, p.ID); err != nil {
			errs = append(errs, fmt.Errorf("portfolio %d: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Reviewer) closeByID(ctx context.Context, portfolioID, positionID uint, price float64, reason string) (ledger.Closed, error) {
	positions, err := r.ledger.OpenPositions(ctx, portfolioID)
	if err != nil {
		return ledger.Closed{}, err
	}
	for _, pos := range positions {
		if pos.ID == positionID {
			return r.closePosition(ctx, pos, price, reason)
		}
	}
	return ledger.Closed{}, fmt.Errorf("position %d: %w", positionID, ledger.ErrPositionClosed)
}

// closePosition validates, simulates and books the exit of pos.
func (r *Reviewer) closePosition(ctx context.Context, pos storage.Position, price float64, reason string) (ledger.Closed, error) {
	ok, reasons, err := r.risk.ValidateTrade(ctx, pos.PortfolioID, risk.CloseProposal(pos, price))
	if err != nil {
		return ledger.Closed{}, err
	}
	if !ok {
		return ledger.Closed{}, fmt.Errorf("close rejected: %v", reasons)
	}

	port, err := r.ledger.Portfolio(ctx, pos.PortfolioID)
	if err != nil {
		return ledger.Closed{}, err
	}

	fill, err := r.executor.Execute(ctx, execution.Order{
		ID:             id.Prefixed("ord"),
		Symbol:         pos.Symbol,
		Side:           execution.SideFor(pos.Side, true),
		Quantity:       pos.Quantity,
		ReferencePrice: price,
		Mode:           port.ExecutionMode,
		SignalAt:       time.Now().UTC(),
	})
	if err != nil {
		return ledger.Closed{}, fmt.Errorf("simulate close: %w", err)
	}

	c, err := r.ledger.Close(ctx, ledger.CloseRequest{
		PositionID: pos.ID,
		ExitPrice:  fill.FilledPrice,
		Commission: fill.Commission,
		Reason:     reason,
	})
	if err != nil {
		return ledger.Closed{}, err
	}

	if err := r.repo.RecordExecutionQuality(ctx, qualityRecord(c.TradeID, fill)); err != nil {
		r.logger.Error("record execution quality", "trade_id", c.TradeID, "error", err)
	}
	if _, err := r.risk.Reconcile(ctx, pos.PortfolioID, c.TradeID, pos.Symbol, fill); err != nil {
		r.logger.Error("reconcile fill", "trade_id", c.TradeID, "error", err)
	}
	r.notifyClosed(ctx, c)
	return c, nil
}

func levelReason(k risk.AlertKind) string {
	switch k {
	case risk.AlertStopLoss:
		return ReasonStopLoss
	case risk.AlertTakeProfit:
		return ReasonTakeProfit
	default:
		return ""
	}
}

func symbolsOf(positions []storage.Position) []string {
	seen := make(map[string]bool, len(positions))
	var out []string
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	sort.Strings(out)
	return out
}
