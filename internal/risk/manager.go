package risk

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/execution"
	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/storage"
)

var ErrInvalidProposal = errors.New("invalid trade proposal")

// criticalWindow is the trailing window for counting CRITICAL violations.
const criticalWindow = time.Hour

// Manager combines pre-trade validation, continuous monitoring and the circuit
// breaker. It reads portfolio state from the ledger and never mutates it except
// through the ledger's breaker call.
type Manager struct {
	ledger *ledger.Ledger
	repo   *storage.Repository
	cfg    *config.Config
	logger *logger.Logger
	now    func() time.Time

	hookMu sync.RWMutex
	onTrip []func(ctx context.Context, ev TripEvent)
}

func NewManager(l *ledger.Ledger, repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{
		ledger: l,
		repo:   repo,
		cfg:    cfg,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnTrip registers fn to run after the breaker moves to ACTIVE.
func (m *Manager) OnTrip(fn func(ctx context.Context, ev TripEvent)) {
	m.hookMu.Lock()
	m.onTrip = append(m.onTrip, fn)
	m.hookMu.Unlock()
}

func (m *Manager) logEvent(ctx context.Context, e *storage.RiskEvent) error {
	if err := m.repo.LogRiskEvent(ctx, e); err != nil {
		return fmt.Errorf("log risk event: %w", err)
	}
	return nil
}

func (m *Manager) BreakerState(ctx context.Context, portfolioID uint) (BreakerState, error) {
	p, err := m.ledger.Portfolio(ctx, portfolioID)
	if err != nil {
		return "", err
	}
	if p.CircuitBreakerActive {
		return BreakerActive, nil
	}
	return BreakerReady, nil
}

// evaluateBreaker returns whether the breaker is ACTIVE, tripping it first if
// any trip condition holds. A portfolio already ACTIVE is left untouched.
func (m *Manager) evaluateBreaker(ctx context.Context, st *ledger.State) (bool, error) {
	p := st.Portfolio
	if p.CircuitBreakerActive {
		return true, nil
	}

	ev, err := m.tripCondition(ctx, st)
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}

	changed, err := m.ledger.SetCircuitBreaker(ctx, p.ID, true)
	if err != nil {
		return false, err
	}
	if !changed {
		return true, nil
	}

	m.logger.Warn("circuit breaker tripped",
		"portfolio_id", p.ID,
		"rule", ev.Rule,
		"value", ev.Value,
		"limit", ev.Limit)

	if err := m.logEvent(ctx, &storage.RiskEvent{
		PortfolioID:  p.ID,
		EventType:    storage.EventCircuitBreaker,
		Severity:     storage.SeverityCritical,
		RuleType:     ev.Rule,
		RuleLimit:    ev.Limit,
		CurrentValue: ev.Value,
		Message:      ev.Reason,
	}); err != nil {
		return true, err
	}

	m.hookMu.RLock()
	hooks := slices.Clone(m.onTrip)
	m.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, *ev)
	}
	return true, nil
}

func (m *Manager) tripCondition(ctx context.Context, st *ledger.State) (*TripEvent, error) {
	p := st.Portfolio
	if lim := p.MaxDrawdownPct; lim > 0 && st.DrawdownPct >= lim {
		return &TripEvent{
			PortfolioID: p.ID, Rule: RuleDrawdown, Value: st.DrawdownPct, Limit: lim,
			Reason: fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", st.DrawdownPct, lim),
		}, nil
	}
	if lim := p.MaxDailyLossPct; lim > 0 && st.DailyLossPct >= lim {
		return &TripEvent{
			PortfolioID: p.ID, Rule: RuleDailyLoss, Value: st.DailyLossPct, Limit: lim,
			Reason: fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", st.DailyLossPct, lim),
		}, nil
	}

	threshold := m.cfg.Risk.CriticalViolationThreshold
	if threshold <= 0 {
		return nil, nil
	}
	since := m.now().Add(-criticalWindow)
	if p.BreakerResetAt != nil && p.BreakerResetAt.After(since) {
		since = *p.BreakerResetAt
	}
	n, err := m.repo.CountRiskEventsSince(ctx, p.ID, since, storage.SeverityCritical)
	if err != nil {
		return nil, fmt.Errorf("count critical events: %w", err)
	}
	if n >= int64(threshold) {
		return &TripEvent{
			PortfolioID: p.ID, Rule: RuleCriticalViolations, Value: float64(n), Limit: float64(threshold),
			Reason: fmt.Sprintf("%d critical violations in the last hour", n),
		}, nil
	}
	return nil, nil
}

// EquityChanged is a ledger equity observer. It trips the breaker as soon as a
// booked loss crosses a hard limit instead of waiting for the next check.
func (m *Manager) EquityChanged(ctx context.Context, ch ledger.EquityChange) {
	st, err := m.ledger.State(ctx, ch.PortfolioID)
	if err != nil {
		m.logger.Error("load state after equity change", "portfolio_id", ch.PortfolioID, "error", err)
		return
	}
	if _, err := m.evaluateBreaker(ctx, st); err != nil {
		m.logger.Error("evaluate breaker after equity change", "portfolio_id", ch.PortfolioID, "error", err)
	}
}

// ResetBreaker is the only way back to READY.
func (m *Manager) ResetBreaker(ctx context.Context, portfolioID uint) (bool, error) {
	changed, err := m.ledger.SetCircuitBreaker(ctx, portfolioID, false)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	m.logger.Info("circuit breaker reset", "portfolio_id", portfolioID)
	if err := m.logEvent(ctx, &storage.RiskEvent{
		PortfolioID: portfolioID,
		EventType:   storage.EventCircuitBreaker,
		Severity:    storage.SeverityInfo,
		RuleType:    RuleCircuitBreaker,
		Message:     "manual reset",
	}); err != nil {
		return true, err
	}
	return true, nil
}

type violation struct {
	rule    string
	limit   float64
	current float64
	reason  string
}

// ValidateTrade runs the pre-trade checks. CLOSE proposals always pass. While
// the breaker is ACTIVE every other proposal fails with ReasonBreakerActive
// alone. Otherwise every failing check is reported, in a fixed order.
func (m *Manager) ValidateTrade(ctx context.Context, portfolioID uint, p TradeProposal) (bool, []string, error) {
	if p.PositionType == PositionClose {
		return true, nil, nil
	}
	st, err := m.ledger.State(ctx, portfolioID)
	if err != nil {
		return false, nil, err
	}

	active, err := m.evaluateBreaker(ctx, st)
	if err != nil {
		return false, nil, err
	}
	if active {
		if err := m.block(ctx, portfolioID, p.Symbol, violation{
			rule: RuleCircuitBreaker, current: 1, limit: 0, reason: ReasonBreakerActive,
		}); err != nil {
			return false, nil, err
		}
		return false, []string{ReasonBreakerActive}, nil
	}
	if !(p.Quantity > 0) || !(p.Price > 0) {
		return false, nil, fmt.Errorf("%w: qty %v price %v", ErrInvalidProposal, p.Quantity, p.Price)
	}

	vs := m.checkLimits(st, p)
	if len(vs) == 0 {
		return true, nil, nil
	}

	reasons := make([]string, 0, len(vs))
	for _, v := range vs {
		if err := m.block(ctx, portfolioID, p.Symbol, v); err != nil {
			return false, nil, err
		}
		reasons = append(reasons, v.reason)
	}
	return false, reasons, nil
}

func (m *Manager) block(ctx context.Context, portfolioID uint, symbol string, v violation) error {
	m.logger.Info("trade blocked", "portfolio_id", portfolioID, "symbol", symbol, "rule", v.rule, "reason", v.reason)
	return m.logEvent(ctx, &storage.RiskEvent{
		PortfolioID:  portfolioID,
		EventType:    storage.EventPreTradeBlock,
		Severity:     storage.SeverityCritical,
		RuleType:     v.rule,
		RuleLimit:    v.limit,
		CurrentValue: v.current,
		Symbol:       symbol,
		Message:      v.reason,
	})
}

// checkLimits evaluates size, exposure, daily loss and drawdown in that order.
// A limit of zero disables its check.
func (m *Manager) checkLimits(st *ledger.State, p TradeProposal) []violation {
	port := st.Portfolio
	equity := port.CurrentEquity
	notional := p.Notional()
	var out []violation

	pct := func(v float64) float64 {
		if equity <= 0 {
			return 100
		}
		return v / equity * 100
	}

	if lim := port.MaxPositionSizePct; lim > 0 && exceeds(notional, equity*lim/100) {
		cur := pct(notional)
		out = append(out, violation{
			rule: RulePositionSize, limit: lim, current: cur,
			reason: fmt.Sprintf("position size %.2f%% exceeds limit %.2f%%", cur, lim),
		})
	}
	if lim := port.MaxTotalExposurePct; lim > 0 && exceeds(st.OpenNotional+notional, equity*lim/100) {
		cur := pct(st.OpenNotional + notional)
		out = append(out, violation{
			rule: RuleTotalExposure, limit: lim, current: cur,
			reason: fmt.Sprintf("total exposure %.2f%% exceeds limit %.2f%%", cur, lim),
		})
	}
	if lim := port.MaxDailyLossPct; lim > 0 && st.DailyLossPct > lim {
		out = append(out, violation{
			rule: RuleDailyLoss, limit: lim, current: st.DailyLossPct,
			reason: fmt.Sprintf("daily loss %.2f%% exceeds limit %.2f%%", st.DailyLossPct, lim),
		})
	}
	if lim := port.MaxDrawdownPct; lim > 0 && st.DrawdownPct > lim {
		out = append(out, violation{
			rule: RuleDrawdown, limit: lim, current: st.DrawdownPct,
			reason: fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", st.DrawdownPct, lim),
		})
	}
	return out
}

// exceeds allows a relative 1e-9 for float rounding at the limit.
func exceeds(v, limit float64) bool {
	return v > limit*(1+1e-9)
}

// Reconcile audits a fill after the fact. It reports whether slippage exceeded
// the tolerance; the fill itself stands either way.
func (m *Manager) Reconcile(ctx context.Context, portfolioID, tradeID uint, symbol string, res execution.Result) (bool, error) {
	tol := m.cfg.Risk.SlippageTolerancePct
	if res.SlippagePct <= tol {
		return false, nil
	}

	m.logger.Warn("slippage above tolerance",
		"portfolio_id", portfolioID,
		"trade_id", tradeID,
		"symbol", symbol,
		"slippage_pct", res.SlippagePct,
		"tolerance_pct", tol)

	tid := tradeID
	err := m.logEvent(ctx, &storage.RiskEvent{
		PortfolioID:  portfolioID,
		EventType:    storage.EventPostTradeViolation,
		Severity:     storage.SeverityWarning,
		RuleType:     RuleSlippage,
		RuleLimit:    tol,
		CurrentValue: res.SlippagePct,
		Symbol:       symbol,
		TradeID:      &tid,
		Message:      fmt.Sprintf("slippage %.3f%% above tolerance %.3f%%", res.SlippagePct, tol),
	})
	return true, err
}

// Violations lists audit events for the trailing hours, newest first.
func (m *Manager) Violations(ctx context.Context, portfolioID uint, hours int, severity string) ([]storage.RiskEvent, error) {
	items, err := m.repo.GetRiskViolations(ctx, portfolioID, hours, severity)
	if err != nil {
		return nil, fmt.Errorf("get risk violations: %w", err)
	}
	return items, nil
}
