package risk

import (
	"context"
	"fmt"

	"github.com/camuig/momentum-trader/internal/storage"
)

// Monitor checks open positions against their stop and target, warns when
// exposure or drawdown reach the warning share of their limits, and trips the
// breaker when a hard limit is hit. Repeated calls on unchanged state return
// the same alerts and trip nothing twice.
func (m *Manager) Monitor(ctx context.Context, portfolioID uint) ([]Alert, error) {
	st, err := m.ledger.State(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	var alerts []Alert
	for _, pos := range st.Positions {
		alerts = append(alerts, LevelAlerts(pos)...)
	}

	port := st.Portfolio
	ratio := m.cfg.Risk.WarningRatio
	if lim := port.MaxTotalExposurePct; lim > 0 && st.ExposurePct >= lim*ratio {
		alerts = append(alerts, Alert{
			Kind:    AlertExposureNear,
			Value:   st.ExposurePct,
			Limit:   lim,
			Message: fmt.Sprintf("exposure %.2f%% is at %.0f%% of limit %.2f%%", st.ExposurePct, st.ExposurePct/lim*100, lim),
		})
	}
	if lim := port.MaxDrawdownPct; lim > 0 && st.DrawdownPct >= lim*ratio {
		alerts = append(alerts, Alert{
			Kind:    AlertDrawdownNear,
			Value:   st.DrawdownPct,
			Limit:   lim,
			Message: fmt.Sprintf("drawdown %.2f%% is at %.0f%% of limit %.2f%%", st.DrawdownPct, st.DrawdownPct/lim*100, lim),
		})
	}

	for _, a := range alerts {
		if err := m.logEvent(ctx, &storage.RiskEvent{
			PortfolioID:  portfolioID,
			EventType:    storage.EventLimitWarning,
			Severity:     storage.SeverityWarning,
			RuleType:     ruleFor(a.Kind),
			RuleLimit:    a.Limit,
			CurrentValue: a.Value,
			Symbol:       a.Symbol,
			Message:      a.Message,
		}); err != nil {
			return nil, err
		}
	}

	active, err := m.evaluateBreaker(ctx, st)
	if err != nil {
		return nil, err
	}
	if active {
		alerts = append(alerts, Alert{Kind: AlertBreakerActive, Message: ReasonBreakerActive})
	}
	return alerts, nil
}

// LevelAlerts reports the stop and target levels pos has touched at its current price.
func LevelAlerts(pos storage.Position) []Alert {
	price := pos.CurrentPrice
	if price <= 0 {
		return nil
	}
	long := pos.Side == storage.SideLong

	var out []Alert
	if sl := pos.StopLoss; sl > 0 && ((long && price <= sl) || (!long && price >= sl)) {
		out = append(out, Alert{
			Kind: AlertStopLoss, Symbol: pos.Symbol, PositionID: pos.ID, Value: price, Limit: sl,
			Message: fmt.Sprintf("%s %s price %.4f touched stop %.4f", pos.Symbol, pos.Side, price, sl),
		})
	}
	if tp := pos.TakeProfit; tp > 0 && ((long && price >= tp) || (!long && price <= tp)) {
		out = append(out, Alert{
			Kind: AlertTakeProfit, Symbol: pos.Symbol, PositionID: pos.ID, Value: price, Limit: tp,
			Message: fmt.Sprintf("%s %s price %.4f touched target %.4f", pos.Symbol, pos.Side, price, tp),
		})
	}
	return out
}

func ruleFor(k AlertKind) string {
	switch k {
	case AlertStopLoss:
		return RuleStopLoss
	case AlertTakeProfit:
		return RuleTakeProfit
	case AlertExposureNear:
		return RuleTotalExposure
	case AlertDrawdownNear:
		return RuleDrawdown
	default:
		return RuleCircuitBreaker
	}
}
