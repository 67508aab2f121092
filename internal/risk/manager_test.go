package risk

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/momentum-trader/internal/ai"
	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/execution"
	"github.com/camuig/momentum-trader/internal/ledger"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/storage"
)

type fixture struct {
	ledger *ledger.Ledger
	repo   *storage.Repository
	risk   *Manager
	cfg    *config.Config
	pid    uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "risk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	cfg := &config.Config{
		Trading: config.TradingConfig{
			MinConfidence:        60,
			DefaultStopLossPct:   3,
			DefaultTakeProfitPct: 6,
		},
		Risk: config.RiskConfig{
			RiskPerTradePct:            5,
			CriticalViolationThreshold: 5,
			WarningRatio:               0.8,
			SlippageTolerancePct:       0.5,
		},
	}

	log := logger.Discard()
	repo := storage.NewRepository(db)
	l := ledger.New(repo, log)
	pid, err := l.CreatePortfolio(context.Background(), ledger.CreateRequest{
		Name:            "risk",
		StartingCapital: 100_000,
		ExecutionMode:   storage.ModeInstant,
		Limits: storage.Limits{
			MaxPositionSizePct:  5,
			MaxTotalExposurePct: 50,
			MaxDailyLossPct:     20,
			MaxDrawdownPct:      10,
		},
	})
	require.NoError(t, err)

	return &fixture{ledger: l, repo: repo, risk: NewManager(l, repo, cfg, log), cfg: cfg, pid: pid}
}

func buy(symbol string, qty, price float64) TradeProposal {
	return TradeProposal{Symbol: symbol, Side: execution.Buy, Quantity: qty, Price: price, PositionType: PositionLong}
}

func countEvents(t *testing.T, f *fixture, eventType string) int {
	t.Helper()
	items, err := f.risk.Violations(context.Background(), f.pid, 24, "")
	require.NoError(t, err)
	n := 0
	for _, e := range items {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func TestValidateTrade_PositionSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ok, reasons, err := f.risk.ValidateTrade(ctx, f.pid, buy("BTCUSDT", 0.1, 60_000))
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "position size 6.00%")

	ok, reasons, err = f.risk.ValidateTrade(ctx, f.pid, buy("BTCUSDT", 0.1, 40_000))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reasons)

	events, err := f.risk.Violations(ctx, f.pid, 1, storage.SeverityCritical)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, storage.EventPreTradeBlock, events[0].EventType)
	assert.Equal(t, RulePositionSize, events[0].RuleType)
	assert.Equal(t, 5.0, events[0].RuleLimit)
}

func TestValidateTrade_CollectsAllViolations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.ledger.OpenPosition(ctx, ledger.OpenRequest{
		PortfolioID: f.pid, Symbol: "ETHUSDT", Side: storage.SideLong, EntryPrice: 1000, Quantity: 48,
	})
	require.NoError(t, err)

	ok, reasons, err := f.risk.ValidateTrade(ctx, f.pid, buy("BTCUSDT", 1, 6_000))
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, reasons, 2)
	assert.Contains(t, reasons[0], "position size")
	assert.Contains(t, reasons[1], "total exposure")
}

func TestValidateTrade_DrawdownTripsBreaker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var trips []TripEvent
	f.risk.OnTrip(func(ctx context.Context, ev TripEvent) { trips = append(trips, ev) })

	require.NoError(t, f.ledger.UpdateEquity(ctx, f.pid, 85_000))

	ok, reasons, err := f.risk.ValidateTrade(ctx, f.pid, buy("BTCUSDT", 0.01, 40_000))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{ReasonBreakerActive}, reasons)

	state, err := f.risk.BreakerState(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, BreakerActive, state)

	require.Len(t, trips, 1)
	assert.Equal(t, RuleDrawdown, trips[0].Rule)
	assert.InDelta(t, 15.0, trips[0].Value, 1e-9)
	assert.Equal(t, 1, countEvents(t, f, storage.EventCircuitBreaker))
}

func TestValidateTrade_BreakerShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.ledger.SetCircuitBreaker(ctx, f.pid, true)
	require.NoError(t, err)

	for _, p := range []TradeProposal{
		buy("BTCUSDT", 0.01, 100),
		buy("BTCUSDT", 10, 60_000),
		buy("BTCUSDT", 0, 100),
		{Symbol: "ETHUSDT", Side: execution.Sell, Quantity: 1, Price: 100, PositionType: PositionShort},
	} {
		ok, reasons, err := f.risk.ValidateTrade(ctx, f.pid, p)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{ReasonBreakerActive}, reasons)
	}

	ok, reasons, err := f.risk.ValidateTrade(ctx, f.pid, TradeProposal{
		Symbol: "BTCUSDT", Side: execution.Sell, Quantity: 10, Price: 60_000, PositionType: PositionClose,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reasons)
}

func TestResetBreaker_ManualOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// five size violations reach the critical threshold
	for i := 0; i < 5; i++ {
		ok, _, err := f.risk.ValidateTrade(ctx, f.pid, buy("BTCUSDT", 1, 60_000))
		require.NoError(t, err)
		assert.False(t, ok)
	}

	ok, reasons, err := f.risk.ValidateTrade(ctx, f.pid, buy("BTCUSDT", 0.1, 40_000))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{ReasonBreakerActive}, reasons)

	// still active on later calls
	ok, _, err = f.risk.ValidateTrade(ctx, f.pid, buy("BTCUSDT", 0.1, 40_000))
	require.NoError(t, err)
	assert.False(t, ok)

	changed, err := f.risk.ResetBreaker(ctx, f.pid)
	require.NoError(t, err)
	assert.True(t, changed)

	ok, reasons, err = f.risk.ValidateTrade(ctx, f.pid, buy("BTCUSDT", 0.1, 40_000))
	require.NoError(t, err)
	assert.True(t, ok, reasons)

	changed, err = f.risk.ResetBreaker(ctx, f.pid)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestValidateTrade_InvalidProposal(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.risk.ValidateTrade(context.Background(), f.pid, buy("BTCUSDT", 0, 100))
	assert.ErrorIs(t, err, ErrInvalidProposal)
}

func TestMonitor_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.ledger.OpenPosition(ctx, ledger.OpenRequest{
		PortfolioID: f.pid, Symbol: "SOLUSDT", Side: storage.SideLong,
		EntryPrice: 100, Quantity: 450, StopLoss: 95, TakeProfit: 120,
	})
	require.NoError(t, err)
	_, err = f.ledger.MarkToMarket(ctx, f.pid, "SOLUSDT", 94)
	require.NoError(t, err)

	first, err := f.risk.Monitor(ctx, f.pid)
	require.NoError(t, err)
	second, err := f.risk.Monitor(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	kinds := make([]AlertKind, 0, len(first))
	for _, a := range first {
		kinds = append(kinds, a.Kind)
	}
	// 450 * 94 = 42,300 on 100,000 equity is above 80% of the 50% limit
	assert.Equal(t, []AlertKind{AlertStopLoss, AlertExposureNear}, kinds)

	state, err := f.risk.BreakerState(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, BreakerReady, state)
	assert.Equal(t, 4, countEvents(t, f, storage.EventLimitWarning))
}

func TestMonitor_TripsBreakerOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.UpdateEquity(ctx, f.pid, 89_000))

	first, err := f.risk.Monitor(ctx, f.pid)
	require.NoError(t, err)
	second, err := f.risk.Monitor(ctx, f.pid)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, AlertDrawdownNear, first[0].Kind)
	assert.Equal(t, AlertBreakerActive, first[1].Kind)
	assert.Equal(t, 1, countEvents(t, f, storage.EventCircuitBreaker))
}

func TestMonitor_ShortLevels(t *testing.T) {
	alerts := LevelAlerts(storage.Position{
		ID: 3, Symbol: "ETHUSDT", Side: storage.SideShort, CurrentPrice: 90, StopLoss: 110, TakeProfit: 92,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTakeProfit, alerts[0].Kind)
	assert.Equal(t, uint(3), alerts[0].PositionID)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	flagged, err := f.risk.Reconcile(ctx, f.pid, 7, "BTCUSDT", execution.Result{SlippagePct: 0.3})
	require.NoError(t, err)
	assert.False(t, flagged)

	flagged, err = f.risk.Reconcile(ctx, f.pid, 7, "BTCUSDT", execution.Result{SlippagePct: 0.7})
	require.NoError(t, err)
	assert.True(t, flagged)

	events, err := f.risk.Violations(ctx, f.pid, 1, storage.SeverityWarning)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, storage.EventPostTradeViolation, events[0].EventType)
	require.NotNil(t, events[0].TradeID)
	assert.Equal(t, uint(7), *events[0].TradeID)
}

func TestAudit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.risk.Audit(ctx, f.pid, AuditRequest{Symbol: "SOLUSDT", Direction: ai.Long, Entry: 100, Confidence: 50})
	require.NoError(t, err)
	rej, ok := d.(Reject)
	require.True(t, ok)
	assert.Contains(t, rej.Reasons[0], "confidence 50")

	d, err = f.risk.Audit(ctx, f.pid, AuditRequest{
		Symbol: "SOLUSDT", Direction: ai.Long, Entry: 100, StopLoss: 95, TakeProfit: 110, Confidence: 80,
	})
	require.NoError(t, err)
	appr, ok := d.(Approve)
	require.True(t, ok, "%#v", d)
	// 5% of 100,000 scaled by 0.8 confidence
	assert.Equal(t, 40.0, appr.Signal.Quantity)
	assert.Equal(t, 95.0, appr.Signal.StopLoss)

	f.cfg.Risk.RiskPerTradePct = 10
	d, err = f.risk.Audit(ctx, f.pid, AuditRequest{Symbol: "SOLUSDT", Direction: ai.Short, Entry: 100, Confidence: 100})
	require.NoError(t, err)
	mod, ok := d.(Modify)
	require.True(t, ok, "%#v", d)
	assert.Equal(t, 50.0, mod.Signal.Quantity)
	assert.InDelta(t, 103.0, mod.Signal.StopLoss, 1e-9)
	assert.InDelta(t, 94.0, mod.Signal.TakeProfit, 1e-9)
	assert.Len(t, mod.Changes, 3)
}

func TestAudit_BreakerActiveRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.ledger.SetCircuitBreaker(ctx, f.pid, true)
	require.NoError(t, err)

	d, err := f.risk.Audit(ctx, f.pid, AuditRequest{
		Symbol: "SOLUSDT", Direction: ai.Long, Entry: 100, StopLoss: 95, TakeProfit: 110, Confidence: 90,
	})
	require.NoError(t, err)
	assert.Equal(t, Reject{Reasons: []string{ReasonBreakerActive}}, d)
}

func TestEquityChanged_TripsOnBookedLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.OnEquityChange(f.risk.EquityChanged)

	var trips []TripEvent
	f.risk.OnTrip(func(ctx context.Context, ev TripEvent) { trips = append(trips, ev) })

	o, err := f.ledger.OpenPosition(ctx, ledger.OpenRequest{
		PortfolioID: f.pid, Symbol: "BTCUSDT", Side: storage.SideLong, EntryPrice: 50_000, Quantity: 1,
	})
	require.NoError(t, err)
	_, err = f.ledger.ClosePosition(ctx, o.Position.ID, 38_000, "stop")
	require.NoError(t, err)

	state, err := f.risk.BreakerState(ctx, f.pid)
	require.NoError(t, err)
	assert.Equal(t, BreakerActive, state)
	require.Len(t, trips, 1)
	assert.Equal(t, RuleDrawdown, trips[0].Rule)
}
