package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "nested", "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return NewRepository(db)
}

func createPortfolio(t *testing.T, r *Repository) uint {
	t.Helper()
	id, err := r.CreatePortfolio(context.Background(), &Portfolio{
		Name: "main", StartingCapital: 1000, CurrentEquity: 1000, ExecutionMode: ModeInstant,
	})
	require.NoError(t, err)
	return id
}

func TestGetters_NotFoundIsNil(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	p, err := r.GetPortfolio(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, p)

	pos, err := r.GetPositionBySymbol(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, pos)

	snap, err := r.GetLatestSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUpdatePortfolioEquity_KeepsPeak(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	id := createPortfolio(t, r)

	p, err := r.GetPortfolio(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, p.PeakEquity)
	assert.True(t, p.IsActive)

	require.NoError(t, r.UpdatePortfolioEquity(ctx, id, 1500))
	require.NoError(t, r.UpdatePortfolioEquity(ctx, id, 700))

	p, err = r.GetPortfolio(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 700.0, p.CurrentEquity)
	assert.Equal(t, 1500.0, p.PeakEquity)

	assert.ErrorIs(t, r.UpdatePortfolioEquity(ctx, id+1, 1), ErrNotUpdated)
}

func TestClosePosition_OnlyOpenRows(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	pid := createPortfolio(t, r)

	posID, err := r.OpenPosition(ctx, &Position{
		PortfolioID: pid, Symbol: "ETHUSDT", Side: SideLong, EntryPrice: 100, Quantity: 1, CurrentPrice: 100,
	})
	require.NoError(t, err)

	require.NoError(t, r.UpdatePositionPrice(ctx, posID, 105, 5))
	open, err := r.GetOpenPositions(ctx, pid)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 5.0, open[0].UnrealizedPnL)

	now := time.Now().UTC()
	require.NoError(t, r.ClosePosition(ctx, posID, 110, 10, now))
	assert.ErrorIs(t, r.ClosePosition(ctx, posID, 120, 20, now), ErrNotUpdated)

	pos, err := r.GetPosition(ctx, posID)
	require.NoError(t, err)
	assert.False(t, pos.IsOpen)
	assert.Equal(t, 10.0, pos.RealizedPnL)
	assert.Zero(t, pos.UnrealizedPnL)
}

func TestSetCircuitBreaker_Timestamps(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	id := createPortfolio(t, r)

	at := time.Now().UTC()
	require.NoError(t, r.SetCircuitBreaker(ctx, id, true, at))
	p, err := r.GetPortfolio(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.CircuitBreakerActive)
	require.NotNil(t, p.BreakerTrippedAt)
	assert.Nil(t, p.BreakerResetAt)

	require.NoError(t, r.SetCircuitBreaker(ctx, id, false, at.Add(time.Minute)))
	p, err = r.GetPortfolio(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.CircuitBreakerActive)
	require.NotNil(t, p.BreakerResetAt)
}

func TestRiskEvents_CountAndFilter(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	pid := createPortfolio(t, r)

	for _, sev := range []string{SeverityCritical, SeverityCritical, SeverityWarning} {
		require.NoError(t, r.LogRiskEvent(ctx, &RiskEvent{
			PortfolioID: pid, EventType: EventPreTradeBlock, Severity: sev, RuleType: "position_size",
		}))
	}

	since := time.Now().UTC().Add(-time.Hour)
	n, err := r.CountRiskEventsSince(ctx, pid, since, SeverityCritical)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = r.CountRiskEventsSince(ctx, pid, time.Now().UTC().Add(time.Hour), SeverityCritical)
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := r.GetRiskViolations(ctx, pid, 1, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	warn, err := r.GetRiskViolations(ctx, pid, 24, SeverityWarning)
	require.NoError(t, err)
	assert.Len(t, warn, 1)
}

func TestTradeStats(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	pid := createPortfolio(t, r)

	for _, pnl := range []float64{50, -20, 30} {
		_, err := r.RecordTrade(ctx, &Trade{
			PortfolioID: pid, Symbol: "BTCUSDT", Action: ActionClose, Side: SideLong, Price: 1, Quantity: 1, RealizedPnL: pnl,
		})
		require.NoError(t, err)
	}
	_, err := r.RecordTrade(ctx, &Trade{PortfolioID: pid, Symbol: "BTCUSDT", Action: ActionOpen, Side: SideLong, Price: 1, Quantity: 1})
	require.NoError(t, err)

	stats, err := r.GetTradeStats(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Closed)
	assert.Equal(t, int64(2), stats.Winners)
	assert.Equal(t, 60.0, stats.RealizedPnL)

	recent, err := r.GetRecentTrades(ctx, pid, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestInTx_RollsBack(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	pid := createPortfolio(t, r)

	err := r.InTx(ctx, func(tx *Repository) error {
		if err := tx.UpdatePortfolioEquity(ctx, pid, 5000); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	p, err := r.GetPortfolio(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, p.CurrentEquity)
}
