package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/camuig/momentum-trader/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// State is a read-only view of a portfolio and its open positions. It is read
// without the portfolio lock and may be momentarily stale.
type State struct {
	Portfolio     storage.Portfolio
	Positions     []storage.Position
	OpenNotional  float64
	UnrealizedPnL float64
	ExposurePct   float64
	DrawdownPct   float64
	DailyLossPct  float64
}

// ExposurePct is the open notional as a percent of equity. Zero without
// positions or without positive equity.
func ExposurePct(positions []storage.Position, equity float64) float64 {
	if len(positions) == 0 || equity <= 0 {
		return 0
	}
	return decimal.NewFromFloat(Notional(positions)).
		Div(decimal.NewFromFloat(equity)).
		Mul(hundred).
		InexactFloat64()
}

func Notional(positions []storage.Position) float64 {
	total := decimal.Zero
	for i := range positions {
		total = total.Add(decimal.NewFromFloat(positions[i].Notional()))
	}
	return total.InexactFloat64()
}

// DrawdownPct is the decline from peak in percent, 0 when peak is not positive.
func DrawdownPct(peak, equity float64) float64 {
	if peak <= 0 || equity >= peak {
		return 0
	}
	return decimal.NewFromFloat(peak).Sub(decimal.NewFromFloat(equity)).
		Div(decimal.NewFromFloat(peak)).
		Mul(hundred).
		InexactFloat64()
}

// DailyLossPct measures loss against starting capital, not against the
// equity at the start of the day. Gains report 0.
func DailyLossPct(starting, equity float64) float64 {
	if starting <= 0 || equity >= starting {
		return 0
	}
	return decimal.NewFromFloat(starting).Sub(decimal.NewFromFloat(equity)).
		Div(decimal.NewFromFloat(starting)).
		Mul(hundred).
		InexactFloat64()
}

func (l *Ledger) State(ctx context.Context, portfolioID uint) (*State, error) {
	p, err := l.Portfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	positions, err := l.OpenPositions(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	upnl := decimal.Zero
	for i := range positions {
		upnl = upnl.Add(decimal.NewFromFloat(positions[i].UnrealizedPnL))
	}

	return &State{
		Portfolio:     *p,
		Positions:     positions,
		OpenNotional:  Notional(positions),
		UnrealizedPnL: upnl.InexactFloat64(),
		ExposurePct:   ExposurePct(positions, p.CurrentEquity),
		DrawdownPct:   DrawdownPct(p.PeakEquity, p.CurrentEquity),
		DailyLossPct:  DailyLossPct(p.StartingCapital, p.CurrentEquity),
	}, nil
}

func (l *Ledger) ExposurePct(ctx context.Context, portfolioID uint) (float64, error) {
	s, err := l.State(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	return s.ExposurePct, nil
}

func (l *Ledger) DrawdownPct(ctx context.Context, portfolioID uint) (float64, error) {
	p, err := l.Portfolio(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	return DrawdownPct(p.PeakEquity, p.CurrentEquity), nil
}

func (l *Ledger) DailyLossPct(ctx context.Context, portfolioID uint) (float64, error) {
	p, err := l.Portfolio(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	return DailyLossPct(p.StartingCapital, p.CurrentEquity), nil
}

// RecordSnapshot persists the current performance metrics for the portfolio.
func (l *Ledger) RecordSnapshot(ctx context.Context, portfolioID uint) (*storage.PerformanceSnapshot, error) {
	s, err := l.State(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	stats, err := l.repo.GetTradeStats(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("trade stats: %w", err)
	}

	snap := &storage.PerformanceSnapshot{
		PortfolioID:   portfolioID,
		Equity:        s.Portfolio.CurrentEquity,
		PeakEquity:    s.Portfolio.PeakEquity,
		DrawdownPct:   s.DrawdownPct,
		ExposurePct:   s.ExposurePct,
		OpenPositions: len(s.Positions),
		UnrealizedPnL: s.UnrealizedPnL,
		RealizedPnL:   stats.RealizedPnL,
		TotalTrades:   stats.Closed,
	}
	if stats.Closed > 0 {
		snap.WinRate = float64(stats.Winners) / float64(stats.Closed) * 100
	}

	if err := l.repo.SavePerformanceSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return snap, nil
}

// RecentTrades returns up to limit trades, newest first.
func (l *Ledger) RecentTrades(ctx context.Context, portfolioID uint, limit int) ([]storage.Trade, error) {
	trades, err := l.repo.GetRecentTrades(ctx, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	return trades, nil
}
