package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/camuig/momentum-trader/internal/storage"
)

type OpenRequest struct {
	PortfolioID uint
	Symbol      string
	Side        string
	EntryPrice  float64
	Quantity    float64
	StopLoss    float64
	TakeProfit  float64
	Commission  float64
	Reason      string
	// EnforceLimits re-checks size, exposure, drawdown and daily loss against
	// the portfolio limits inside the open transaction.
	EnforceLimits bool
}

type Opened struct {
	Position storage.Position
	TradeID  uint
}

func validOrder(side string, price, qty float64) error {
	if side != storage.SideLong && side != storage.SideShort {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, side)
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: price %v", ErrInvalidOrder, price)
	}
	if !(qty > 0) || math.IsInf(qty, 0) {
		return fmt.Errorf("%w: quantity %v", ErrInvalidOrder, qty)
	}
	return nil
}

// OpenPosition records a filled entry. It fails with ErrDuplicatePosition when
// the portfolio already holds an open position in the symbol, with
// ErrBreakerActive while the breaker is tripped and, with EnforceLimits set,
// with ErrLimitExceeded when the fill breaks a portfolio limit.
func (l *Ledger) OpenPosition(ctx context.Context, req OpenRequest) (Opened, error) {
	req.Side = strings.ToUpper(req.Side)
	if err := validOrder(req.Side, req.EntryPrice, req.Quantity); err != nil {
		return Opened{}, err
	}
	if req.Commission < 0 {
		return Opened{}, fmt.Errorf("%w: negative commission", ErrInvalidOrder)
	}

	unlock := l.lock(req.PortfolioID)
	var (
		out    Opened
		change *EquityChange
	)
	err := l.repo.InTx(ctx, func(tx *storage.Repository) error {
		p, err := tx.GetPortfolio(ctx, req.PortfolioID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("portfolio %d: %w", req.PortfolioID, ErrPortfolioNotFound)
		}
		if !p.IsActive {
			return fmt.Errorf("portfolio %d: %w", req.PortfolioID, ErrPortfolioInactive)
		}

		if p.CircuitBreakerActive {
			return fmt.Errorf("portfolio %d: %w", req.PortfolioID, ErrBreakerActive)
		}

		open, err := tx.GetOpenPositions(ctx, req.PortfolioID)
		if err != nil {
			return err
		}
		for i := range open {
			if open[i].Symbol == req.Symbol {
				return fmt.Errorf("%s: %w", req.Symbol, ErrDuplicatePosition)
			}
		}
		if req.EnforceLimits {
			if err := entryLimits(p, open, req.EntryPrice*req.Quantity); err != nil {
				return err
			}
		}

		pos := &storage.Position{
			PortfolioID:  req.PortfolioID,
			Symbol:       req.Symbol,
			Side:         req.Side,
			EntryPrice:   req.EntryPrice,
			Quantity:     req.Quantity,
			CurrentPrice: req.EntryPrice,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			OpenedAt:     l.now(),
		}
		if _, err := tx.OpenPosition(ctx, pos); err != nil {
			return err
		}

		tradeID, err := tx.RecordTrade(ctx, &storage.Trade{
			PortfolioID: req.PortfolioID,
			PositionID:  pos.ID,
			Symbol:      req.Symbol,
			Action:      storage.ActionOpen,
			Side:        req.Side,
			Price:       req.EntryPrice,
			Quantity:    req.Quantity,
			Commission:  req.Commission,
			Reason:      req.Reason,
		})
		if err != nil {
			return err
		}

		if req.Commission > 0 {
			eq := decimal.NewFromFloat(p.CurrentEquity).Sub(decimal.NewFromFloat(req.Commission))
			c, err := writeEquity(ctx, tx, req.PortfolioID, eq)
			if err != nil {
				return err
			}
			change = &c
		}

		out = Opened{Position: *pos, TradeID: tradeID}
		return nil
	})
	unlock()
	if err != nil {
		return Opened{}, fmt.Errorf("open position: %w", err)
	}

	l.logger.Info("position opened",
		"portfolio_id", req.PortfolioID,
		"position_id", out.Position.ID,
		"symbol", req.Symbol,
		"side", req.Side,
		"price", req.EntryPrice,
		"qty", req.Quantity)

	if change != nil {
		l.notify(ctx, *change)
	}
	return out, nil
}

// entryLimits re-checks the entry against the portfolio's hard limits at the
// filled price. A limit of zero disables its check.
func entryLimits(p *storage.Portfolio, open []storage.Position, notional float64) error {
	equity := p.CurrentEquity
	if lim := p.MaxDrawdownPct; lim > 0 && DrawdownPct(p.PeakEquity, equity) >= lim {
		return fmt.Errorf("%w: drawdown %.2f%% at limit %.2f%%", ErrLimitExceeded, DrawdownPct(p.PeakEquity, equity), lim)
	}
	if lim := p.MaxDailyLossPct; lim > 0 && DailyLossPct(p.StartingCapital, equity) >= lim {
		return fmt.Errorf("%w: daily loss %.2f%% at limit %.2f%%", ErrLimitExceeded, DailyLossPct(p.StartingCapital, equity), lim)
	}
	if equity <= 0 {
		return fmt.Errorf("%w: equity %.2f", ErrLimitExceeded, equity)
	}
	if lim := p.MaxPositionSizePct; lim > 0 && above(notional, equity*lim/100) {
		return fmt.Errorf("%w: position size %.2f%% over %.2f%%", ErrLimitExceeded, notional/equity*100, lim)
	}
	if lim := p.MaxTotalExposurePct; lim > 0 {
		total := Notional(open) + notional
		if above(total, equity*lim/100) {
			return fmt.Errorf("%w: total exposure %.2f%% over %.2f%%", ErrLimitExceeded, total/equity*100, lim)
		}
	}
	return nil
}

// above allows a relative 1e-9 for float rounding at the limit.
func above(v, limit float64) bool {
	return v > limit*(1+1e-9)
}

type CloseRequest struct {
	PositionID uint
	ExitPrice  float64
	Commission float64
	Reason     string
}

type Closed struct {
	Position    storage.Position
	TradeID     uint
	RealizedPnL float64
}

// ClosePosition closes the position at exitPrice and folds the realized P&L
// into equity.
func (l *Ledger) ClosePosition(ctx context.Context, positionID uint, exitPrice float64, reason string) (float64, error) {
	c, err := l.Close(ctx, CloseRequest{PositionID: positionID, ExitPrice: exitPrice, Reason: reason})
	if err != nil {
		return 0, err
	}
	return c.RealizedPnL, nil
}

// Close is ClosePosition with commission and the resulting trade record.
func (l *Ledger) Close(ctx context.Context, req CloseRequest) (Closed, error) {
	if !(req.ExitPrice > 0) || math.IsInf(req.ExitPrice, 0) {
		return Closed{}, fmt.Errorf("close position: %w: exit price %v", ErrInvalidOrder, req.ExitPrice)
	}

	owner, err := l.repo.GetPosition(ctx, req.PositionID)
	if err != nil {
		return Closed{}, fmt.Errorf("close position: %w", err)
	}
	if owner == nil {
		return Closed{}, fmt.Errorf("close position %d: %w", req.PositionID, ErrPositionNotFound)
	}

	unlock := l.lock(owner.PortfolioID)
	var (
		out    Closed
		change EquityChange
	)
	err = l.repo.InTx(ctx, func(tx *storage.Repository) error {
		pos, err := tx.GetPosition(ctx, req.PositionID)
		if err != nil {
			return err
		}
		if pos == nil {
			return fmt.Errorf("position %d: %w", req.PositionID, ErrPositionNotFound)
		}
		if !pos.IsOpen {
			return fmt.Errorf("position %d: %w", req.PositionID, ErrPositionClosed)
		}

		p, err := tx.GetPortfolio(ctx, pos.PortfolioID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("portfolio %d: %w", pos.PortfolioID, ErrPortfolioNotFound)
		}

		pnl := PnL(pos.Side, pos.EntryPrice, req.ExitPrice, pos.Quantity)
		closedAt := l.now()
		if err := tx.ClosePosition(ctx, pos.ID, req.ExitPrice, pnl.InexactFloat64(), closedAt); err != nil {
			if errors.Is(err, storage.ErrNotUpdated) {
				return fmt.Errorf("position %d: %w", pos.ID, ErrPositionClosed)
			}
			return err
		}

		tradeID, err := tx.RecordTrade(ctx, &storage.Trade{
			PortfolioID: pos.PortfolioID,
			PositionID:  pos.ID,
			Symbol:      pos.Symbol,
			Action:      storage.ActionClose,
			Side:        pos.Side,
			Price:       req.ExitPrice,
			Quantity:    pos.Quantity,
			Commission:  req.Commission,
			RealizedPnL: pnl.InexactFloat64(),
			Reason:      req.Reason,
		})
		if err != nil {
			return err
		}

		eq := decimal.NewFromFloat(p.CurrentEquity).Add(pnl).Sub(decimal.NewFromFloat(req.Commission))
		change, err = writeEquity(ctx, tx, pos.PortfolioID, eq)
		if err != nil {
			return err
		}

		pos.IsOpen = false
		pos.ExitPrice = req.ExitPrice
		pos.CurrentPrice = req.ExitPrice
		pos.RealizedPnL = pnl.InexactFloat64()
		pos.UnrealizedPnL = 0
		pos.ClosedAt = &closedAt
		out = Closed{Position: *pos, TradeID: tradeID, RealizedPnL: pos.RealizedPnL}
		return nil
	})
	unlock()
	if err != nil {
		return Closed{}, fmt.Errorf("close position: %w", err)
	}

	l.logger.Info("position closed",
		"portfolio_id", out.Position.PortfolioID,
		"position_id", out.Position.ID,
		"symbol", out.Position.Symbol,
		"exit", req.ExitPrice,
		"pnl", out.RealizedPnL,
		"reason", req.Reason)

	l.notify(ctx, change)
	return out, nil
}

// MarkToMarket refreshes the open position in symbol. It returns nil when the
// portfolio holds no open position there. Realized equity is untouched.
func (l *Ledger) MarkToMarket(ctx context.Context, portfolioID uint, symbol string, price float64) (*storage.Position, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("mark to market: %w: price %v", ErrInvalidOrder, price)
	}

	unlock := l.lock(portfolioID)
	defer unlock()

	var out *storage.Position
	err := l.repo.InTx(ctx, func(tx *storage.Repository) error {
		pos, err := tx.GetPositionBySymbol(ctx, portfolioID, symbol)
		if err != nil || pos == nil {
			return err
		}
		upnl := PnL(pos.Side, pos.EntryPrice, price, pos.Quantity).InexactFloat64()
		if err := tx.UpdatePositionPrice(ctx, pos.ID, price, upnl); err != nil {
			return err
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnL = upnl
		out = pos
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark to market: %w", err)
	}
	return out, nil
}

// PnL is (exit - entry) * qty for longs and the negation for shorts.
func PnL(side string, entry, exit, qty float64) decimal.Decimal {
	d := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry)).Mul(decimal.NewFromFloat(qty))
	if side == storage.SideShort {
		return d.Neg()
	}
	return d
}
