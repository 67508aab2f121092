package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotUpdated is returned by conditional updates that matched no row.
var ErrNotUpdated = errors.New("no rows updated")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InTx runs fn inside a single database transaction. The repository passed to fn
// is bound to that transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func first[T any](q *gorm.DB) (*T, error) {
	var v T
	err := q.First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Portfolios

func (r *Repository) CreatePortfolio(ctx context.Context, p *Portfolio) (uint, error) {
	if p.PeakEquity < p.CurrentEquity {
		p.PeakEquity = p.CurrentEquity
	}
	p.IsActive = true
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (r *Repository) GetPortfolio(ctx context.Context, id uint) (*Portfolio, error) {
	return first[Portfolio](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *Repository) GetPortfolioByName(ctx context.Context, name string) (*Portfolio, error) {
	return first[Portfolio](r.db.WithContext(ctx).Where("name = ?", name))
}

func (r *Repository) ListActivePortfolios(ctx context.Context) ([]Portfolio, error) {
	var items []Portfolio
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&items).Error
	return items, err
}

// UpdatePortfolioEquity writes the new equity and recomputes peak equity in the same statement.
func (r *Repository) UpdatePortfolioEquity(ctx context.Context, id uint, newEquity float64) error {
	res := r.db.WithContext(ctx).Model(&Portfolio{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_equity": newEquity,
			"peak_equity":    gorm.Expr("MAX(peak_equity, ?)", newEquity),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("portfolio %d: %w", id, ErrNotUpdated)
	}
	return nil
}

func (r *Repository) SetCircuitBreaker(ctx context.Context, id uint, active bool, at time.Time) error {
	updates := map[string]any{"circuit_breaker_active": active}
	if active {
		updates["breaker_tripped_at"] = at
	} else {
		updates["breaker_reset_at"] = at
	}
	res := r.db.WithContext(ctx).Model(&Portfolio{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("portfolio %d: %w", id, ErrNotUpdated)
	}
	return nil
}

func (r *Repository) DeactivatePortfolio(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&Portfolio{}).Where("id = ?", id).Update("is_active", false).Error
}

// Positions

func (r *Repository) OpenPosition(ctx context.Context, p *Position) (uint, error) {
	p.IsOpen = true
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

// ClosePosition flips an open position to closed. It only matches open rows.
func (r *Repository) ClosePosition(ctx context.Context, id uint, exitPrice, realizedPnL float64, closedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&Position{}).
		Where("id = ? AND is_open = ?", id, true).
		Updates(map[string]any{
			"is_open":        false,
			"exit_price":     exitPrice,
			"current_price":  exitPrice,
			"realized_pnl":   realizedPnL,
			"unrealized_pnl": 0,
			"closed_at":      closedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("position %d: %w", id, ErrNotUpdated)
	}
	return nil
}

func (r *Repository) UpdatePositionPrice(ctx context.Context, id uint, price, unrealizedPnL float64) error {
	return r.db.WithContext(ctx).Model(&Position{}).
		Where("id = ? AND is_open = ?", id, true).
		Updates(map[string]any{
			"current_price":  price,
			"unrealized_pnl": unrealizedPnL,
		}).Error
}

func (r *Repository) GetPosition(ctx context.Context, id uint) (*Position, error) {
	return first[Position](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *Repository) GetOpenPositions(ctx context.Context, portfolioID uint) ([]Position, error) {
	var items []Position
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND is_open = ?", portfolioID, true).
		Order("opened_at").
		Find(&items).Error
	return items, err
}

func (r *Repository) GetPositionBySymbol(ctx context.Context, portfolioID uint, symbol string) (*Position, error) {
	return first[Position](r.db.WithContext(ctx).
		Where("portfolio_id = ? AND symbol = ? AND is_open = ?", portfolioID, symbol, true).
		Order("opened_at DESC"))
}

// Trades

func (r *Repository) RecordTrade(ctx context.Context, t *Trade) (uint, error) {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (r *Repository) GetTrade(ctx context.Context, id uint) (*Trade, error) {
	return first[Trade](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *Repository) GetRecentTrades(ctx context.Context, portfolioID uint, limit int) ([]Trade, error) {
	var trades []Trade
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC, id DESC").Limit(limit).
		Find(&trades).Error
	return trades, err
}

// TradeStats summarises closing trades: count, winners and realized P&L total.
type TradeStats struct {
	Closed      int64
	Winners     int64
	RealizedPnL float64
}

func (r *Repository) GetTradeStats(ctx context.Context, portfolioID uint) (TradeStats, error) {
	var stats TradeStats
	q := r.db.WithContext(ctx).Model(&Trade{}).Where("portfolio_id = ? AND action = ?", portfolioID, ActionClose)
	if err := q.Count(&stats.Closed).Error; err != nil {
		return stats, err
	}
	if err := r.db.WithContext(ctx).Model(&Trade{}).
		Where("portfolio_id = ? AND action = ? AND realized_pnl > 0", portfolioID, ActionClose).
		Count(&stats.Winners).Error; err != nil {
		return stats, err
	}
	err := r.db.WithContext(ctx).Model(&Trade{}).
		Where("portfolio_id = ? AND action = ?", portfolioID, ActionClose).
		Select("COALESCE(SUM(realized_pnl), 0)").Scan(&stats.RealizedPnL).Error
	return stats, err
}

func (r *Repository) RecordExecutionQuality(ctx context.Context, q *ExecutionQuality) error {
	return r.db.WithContext(ctx).Create(q).Error
}

func (r *Repository) GetExecutionQuality(ctx context.Context, tradeID uint) (*ExecutionQuality, error) {
	return first[ExecutionQuality](r.db.WithContext(ctx).Where("trade_id = ?", tradeID))
}

// Risk audit

func (r *Repository) LogRiskEvent(ctx context.Context, e *RiskEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

// GetRiskViolations returns events for the trailing window, newest first.
// An empty severity matches every severity.
func (r *Repository) GetRiskViolations(ctx context.Context, portfolioID uint, hours int, severity string) ([]RiskEvent, error) {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	q := r.db.WithContext(ctx).Where("portfolio_id = ? AND created_at >= ?", portfolioID, since)
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}
	var items []RiskEvent
	err := q.Order("created_at DESC, id DESC").Find(&items).Error
	return items, err
}

func (r *Repository) CountRiskEventsSince(ctx context.Context, portfolioID uint, since time.Time, severity string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&RiskEvent{}).Where("portfolio_id = ? AND created_at >= ?", portfolioID, since)
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// Performance snapshots

func (r *Repository) SavePerformanceSnapshot(ctx context.Context, s *PerformanceSnapshot) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repository) GetLatestSnapshot(ctx context.Context, portfolioID uint) (*PerformanceSnapshot, error) {
	return first[PerformanceSnapshot](r.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC, id DESC"))
}

// Analysis logs

func (r *Repository) SaveAnalysisLog(ctx context.Context, log *AnalysisLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *Repository) GetRecentAnalysisLogs(ctx context.Context, portfolioID uint, limit int) ([]AnalysisLog, error) {
	var logs []AnalysisLog
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC, id DESC").Limit(limit).
		Find(&logs).Error
	return logs, err
}
