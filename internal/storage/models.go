package storage

import "time"

const (
	ModeInstant    = "INSTANT"
	ModeRealistic  = "REALISTIC"
	ModeHistorical = "HISTORICAL"

	SideLong  = "LONG"
	SideShort = "SHORT"

	ActionOpen  = "OPEN"
	ActionClose = "CLOSE"

	EventPreTradeBlock      = "PRE_TRADE_BLOCK"
	EventLimitWarning       = "LIMIT_WARNING"
	EventPostTradeViolation = "POST_TRADE_VIOLATION"
	EventCircuitBreaker     = "CIRCUIT_BREAKER"

	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

type Portfolio struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name            string  `gorm:"uniqueIndex;not null" json:"name"`
	StartingCapital float64 `gorm:"not null" json:"starting_capital"`
	CurrentEquity   float64 `gorm:"not null" json:"current_equity"`
	PeakEquity      float64 `gorm:"not null" json:"peak_equity"`
	ExecutionMode   string  `gorm:"not null;default:'REALISTIC'" json:"execution_mode"`

	MaxPositionSizePct  float64 `json:"max_position_size_pct"`
	MaxTotalExposurePct float64 `json:"max_total_exposure_pct"`
	MaxDailyLossPct     float64 `json:"max_daily_loss_pct"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`

	CircuitBreakerActive bool       `gorm:"not null;default:false" json:"circuit_breaker_active"`
	BreakerTrippedAt     *time.Time `json:"breaker_tripped_at,omitempty"`
	BreakerResetAt       *time.Time `json:"breaker_reset_at,omitempty"`

	IsActive bool `gorm:"not null;default:true" json:"is_active"`
}

// Limits groups the per-portfolio risk limits, all expressed in percent.
type Limits struct {
	MaxPositionSizePct  float64
	MaxTotalExposurePct float64
	MaxDailyLossPct     float64
	MaxDrawdownPct      float64
}

func (p *Portfolio) Limits() Limits {
	return Limits{
		MaxPositionSizePct:  p.MaxPositionSizePct,
		MaxTotalExposurePct: p.MaxTotalExposurePct,
		MaxDailyLossPct:     p.MaxDailyLossPct,
		MaxDrawdownPct:      p.MaxDrawdownPct,
	}
}

type Position struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PortfolioID uint    `gorm:"index:idx_positions_portfolio_symbol;not null" json:"portfolio_id"`
	Symbol      string  `gorm:"index:idx_positions_portfolio_symbol;not null" json:"symbol"`
	Side        string  `gorm:"not null" json:"side"` // LONG or SHORT
	EntryPrice  float64 `gorm:"not null" json:"entry_price"`
	Quantity    float64 `gorm:"not null" json:"quantity"`

	CurrentPrice  float64 `json:"current_price"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl" json:"unrealized_pnl"`

	IsOpen      bool       `gorm:"index;not null;default:true" json:"is_open"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ExitPrice   float64    `json:"exit_price"`
	RealizedPnL float64    `gorm:"column:realized_pnl" json:"realized_pnl"`
}

// Notional is quantity times the last known price.
func (p *Position) Notional() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Quantity * price
}

type Trade struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PortfolioID uint    `gorm:"index;not null" json:"portfolio_id"`
	PositionID  uint    `gorm:"index" json:"position_id"`
	Symbol      string  `gorm:"index;not null" json:"symbol"`
	Action      string  `gorm:"not null" json:"action"` // OPEN or CLOSE
	Side        string  `gorm:"not null" json:"side"`
	Price       float64 `gorm:"not null" json:"price"`
	Quantity    float64 `gorm:"not null" json:"quantity"`
	Commission  float64 `json:"commission"`
	RealizedPnL float64 `gorm:"column:realized_pnl" json:"realized_pnl"`
	Reason      string  `json:"reason"`
}

type ExecutionQuality struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	TradeID         uint    `gorm:"uniqueIndex;not null" json:"trade_id"`
	Mode            string  `json:"mode"`
	ReferencePrice  float64 `json:"reference_price"`
	FilledPrice     float64 `json:"filled_price"`
	FilledQuantity  float64 `json:"filled_quantity"`
	SlippagePct     float64 `json:"slippage_pct"`
	Commission      float64 `json:"commission"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	PartialFill     bool    `json:"partial_fill"`
	FillPercentage  float64 `json:"fill_percentage"`

	SignalAt    time.Time `json:"signal_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

type RiskEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	PortfolioID  uint    `gorm:"index;not null" json:"portfolio_id"`
	EventType    string  `gorm:"not null" json:"event_type"`
	Severity     string  `gorm:"index;not null" json:"severity"`
	RuleType     string  `json:"rule_type"`
	RuleLimit    float64 `json:"rule_limit"`
	CurrentValue float64 `json:"current_value"`
	Symbol       string  `json:"symbol,omitempty"`
	TradeID      *uint   `json:"trade_id,omitempty"`
	Message      string  `gorm:"type:text" json:"message,omitempty"`
}

type PerformanceSnapshot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PortfolioID   uint    `gorm:"index;not null" json:"portfolio_id"`
	Equity        float64 `json:"equity"`
	PeakEquity    float64 `json:"peak_equity"`
	DrawdownPct   float64 `json:"drawdown_pct"`
	ExposurePct   float64 `json:"exposure_pct"`
	OpenPositions int     `json:"open_positions"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl" json:"unrealized_pnl"`
	RealizedPnL   float64 `gorm:"column:realized_pnl" json:"realized_pnl"`
	TotalTrades   int64   `json:"total_trades"`
	WinRate       float64 `json:"win_rate"`
}

type AnalysisLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PortfolioID uint   `gorm:"index" json:"portfolio_id"`
	RunID       string `gorm:"index" json:"run_id"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	Confidence  int    `json:"confidence"`
	AIResponse  string `gorm:"type:text" json:"ai_response"`
	Error       string `json:"error"`
}
