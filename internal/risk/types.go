package risk

import (
	"github.com/camuig/momentum-trader/internal/ai"
	"github.com/camuig/momentum-trader/internal/execution"
	"github.com/camuig/momentum-trader/internal/storage"
)

type PositionType string

const (
	PositionLong  PositionType = "LONG"
	PositionShort PositionType = "SHORT"
	PositionClose PositionType = "CLOSE"
)

// TradeProposal is built per validation call and never persisted.
type TradeProposal struct {
	Symbol       string
	Side         execution.Side
	Quantity     float64
	Price        float64
	PositionType PositionType
}

func (p TradeProposal) Notional() float64 { return p.Quantity * p.Price }

// ProposalFor builds the opening proposal for a direction.
func ProposalFor(symbol string, dir ai.Direction, qty, price float64) TradeProposal {
	pt := PositionLong
	side := execution.Buy
	if dir == ai.Short {
		pt = PositionShort
		side = execution.Sell
	}
	return TradeProposal{Symbol: symbol, Side: side, Quantity: qty, Price: price, PositionType: pt}
}

// CloseProposal builds the proposal that flattens pos.
func CloseProposal(pos storage.Position, price float64) TradeProposal {
	return TradeProposal{
		Symbol:       pos.Symbol,
		Side:         execution.SideFor(pos.Side, true),
		Quantity:     pos.Quantity,
		Price:        price,
		PositionType: PositionClose,
	}
}

type BreakerState string

const (
	BreakerReady  BreakerState = "READY"
	BreakerActive BreakerState = "ACTIVE"
)

// ReasonBreakerActive is the single violation returned while the breaker is tripped.
const ReasonBreakerActive = "circuit breaker active"

const (
	RulePositionSize       = "position_size"
	RuleTotalExposure      = "total_exposure"
	RuleDailyLoss          = "daily_loss"
	RuleDrawdown           = "drawdown"
	RuleCriticalViolations = "critical_violations"
	RuleCircuitBreaker     = "circuit_breaker"
	RuleStopLoss           = "stop_loss"
	RuleTakeProfit         = "take_profit"
	RuleSlippage           = "slippage"
)

type AlertKind string

const (
	AlertStopLoss      AlertKind = "STOP_LOSS_HIT"
	AlertTakeProfit    AlertKind = "TAKE_PROFIT_HIT"
	AlertExposureNear  AlertKind = "EXPOSURE_NEAR_LIMIT"
	AlertDrawdownNear  AlertKind = "DRAWDOWN_NEAR_LIMIT"
	AlertBreakerActive AlertKind = "CIRCUIT_BREAKER_ACTIVE"
)

type Alert struct {
	Kind       AlertKind `json:"kind"`
	Symbol     string    `json:"symbol,omitempty"`
	PositionID uint      `json:"position_id,omitempty"`
	Value      float64   `json:"value"`
	Limit      float64   `json:"limit"`
	Message    string    `json:"message"`
}

// TripEvent describes a READY to ACTIVE transition.
type TripEvent struct {
	PortfolioID uint
	Rule        string
	Value       float64
	Limit       float64
	Reason      string
}

// AuditedSignal is the concrete trade the risk audit signs off on.
type AuditedSignal struct {
	Symbol     string
	Direction  ai.Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Quantity   float64
	Confidence int
}

func (s AuditedSignal) Notional() float64 { return s.Quantity * s.Entry }

// Decision is one of Approve, Modify or Reject.
type Decision interface {
	decision()
}

type Approve struct {
	Signal AuditedSignal
}

// Modify approves a trade whose size or levels the audit changed.
type Modify struct {
	Signal  AuditedSignal
	Changes []string
}

type Reject struct {
	Reasons []string
}

func (Approve) decision() {}
func (Modify) decision()  {}
func (Reject) decision()  {}
