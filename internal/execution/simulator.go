package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/storage"
)

var ErrInvalidOrder = errors.New("invalid order")

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type Status string

const (
	StatusFilled  Status = "FILLED"
	StatusPartial Status = "PARTIAL"
)

// MarketContext is the optional market picture at order time.
type MarketContext struct {
	// LiquidityUSD is the book depth the order competes with.
	LiquidityUSD float64
	// VolatilityPct scales the random slippage term.
	VolatilityPct float64
	// NextBarOpen is the fill price in HISTORICAL mode.
	NextBarOpen float64
}

type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Quantity       float64
	ReferencePrice float64
	Mode           string
	Market         *MarketContext
	SignalAt       time.Time
}

type Result struct {
	OrderID        string
	Mode           string
	Status         Status
	ReferencePrice float64
	FilledPrice    float64
	FilledQuantity float64
	// SlippagePct is positive when the fill is worse than the reference.
	SlippagePct     float64
	Commission      float64
	ExecutionTimeMs int64
	PartialFill     bool
	FillPercentage  float64

	SignalGeneratedAt    time.Time
	ExecutionStartedAt   time.Time
	ExecutionCompletedAt time.Time
}

func (r Result) FilledNotional() float64 { return r.FilledPrice * r.FilledQuantity }

const (
	// impactPct is the slippage of an order as large as the whole visible book.
	impactPct = 1.0
	// volatilityFactor is the share of volatility that turns into slippage.
	volatilityFactor = 0.1
	minFillPct       = 1.0
	maxSlippageCap   = 50.0
)

type Simulator struct {
	cfg    config.ExecutionConfig
	logger *logger.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewSimulator(cfg config.ExecutionConfig, log *logger.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		logger: log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetRandSource replaces the random source. Tests use it for determinism.
func (s *Simulator) SetRandSource(src rand.Source) {
	s.mu.Lock()
	s.rng = rand.New(src)
	s.mu.Unlock()
}

// SetSleep replaces the latency sleep.
func (s *Simulator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func validate(o Order) error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, o.Side)
	}
	if !(o.Quantity > 0) || math.IsInf(o.Quantity, 0) {
		return fmt.Errorf("%w: quantity %v", ErrInvalidOrder, o.Quantity)
	}
	if !(o.ReferencePrice > 0) || math.IsInf(o.ReferencePrice, 0) {
		return fmt.Errorf("%w: reference price %v", ErrInvalidOrder, o.ReferencePrice)
	}
	return nil
}

// Execute simulates a fill for o. The returned price is always positive and the
// quantity never negative.
func (s *Simulator) Execute(ctx context.Context, o Order) (Result, error) {
	if err := validate(o); err != nil {
		return Result{}, err
	}

	mode := strings.ToUpper(o.Mode)
	started := s.now()
	res := Result{
		OrderID:            o.ID,
		Mode:               mode,
		ReferencePrice:     o.ReferencePrice,
		FillPercentage:     100,
		SignalGeneratedAt:  o.SignalAt,
		ExecutionStartedAt: started,
	}
	if res.SignalGeneratedAt.IsZero() {
		res.SignalGeneratedAt = started
	}

	var latency time.Duration
	switch mode {
	case storage.ModeInstant:
		res.FilledPrice = o.ReferencePrice
	case storage.ModeRealistic:
		slip, fillPct, lat := s.realistic(o)
		res.SlippagePct = slip
		res.FillPercentage = fillPct
		res.FilledPrice = adverse(o.Side, o.ReferencePrice, slip)
		latency = lat
	case storage.ModeHistorical:
		res.FilledPrice = o.ReferencePrice
		if o.Market != nil && o.Market.NextBarOpen > 0 {
			res.FilledPrice = o.Market.NextBarOpen
		}
		res.SlippagePct = slippageOf(o.Side, o.ReferencePrice, res.FilledPrice)
	default:
		return Result{}, fmt.Errorf("%w: mode %q", ErrInvalidOrder, o.Mode)
	}

	if latency > 0 && s.cfg.SimulateLatency {
		if err := s.sleep(ctx, latency); err != nil {
			return Result{}, fmt.Errorf("simulated latency: %w", err)
		}
	}

	res.FilledQuantity = o.Quantity * res.FillPercentage / 100
	res.PartialFill = res.FillPercentage < 100
	res.Status = StatusFilled
	if res.PartialFill {
		res.Status = StatusPartial
	}
	res.Commission = res.FilledNotional() * s.cfg.CommissionPct / 100
	res.ExecutionTimeMs = latency.Milliseconds()
	res.ExecutionCompletedAt = started.Add(latency)

	if res.FilledPrice <= 0 || res.FilledQuantity < 0 {
		return Result{}, fmt.Errorf("%w: simulated fill price %v qty %v", ErrInvalidOrder, res.FilledPrice, res.FilledQuantity)
	}

	s.logger.Debug("order simulated",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"side", o.Side,
		"mode", mode,
		"price", res.FilledPrice,
		"qty", res.FilledQuantity,
		"slippage_pct", res.SlippagePct,
		"fill_pct", res.FillPercentage)

	return res, nil
}

// realistic returns slippage percent, fill percent and latency.
func (s *Simulator) realistic(o Order) (float64, float64, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	notional := o.Quantity * o.ReferencePrice
	slip := s.cfg.BaseSlippagePct
	fillPct := 100.0

	if m := o.Market; m != nil {
		if m.LiquidityUSD > 0 {
			slip += notional / m.LiquidityUSD * impactPct
			if limit := m.LiquidityUSD * s.cfg.PartialFillRatio; s.cfg.PartialFillRatio > 0 && notional > limit {
				fillPct = math.Max(minFillPct, math.Floor(limit/notional*10000)/100)
			}
		}
		slip += m.VolatilityPct * volatilityFactor * s.rng.Float64()
	} else {
		slip += s.cfg.BaseSlippagePct * s.rng.Float64()
	}

	maxSlip := math.Min(s.cfg.MaxSlippagePct, maxSlippageCap)
	if maxSlip > 0 && slip > maxSlip {
		slip = maxSlip
	}

	var latency time.Duration
	lo, hi := s.cfg.MinLatencyMs, s.cfg.MaxLatencyMs
	if hi > 0 {
		ms := lo
		if hi > lo {
			ms += s.rng.Intn(hi - lo + 1)
		}
		latency = time.Duration(ms) * time.Millisecond
	}

	return slip, fillPct, latency
}

// adverse moves price against the order side by slip percent.
func adverse(side Side, price, slip float64) float64 {
	if side == Buy {
		return price * (1 + slip/100)
	}
	return price * (1 - slip/100)
}

func slippageOf(side Side, ref, filled float64) float64 {
	d := (filled - ref) / ref * 100
	if side == Sell {
		return -d
	}
	return d
}

// SideFor maps a position direction onto the order side that opens it.
func SideFor(positionSide string, closing bool) Side {
	buy := positionSide == storage.SideLong
	if closing {
		buy = !buy
	}
	if buy {
		return Buy
	}
	return Sell
}
