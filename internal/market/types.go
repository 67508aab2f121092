package market

import (
	"context"
	"time"
)

type Candle struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Ticker24h is the rolling 24h statistics for a symbol.
type Ticker24h struct {
	Symbol        string
	LastPrice     float64
	PriceChange   float64 // percent
	QuoteVolume   float64
	BidPrice      float64
	AskPrice      float64
	WeightedPrice float64
}

// SpreadPct is the bid/ask spread as percent of mid, 0 when either side is unknown.
func (t Ticker24h) SpreadPct() float64 {
	if t.BidPrice <= 0 || t.AskPrice <= 0 {
		return 0
	}
	mid := (t.BidPrice + t.AskPrice) / 2
	return (t.AskPrice - t.BidPrice) / mid * 100
}

type BookLevel struct {
	Price    float64
	Quantity float64
}

type OrderBook struct {
	Symbol string
	Bids   []BookLevel
	Asks   []BookLevel
}

// DepthUSD sums quote notional of both book sides within pct of the mid price.
func (b OrderBook) DepthUSD(pct float64) float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	mid := (b.Bids[0].Price + b.Asks[0].Price) / 2
	lo := mid * (1 - pct/100)
	hi := mid * (1 + pct/100)
	var total float64
	for _, l := range b.Bids {
		if l.Price < lo {
			break
		}
		total += l.Price * l.Quantity
	}
	for _, l := range b.Asks {
		if l.Price > hi {
			break
		}
		total += l.Price * l.Quantity
	}
	return total
}

// Provider is the read-only market data surface the core consumes.
type Provider interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	OHLCV(ctx context.Context, symbol, timeframe string, n int) ([]Candle, error)
	Ticker24h(ctx context.Context, symbol string) (*Ticker24h, error)
	OrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)
}
