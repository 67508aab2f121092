package momentum

import (
	"context"
	"fmt"

	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/market"
)

// BenchmarkSymbol is the market leader every symbol is correlated against.
const BenchmarkSymbol = "BTCUSDT"

// liquidityTimeframe is the frame whose volume ratio drives the liquidity score.
const liquidityTimeframe = "1h"

const (
	bookDepthLevels = 100
	bookDepthPct    = 1.0
)

type Liquidity struct {
	VolumeRatio    float64 `json:"volume_ratio"`
	SpreadPct      float64 `json:"spread_pct"`
	DepthUSD       float64 `json:"depth_usd"`
	QuoteVolume24h float64 `json:"quote_volume_24h"`
}

type Correlation struct {
	SymbolChangePct float64 `json:"symbol_change_pct"`
	BTCChangePct    float64 `json:"btc_change_pct"`
}

// Context is the market picture for one symbol that the analysis agent and the
// confidence scorer both consume.
type Context struct {
	Symbol      string                `json:"symbol"`
	Price       float64               `json:"price"`
	Frames      map[string]Indicators `json:"frames"`
	Liquidity   Liquidity             `json:"liquidity"`
	Correlation Correlation           `json:"correlation"`
}

type Builder struct {
	provider   market.Provider
	timeframes []string
	limit      int
	logger     *logger.Logger
}

func NewBuilder(provider market.Provider, timeframes []string, candleLimit int, log *logger.Logger) *Builder {
	if candleLimit < MinCandles {
		candleLimit = MinCandles
	}
	return &Builder{
		provider:   provider,
		timeframes: timeframes,
		limit:      candleLimit,
		logger:     log,
	}
}

// Build fetches candles for every configured timeframe plus ticker and book data.
// A timeframe with too little history is skipped; the build fails only when no
// timeframe could be computed or the price is unavailable.
func (b *Builder) Build(ctx context.Context, symbol string) (*Context, error) {
	price, err := b.provider.CurrentPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("current price %s: %w", symbol, err)
	}

	mc := &Context{
		Symbol: symbol,
		Price:  price,
		Frames: make(map[string]Indicators, len(b.timeframes)),
	}

	for _, tf := range b.timeframes {
		candles, err := b.provider.OHLCV(ctx, symbol, tf, b.limit)
		if err != nil {
			return nil, fmt.Errorf("ohlcv %s %s: %w", symbol, tf, err)
		}
		ind, err := Compute(tf, candles)
		if err != nil {
			b.logger.Debug("skip timeframe", "symbol", symbol, "timeframe", tf, "error", err)
			continue
		}
		mc.Frames[tf] = ind
	}
	if len(mc.Frames) == 0 {
		return nil, fmt.Errorf("no usable timeframes for %s", symbol)
	}

	if f, ok := mc.Frames[liquidityTimeframe]; ok {
		mc.Liquidity.VolumeRatio = f.VolumeRatio
	} else {
		for _, tf := range b.timeframes {
			if f, ok := mc.Frames[tf]; ok {
				mc.Liquidity.VolumeRatio = f.VolumeRatio
				break
			}
		}
	}

	ticker, err := b.provider.Ticker24h(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	mc.Liquidity.SpreadPct = ticker.SpreadPct()
	mc.Liquidity.QuoteVolume24h = ticker.QuoteVolume
	mc.Correlation.SymbolChangePct = ticker.PriceChange

	if book, err := b.provider.OrderBook(ctx, symbol, bookDepthLevels); err != nil {
		b.logger.Warn("order book unavailable", "symbol", symbol, "error", err)
	} else {
		mc.Liquidity.DepthUSD = book.DepthUSD(bookDepthPct)
	}

	if symbol == BenchmarkSymbol {
		mc.Correlation.BTCChangePct = ticker.PriceChange
	} else {
		btc, err := b.provider.Ticker24h(ctx, BenchmarkSymbol)
		if err != nil {
			return nil, fmt.Errorf("ticker %s: %w", BenchmarkSymbol, err)
		}
		mc.Correlation.BTCChangePct = btc.PriceChange
	}

	return mc, nil
}
