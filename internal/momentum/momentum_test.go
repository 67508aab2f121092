package momentum

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/market"
)

func risingCandles(n int, start, step float64) []market.Candle {
	out := make([]market.Candle, n)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		price := start + step*float64(i)
		out[i] = market.Candle{
			OpenTime: t0.Add(time.Duration(i) * time.Hour),
			Open:     price - step/2,
			High:     price + step,
			Low:      price - step,
			Close:    price,
			Volume:   100,
		}
	}
	out[n-1].Volume = 300
	return out
}

func TestCompute_RisingSeries(t *testing.T) {
	ind, err := Compute("1h", risingCandles(60, 100, 1))
	require.NoError(t, err)

	assert.Equal(t, "1h", ind.Timeframe)
	assert.Equal(t, 159.0, ind.Close)
	assert.Greater(t, ind.RSI, 70.0)
	assert.Greater(t, ind.MACD, 0.0)
	assert.Greater(t, ind.BBPosition(), 0.5)
	assert.InDelta(t, 3.0, ind.VolumeRatio, 1e-9)
	assert.InDelta(t, 59.0, ind.ChangePct, 1e-9)
}

func TestCompute_TooShort(t *testing.T) {
	_, err := Compute("4h", risingCandles(MinCandles-1, 100, 1))
	assert.Error(t, err)
}

func TestMACDState(t *testing.T) {
	assert.Equal(t, MACDBullishCross, macdState(-0.1, 0.2))
	assert.Equal(t, MACDBearishCross, macdState(0.1, -0.2))
	assert.Equal(t, MACDPositive, macdState(0.1, 0.2))
	assert.Equal(t, MACDNegative, macdState(-0.3, -0.2))
}

func TestBBPosition_FlatBands(t *testing.T) {
	assert.Equal(t, 0.5, Indicators{Close: 10, BBUpper: 10, BBLower: 10}.BBPosition())
}

type fakeProvider struct {
	candles map[string][]market.Candle
	tickers map[string]*market.Ticker24h
	book    *market.OrderBook
	bookErr error
}

func (f *fakeProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	tk, ok := f.tickers[symbol]
	if !ok {
		return 0, errors.New("unknown symbol")
	}
	return tk.LastPrice, nil
}

func (f *fakeProvider) OHLCV(ctx context.Context, symbol, timeframe string, n int) ([]market.Candle, error) {
	return f.candles[timeframe], nil
}

func (f *fakeProvider) Ticker24h(ctx context.Context, symbol string) (*market.Ticker24h, error) {
	tk, ok := f.tickers[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return tk, nil
}

func (f *fakeProvider) OrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	return f.book, f.bookErr
}

func TestBuilder_Build(t *testing.T) {
	p := &fakeProvider{
		candles: map[string][]market.Candle{
			"1h": risingCandles(60, 100, 1),
			"4h": risingCandles(10, 100, 1), // too short, skipped
		},
		tickers: map[string]*market.Ticker24h{
			"ETHUSDT": {Symbol: "ETHUSDT", LastPrice: 159, PriceChange: 4, QuoteVolume: 5e6, BidPrice: 158.9, AskPrice: 159.1},
			"BTCUSDT": {Symbol: "BTCUSDT", LastPrice: 90000, PriceChange: 2},
		},
		book: &market.OrderBook{
			Bids: []market.BookLevel{{Price: 159, Quantity: 10}},
			Asks: []market.BookLevel{{Price: 159.2, Quantity: 10}},
		},
	}

	b := NewBuilder(p, []string{"1h", "4h"}, 60, logger.Discard())
	mc, err := b.Build(context.Background(), "ETHUSDT")
	require.NoError(t, err)

	assert.Equal(t, 159.0, mc.Price)
	assert.Contains(t, mc.Frames, "1h")
	assert.NotContains(t, mc.Frames, "4h")
	assert.InDelta(t, 3.0, mc.Liquidity.VolumeRatio, 1e-9)
	assert.InDelta(t, 159*10+159.2*10, mc.Liquidity.DepthUSD, 1e-9)
	assert.Equal(t, 4.0, mc.Correlation.SymbolChangePct)
	assert.Equal(t, 2.0, mc.Correlation.BTCChangePct)
}

func TestBuilder_NoUsableFrames(t *testing.T) {
	p := &fakeProvider{
		candles: map[string][]market.Candle{"1h": risingCandles(5, 100, 1)},
		tickers: map[string]*market.Ticker24h{"BTCUSDT": {LastPrice: 90000}},
	}
	b := NewBuilder(p, []string{"1h"}, 60, logger.Discard())
	_, err := b.Build(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}
