package execution

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/momentum-trader/internal/config"
	"github.com/camuig/momentum-trader/internal/logger"
	"github.com/camuig/momentum-trader/internal/storage"
)

func testConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		CommissionPct:    0.1,
		BaseSlippagePct:  0.02,
		MaxSlippagePct:   1.0,
		MinLatencyMs:     50,
		MaxLatencyMs:     500,
		PartialFillRatio: 0.1,
		SimulateLatency:  true,
	}
}

func newTestSimulator(t *testing.T) (*Simulator, *[]time.Duration) {
	t.Helper()
	s := NewSimulator(testConfig(), logger.Discard())
	s.SetRandSource(rand.NewSource(42))
	var slept []time.Duration
	s.SetSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})
	return s, &slept
}

func TestExecute_Instant(t *testing.T) {
	s, slept := newTestSimulator(t)
	res, err := s.Execute(context.Background(), Order{
		Symbol: "BTCUSDT", Side: Buy, Quantity: 1, ReferencePrice: 100, Mode: storage.ModeInstant,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, 100.0, res.FilledPrice)
	assert.Equal(t, 1.0, res.FilledQuantity)
	assert.Zero(t, res.SlippagePct)
	assert.Zero(t, res.ExecutionTimeMs)
	assert.InDelta(t, 0.1, res.Commission, 1e-12)
	assert.False(t, res.PartialFill)
	assert.Equal(t, 100.0, res.FillPercentage)
	assert.Empty(t, *slept)
}

func TestExecute_RealisticFullFill(t *testing.T) {
	s, slept := newTestSimulator(t)
	market := &MarketContext{LiquidityUSD: 1_000_000}

	buy, err := s.Execute(context.Background(), Order{
		Symbol: "BTCUSDT", Side: Buy, Quantity: 1, ReferencePrice: 10_000, Mode: storage.ModeRealistic, Market: market,
	})
	require.NoError(t, err)
	// base 0.02 + impact 10k/1M
	assert.InDelta(t, 0.03, buy.SlippagePct, 1e-9)
	assert.InDelta(t, 10_003, buy.FilledPrice, 1e-6)
	assert.Equal(t, StatusFilled, buy.Status)
	assert.GreaterOrEqual(t, buy.ExecutionTimeMs, int64(50))
	assert.LessOrEqual(t, buy.ExecutionTimeMs, int64(500))
	require.Len(t, *slept, 1)
	assert.Equal(t, buy.ExecutionTimeMs, (*slept)[0].Milliseconds())

	sell, err := s.Execute(context.Background(), Order{
		Symbol: "BTCUSDT", Side: Sell, Quantity: 1, ReferencePrice: 10_000, Mode: storage.ModeRealistic, Market: market,
	})
	require.NoError(t, err)
	assert.InDelta(t, 9_997, sell.FilledPrice, 1e-6)
	assert.True(t, sell.ExecutionCompletedAt.After(sell.ExecutionStartedAt))
}

func TestExecute_RealisticPartialFill(t *testing.T) {
	s, _ := newTestSimulator(t)
	res, err := s.Execute(context.Background(), Order{
		Symbol: "SOLUSDT", Side: Buy, Quantity: 2000, ReferencePrice: 100, Mode: storage.ModeRealistic,
		Market: &MarketContext{LiquidityUSD: 1_000_000},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, res.Status)
	assert.True(t, res.PartialFill)
	assert.InDelta(t, 50.0, res.FillPercentage, 1e-9)
	assert.InDelta(t, 1000.0, res.FilledQuantity, 1e-9)
	assert.InDelta(t, 0.22, res.SlippagePct, 1e-9)
}

func TestExecute_RealisticSlippageCapped(t *testing.T) {
	s, _ := newTestSimulator(t)
	res, err := s.Execute(context.Background(), Order{
		Symbol: "PEPEUSDT", Side: Buy, Quantity: 100, ReferencePrice: 100, Mode: storage.ModeRealistic,
		Market: &MarketContext{LiquidityUSD: 1000, VolatilityPct: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.SlippagePct)
	assert.InDelta(t, 101.0, res.FilledPrice, 1e-9)
}

func TestExecute_Historical(t *testing.T) {
	s, _ := newTestSimulator(t)

	buy, err := s.Execute(context.Background(), Order{
		Symbol: "ETHUSDT", Side: Buy, Quantity: 1, ReferencePrice: 100, Mode: storage.ModeHistorical,
		Market: &MarketContext{NextBarOpen: 101},
	})
	require.NoError(t, err)
	assert.Equal(t, 101.0, buy.FilledPrice)
	assert.InDelta(t, 1.0, buy.SlippagePct, 1e-9)

	sell, err := s.Execute(context.Background(), Order{
		Symbol: "ETHUSDT", Side: Sell, Quantity: 1, ReferencePrice: 100, Mode: storage.ModeHistorical,
		Market: &MarketContext{NextBarOpen: 101},
	})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sell.SlippagePct, 1e-9)

	fallback, err := s.Execute(context.Background(), Order{
		Symbol: "ETHUSDT", Side: Buy, Quantity: 1, ReferencePrice: 100, Mode: storage.ModeHistorical,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, fallback.FilledPrice)
}

func TestExecute_InvalidOrders(t *testing.T) {
	s, _ := newTestSimulator(t)
	cases := []Order{
		{Symbol: "BTCUSDT", Side: Buy, Quantity: 0, ReferencePrice: 100, Mode: storage.ModeInstant},
		{Symbol: "BTCUSDT", Side: Buy, Quantity: -1, ReferencePrice: 100, Mode: storage.ModeInstant},
		{Symbol: "BTCUSDT", Side: Buy, Quantity: 1, ReferencePrice: 0, Mode: storage.ModeInstant},
		{Symbol: "BTCUSDT", Side: "HOLD", Quantity: 1, ReferencePrice: 100, Mode: storage.ModeInstant},
		{Symbol: "BTCUSDT", Side: Buy, Quantity: 1, ReferencePrice: 100, Mode: "LIVE"},
		{Symbol: "", Side: Buy, Quantity: 1, ReferencePrice: 100, Mode: storage.ModeInstant},
	}
	for _, o := range cases {
		_, err := s.Execute(context.Background(), o)
		assert.ErrorIs(t, err, ErrInvalidOrder, "%+v", o)
	}
}

func TestExecute_LatencyCancelled(t *testing.T) {
	s, _ := newTestSimulator(t)
	s.SetSleep(func(ctx context.Context, d time.Duration) error { return context.Canceled })

	_, err := s.Execute(context.Background(), Order{
		Symbol: "BTCUSDT", Side: Buy, Quantity: 1, ReferencePrice: 100, Mode: storage.ModeRealistic,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_NeverNonPositive(t *testing.T) {
	s, _ := newTestSimulator(t)
	rng := rand.New(rand.NewSource(1))
	modes := []string{storage.ModeInstant, storage.ModeRealistic, storage.ModeHistorical}

	for i := 0; i < 300; i++ {
		side := Buy
		if i%2 == 1 {
			side = Sell
		}
		o := Order{
			Symbol:         "XUSDT",
			Side:           side,
			Quantity:       rng.Float64()*1000 + 1e-6,
			ReferencePrice: rng.Float64()*50000 + 1e-6,
			Mode:           modes[i%3],
			Market: &MarketContext{
				LiquidityUSD:  rng.Float64() * 1e6,
				VolatilityPct: rng.Float64() * 200,
				NextBarOpen:   rng.Float64() * 50000,
			},
		}
		res, err := s.Execute(context.Background(), o)
		require.NoError(t, err)
		assert.Greater(t, res.FilledPrice, 0.0)
		assert.GreaterOrEqual(t, res.FilledQuantity, 0.0)
		assert.LessOrEqual(t, res.FillPercentage, 100.0)
	}
}

func TestSideFor(t *testing.T) {
	assert.Equal(t, Buy, SideFor(storage.SideLong, false))
	assert.Equal(t, Sell, SideFor(storage.SideLong, true))
	assert.Equal(t, Sell, SideFor(storage.SideShort, false))
	assert.Equal(t, Buy, SideFor(storage.SideShort, true))
}
