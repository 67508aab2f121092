package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/momentum-trader/internal/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, logger.Discard())
}

func TestCurrentPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"90123.45"}`))
	})

	price, err := c.CurrentPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 90123.45, price, 1e-9)
}

func TestCurrentPrice_BadStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	_, err := c.CurrentPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestOHLCV(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "4h", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","110.0","95.0","105.0","12.5",1700014399999,"1300",10,"6","600","0"],
			[1700014400000,"105.0","112.0","101.0","111.0","8.0",1700028799999,"880",8,"4","440","0"]
		]`))
	})

	candles, err := c.OHLCV(context.Background(), "ETHUSDT", "4h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, 12.5, candles[0].Volume)
	assert.Equal(t, 111.0, candles[1].Close)
	assert.True(t, candles[1].OpenTime.After(candles[0].OpenTime))
}

func TestTicker24hAndSpread(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"SOLUSDT","lastPrice":"150.0","priceChangePercent":"3.5",
			"quoteVolume":"1000000","bidPrice":"149.9","askPrice":"150.1","weightedAvgPrice":"148"}`))
	})

	tk, err := c.Ticker24h(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3.5, tk.PriceChange)
	assert.InDelta(t, 0.1333, tk.SpreadPct(), 1e-3)
}

func TestOrderBookDepth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bids":[["100","2"],["99.5","1"],["90","50"]],"asks":[["100.5","1"],["101","3"],["120","50"]]}`))
	})

	book, err := c.OrderBook(context.Background(), "XUSDT", 20)
	require.NoError(t, err)
	// within 1% of mid 100.25: bids 100, 99.5; asks 100.5, 101
	assert.InDelta(t, 200+99.5+100.5+303, book.DepthUSD(1), 1e-9)
}

func TestParseMiniTicker(t *testing.T) {
	sym, price, ok := parseMiniTicker([]byte(`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","s":"BTCUSDT","c":"91000.5"}}`))
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", sym)
	assert.Equal(t, 91000.5, price)

	_, _, ok = parseMiniTicker([]byte(`{"result":null,"id":1}`))
	assert.False(t, ok)
}

func TestStreamURL(t *testing.T) {
	s := NewStream("wss://example/stream", []string{"BTCUSDT", "ETHUSDT"}, logger.Discard())
	assert.Equal(t, "wss://example/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker", s.streamURL())
}
