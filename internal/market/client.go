package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/camuig/momentum-trader/internal/logger"
)

// Client talks to the Binance public REST API. No key is required for market data.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     log,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("binance %s returned status %d: %.200s", path, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s response: %w", path, err)
	}
	return nil
}

func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.get(ctx, "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", resp.Price, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price for %s", symbol)
	}
	return price, nil
}

// OHLCV returns the last n candles, oldest first.
func (c *Client) OHLCV(ctx context.Context, symbol, timeframe string, n int) ([]Candle, error) {
	params := url.Values{
		"symbol":   {symbol},
		"interval": {timeframe},
		"limit":    {strconv.Itoa(n)},
	}
	var rows [][]any
	if err := c.get(ctx, "/api/v3/klines", params, &rows); err != nil {
		return nil, err
	}
	return parseKlines(rows)
}

func parseKlines(rows [][]any) ([]Candle, error) {
	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline %d: expected 7+ fields, got %d", i, len(row))
		}
		c := Candle{
			OpenTime:  time.UnixMilli(int64(toFloat64(row[0]))).UTC(),
			Open:      toFloat64(row[1]),
			High:      toFloat64(row[2]),
			Low:       toFloat64(row[3]),
			Close:     toFloat64(row[4]),
			Volume:    toFloat64(row[5]),
			CloseTime: time.UnixMilli(int64(toFloat64(row[6]))).UTC(),
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (c *Client) Ticker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	var resp struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		QuoteVolume        string `json:"quoteVolume"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		WeightedAvgPrice   string `json:"weightedAvgPrice"`
	}
	if err := c.get(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, err
	}
	return &Ticker24h{
		Symbol:        resp.Symbol,
		LastPrice:     toFloat64(resp.LastPrice),
		PriceChange:   toFloat64(resp.PriceChangePercent),
		QuoteVolume:   toFloat64(resp.QuoteVolume),
		BidPrice:      toFloat64(resp.BidPrice),
		AskPrice:      toFloat64(resp.AskPrice),
		WeightedPrice: toFloat64(resp.WeightedAvgPrice),
	}, nil
}

func (c *Client) OrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	var resp struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}}
	if err := c.get(ctx, "/api/v3/depth", params, &resp); err != nil {
		return nil, err
	}
	return &OrderBook{
		Symbol: symbol,
		Bids:   parseLevels(resp.Bids),
		Asks:   parseLevels(resp.Asks),
	}, nil
}

func parseLevels(rows [][]string) []BookLevel {
	levels := make([]BookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		levels = append(levels, BookLevel{Price: toFloat64(row[0]), Quantity: toFloat64(row[1])})
	}
	return levels
}

// toFloat64 accepts the mixed number/string encodings Binance uses.
func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
