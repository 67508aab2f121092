package ai

import (
	"strings"

	"github.com/camuig/momentum-trader/internal/momentum"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return Long, true
	case "SHORT", "SELL":
		return Short, true
	default:
		return "", false
	}
}

type SentimentClass string

const (
	StrongPositive SentimentClass = "STRONG_POSITIVE"
	Positive       SentimentClass = "POSITIVE"
	Neutral        SentimentClass = "NEUTRAL"
	Negative       SentimentClass = "NEGATIVE"
	StrongNegative SentimentClass = "STRONG_NEGATIVE"
)

func ParseSentiment(s string) SentimentClass {
	switch c := SentimentClass(strings.ToUpper(strings.TrimSpace(s))); c {
	case StrongPositive, Positive, Neutral, Negative, StrongNegative:
		return c
	default:
		return Neutral
	}
}

// OpenPosition is the portfolio view the agent sees for one holding.
type OpenPosition struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	Quantity      float64 `json:"quantity"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

type PortfolioSnapshot struct {
	Equity      float64        `json:"equity"`
	PeakEquity  float64        `json:"peak_equity"`
	DrawdownPct float64        `json:"drawdown_pct"`
	ExposurePct float64        `json:"exposure_pct"`
	Positions   []OpenPosition `json:"positions"`
}

// Request is the per-run context handed to the agent. Nothing about a run is
// shared between calls.
type Request struct {
	RunID     string
	Symbol    string
	Momentum  *momentum.Context
	Portfolio PortfolioSnapshot
}

// ProposedSignal is what the agent suggests. A nil *ProposedSignal means no trade.
type ProposedSignal struct {
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	Entry      float64        `json:"entry"`
	StopLoss   float64        `json:"stop_loss"`
	TakeProfit float64        `json:"take_profit"`
	Sentiment  SentimentClass `json:"sentiment"`
	Reasoning  string         `json:"reasoning"`
	Raw        string         `json:"-"`
}
