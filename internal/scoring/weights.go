package scoring

import (
	"strings"

	"github.com/camuig/momentum-trader/internal/ai"
)

// Scheme is the maximum each component may contribute. The maxima sum to 100.
type Scheme struct {
	Name           string
	TechnicalMax   int
	SentimentMax   int
	LiquidityMax   int
	CorrelationMax int
}

var (
	DefaultScheme = Scheme{
		Name:           "default",
		TechnicalMax:   40,
		SentimentMax:   30,
		LiquidityMax:   20,
		CorrelationMax: 10,
	}
	NoSentimentScheme = Scheme{
		Name:           "no_sentiment",
		TechnicalMax:   55,
		SentimentMax:   0,
		LiquidityMax:   30,
		CorrelationMax: 15,
	}
)

func (s Scheme) SentimentEnabled() bool { return s.SentimentMax > 0 }

// Weights holds the tunable tables behind the sub-scorers.
type Weights struct {
	// Timeframe importance; frames missing from the table are ignored.
	Timeframes map[string]float64
	// Sentiment points on a 0..sentimentBase scale, mirrored for shorts.
	Sentiment map[ai.SentimentClass]int
}

// sentimentBase is the scale Sentiment points are expressed in.
const sentimentBase = 30

func DefaultWeights() Weights {
	return Weights{
		Timeframes: map[string]float64{
			"1m":  0.5,
			"5m":  0.75,
			"15m": 1.0,
			"1h":  1.5,
			"4h":  2.0,
		},
		Sentiment: map[ai.SentimentClass]int{
			ai.StrongPositive: 30,
			ai.Positive:       22,
			ai.Neutral:        15,
			ai.Negative:       8,
			ai.StrongNegative: 0,
		},
	}
}

// WithOverrides returns a copy of w with non-empty overrides applied.
func (w Weights) WithOverrides(timeframes map[string]float64, sentiment map[string]int) Weights {
	out := Weights{
		Timeframes: make(map[string]float64, len(w.Timeframes)),
		Sentiment:  make(map[ai.SentimentClass]int, len(w.Sentiment)),
	}
	for k, v := range w.Timeframes {
		out.Timeframes[k] = v
	}
	for k, v := range w.Sentiment {
		out.Sentiment[k] = v
	}
	for k, v := range timeframes {
		out.Timeframes[strings.TrimSpace(k)] = v
	}
	for k, v := range sentiment {
		out.Sentiment[ai.ParseSentiment(k)] = clampInt(v, 0, sentimentBase)
	}
	return out
}
