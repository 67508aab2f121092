package scoring

import (
	"math"

	"github.com/camuig/momentum-trader/internal/ai"
	"github.com/camuig/momentum-trader/internal/momentum"
)

// weakRatio marks a component whose score is below this share of its max.
const weakRatio = 0.6

const (
	ComponentTechnical   = "technical"
	ComponentSentiment   = "sentiment"
	ComponentLiquidity   = "liquidity"
	ComponentCorrelation = "correlation"
)

type Component struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Max   int    `json:"max"`
	Weak  bool   `json:"weak"`
}

// Breakdown is the reporting view of a confidence score.
type Breakdown struct {
	Scheme     string      `json:"scheme"`
	Components []Component `json:"components"`
	Total      int         `json:"total"`
	Weak       []string    `json:"weak,omitempty"`
}

func (b Breakdown) Component(name string) (Component, bool) {
	for _, c := range b.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Scorer turns a momentum context and a proposed direction into a 0..100 confidence.
type Scorer struct {
	scheme  Scheme
	weights Weights
}

func NewScorer(sentimentEnabled bool, weights Weights) *Scorer {
	scheme := DefaultScheme
	if !sentimentEnabled {
		scheme = NoSentimentScheme
	}
	return &Scorer{scheme: scheme, weights: weights}
}

func (s *Scorer) Scheme() Scheme { return s.scheme }

// Score is the integer sum of the four components clamped to [0,100].
func (s *Scorer) Score(technical, sentiment, liquidity, correlation int) int {
	if !s.scheme.SentimentEnabled() {
		sentiment = 0
	}
	return clampInt(technical+sentiment+liquidity+correlation, 0, 100)
}

// Evaluate runs every sub-scorer against mc for the given direction.
func (s *Scorer) Evaluate(mc *momentum.Context, dir ai.Direction, sentiment ai.SentimentClass) Breakdown {
	tech := s.Technical(mc.Frames, dir)
	liq := s.Liquidity(mc.Liquidity.VolumeRatio, mc.Liquidity.SpreadPct, mc.Liquidity.DepthUSD)
	corr := s.Correlation(mc.Correlation.SymbolChangePct, mc.Correlation.BTCChangePct, dir)

	var sent int
	if s.scheme.SentimentEnabled() {
		sent = s.Sentiment(sentiment, dir)
	}
	return s.Breakdown(tech, sent, liq, corr)
}

// Breakdown assembles the per-component report. Under the sentiment-disabled
// scheme the sentiment component is absent rather than zero.
func (s *Scorer) Breakdown(technical, sentiment, liquidity, correlation int) Breakdown {
	b := Breakdown{Scheme: s.scheme.Name}

	add := func(name string, score, max int) {
		c := Component{Name: name, Score: score, Max: max}
		c.Weak = float64(score) < weakRatio*float64(max)
		if c.Weak {
			b.Weak = append(b.Weak, name)
		}
		b.Components = append(b.Components, c)
	}

	add(ComponentTechnical, technical, s.scheme.TechnicalMax)
	if s.scheme.SentimentEnabled() {
		add(ComponentSentiment, sentiment, s.scheme.SentimentMax)
	}
	add(ComponentLiquidity, liquidity, s.scheme.LiquidityMax)
	add(ComponentCorrelation, correlation, s.scheme.CorrelationMax)

	b.Total = s.Score(technical, sentiment, liquidity, correlation)
	return b
}

// Technical accumulates up to frameMax points per timeframe and weights each
// frame by its importance. Frames without a weight are ignored. For shorts the
// oscillators are read inverted.
func (s *Scorer) Technical(frames map[string]momentum.Indicators, dir ai.Direction) int {
	var got, possible float64
	for tf, ind := range frames {
		w := s.weights.Timeframes[tf]
		if w <= 0 {
			continue
		}
		got += float64(framePoints(ind, dir)) * w
		possible += frameMax * w
	}
	if possible == 0 {
		return 0
	}
	return scale(got, possible, s.scheme.TechnicalMax)
}

const frameMax = 10

func framePoints(ind momentum.Indicators, dir ai.Direction) int {
	rsi := ind.RSI
	bb := ind.BBPosition()
	macd := ind.MACDState
	if dir == ai.Short {
		rsi = 100 - rsi
		bb = 1 - bb
		switch macd {
		case momentum.MACDBullishCross:
			macd = momentum.MACDBearishCross
		case momentum.MACDBearishCross:
			macd = momentum.MACDBullishCross
		case momentum.MACDPositive:
			macd = momentum.MACDNegative
		case momentum.MACDNegative:
			macd = momentum.MACDPositive
		}
	}

	var pts int

	// RSI zone, max 3
	switch {
	case rsi >= 50 && rsi < 70:
		pts += 3
	case rsi >= 70 && rsi < 80:
		pts += 2
	case rsi >= 40 && rsi < 50:
		pts++
	}

	// MACD, max 3
	switch macd {
	case momentum.MACDBullishCross:
		pts += 3
	case momentum.MACDPositive:
		pts += 2
	}

	// Bollinger position, max 2
	switch {
	case bb >= 0.5 && bb <= 1.0:
		pts += 2
	case bb > 1.0, bb >= 0.2 && bb < 0.5:
		pts++
	}

	// Volume ratio, max 2
	switch {
	case ind.VolumeRatio >= 1.5:
		pts += 2
	case ind.VolumeRatio >= 1.0:
		pts++
	}

	return pts
}

// Sentiment maps the classification to points; shorts get max minus value.
func (s *Scorer) Sentiment(class ai.SentimentClass, dir ai.Direction) int {
	max := s.scheme.SentimentMax
	if max == 0 {
		return 0
	}
	pts, ok := s.weights.Sentiment[class]
	if !ok {
		pts = s.weights.Sentiment[ai.Neutral]
	}
	v := scale(float64(clampInt(pts, 0, sentimentBase)), sentimentBase, max)
	if dir == ai.Short {
		return max - v
	}
	return v
}

const liquidityBase = 20

// Liquidity scores the volume bracket plus spread and depth bonuses, on a
// 0..20 scale before scaling to the scheme max.
func (s *Scorer) Liquidity(volumeRatio, spreadPct, depthUSD float64) int {
	var pts int
	switch {
	case volumeRatio >= 2.0:
		pts = 14
	case volumeRatio >= 1.5:
		pts = 11
	case volumeRatio >= 1.0:
		pts = 8
	case volumeRatio >= 0.5:
		pts = 4
	}

	switch {
	case spreadPct > 0 && spreadPct <= 0.05:
		pts += 3
	case spreadPct > 0 && spreadPct <= 0.1:
		pts += 2
	case spreadPct > 0 && spreadPct <= 0.2:
		pts++
	}

	switch {
	case depthUSD >= 1_000_000:
		pts += 3
	case depthUSD >= 250_000:
		pts += 2
	case depthUSD >= 50_000:
		pts++
	}

	pts = clampInt(pts, 0, liquidityBase)
	return scale(float64(pts), liquidityBase, s.scheme.LiquidityMax)
}

const (
	correlationBase = 10
	// btcFlatPct is the BTC move below which BTC has no direction.
	btcFlatPct = 0.1
	// outperformPct is the relative move that starts earning a bonus.
	outperformPct   = 1.0
	outperformBonus = 4
)

// Correlation rewards moves that agree with BTC and relative strength in the
// trade direction.
func (s *Scorer) Correlation(symbolChangePct, btcChangePct float64, dir ai.Direction) int {
	var pts int
	switch {
	case math.Abs(btcChangePct) < btcFlatPct:
		pts = 4
	case (symbolChangePct > 0) == (btcChangePct > 0):
		pts = 6
	default:
		pts = 2
	}

	rel := symbolChangePct - btcChangePct
	if dir == ai.Short {
		rel = -rel
	}
	if rel > outperformPct {
		pts += minInt(outperformBonus, int(rel/outperformPct))
	}

	pts = clampInt(pts, 0, correlationBase)
	return scale(float64(pts), correlationBase, s.scheme.CorrelationMax)
}

// scale maps got/possible onto 0..max, truncating.
func scale(got, possible float64, max int) int {
	if possible <= 0 {
		return 0
	}
	return clampInt(int(got/possible*float64(max)), 0, max)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
