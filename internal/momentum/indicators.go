package momentum

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/camuig/momentum-trader/internal/market"
)

const (
	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	bbPeriod       = 20
	bbDev          = 2.0
	volumeLookback = 20

	// MinCandles is the shortest series Compute accepts; MACD needs slow+signal bars to settle.
	MinCandles = macdSlow + macdSignal + 1
)

type MACDState string

const (
	MACDBullishCross MACDState = "BULLISH_CROSS"
	MACDBearishCross MACDState = "BEARISH_CROSS"
	MACDPositive     MACDState = "POSITIVE"
	MACDNegative     MACDState = "NEGATIVE"
)

// Indicators is the latest indicator reading for one timeframe.
type Indicators struct {
	Timeframe   string    `json:"timeframe"`
	Close       float64   `json:"close"`
	RSI         float64   `json:"rsi"`
	MACD        float64   `json:"macd"`
	MACDSignal  float64   `json:"macd_signal"`
	MACDHist    float64   `json:"macd_hist"`
	MACDState   MACDState `json:"macd_state"`
	BBUpper     float64   `json:"bb_upper"`
	BBMiddle    float64   `json:"bb_middle"`
	BBLower     float64   `json:"bb_lower"`
	VolumeRatio float64   `json:"volume_ratio"`
	ChangePct   float64   `json:"change_pct"`
}

// BBPosition places the close inside the bands: 0 at the lower band, 1 at the upper band.
// Values outside [0,1] mean the close broke out of the band.
func (in Indicators) BBPosition() float64 {
	width := in.BBUpper - in.BBLower
	if width <= 0 {
		return 0.5
	}
	return (in.Close - in.BBLower) / width
}

// Compute derives the indicator snapshot from candles ordered oldest first.
func Compute(timeframe string, candles []market.Candle) (Indicators, error) {
	if len(candles) < MinCandles {
		return Indicators{}, fmt.Errorf("%s: need %d candles, got %d", timeframe, MinCandles, len(candles))
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	last := len(closes) - 1

	rsi := talib.Rsi(closes, rsiPeriod)
	macd, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	upper, middle, lower := talib.BBands(closes, bbPeriod, bbDev, bbDev, talib.SMA)

	out := Indicators{
		Timeframe:   timeframe,
		Close:       closes[last],
		RSI:         rsi[last],
		MACD:        macd[last],
		MACDSignal:  signal[last],
		MACDHist:    hist[last],
		MACDState:   macdState(hist[last-1], hist[last]),
		BBUpper:     upper[last],
		BBMiddle:    middle[last],
		BBLower:     lower[last],
		VolumeRatio: volumeRatio(volumes),
	}
	if closes[0] > 0 {
		out.ChangePct = (closes[last] - closes[0]) / closes[0] * 100
	}
	return out, nil
}

func macdState(prev, cur float64) MACDState {
	switch {
	case prev <= 0 && cur > 0:
		return MACDBullishCross
	case prev >= 0 && cur < 0:
		return MACDBearishCross
	case cur > 0:
		return MACDPositive
	default:
		return MACDNegative
	}
}

// volumeRatio compares the last bar's volume to the mean of the preceding lookback bars.
func volumeRatio(volumes []float64) float64 {
	last := len(volumes) - 1
	start := last - volumeLookback
	if start < 0 {
		start = 0
	}
	var sum float64
	n := 0
	for i := start; i < last; i++ {
		sum += volumes[i]
		n++
	}
	if n == 0 || sum == 0 {
		return 0
	}
	return volumes[last] / (sum / float64(n))
}
