package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"candlevault/internal/market"
)

// Settings carries the indicator parameters. Zero values fall back to the
// standard parameter set.
type Settings struct {
	SMA        int
	EMA        int
	RSI        int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	BBPeriod   int
	BBStdDev   float64
	ATR        int
}

func (s Settings) withDefaults() Settings {
	out := s
	if out.SMA <= 0 {
		out.SMA = 50
	}
	if out.EMA <= 0 {
		out.EMA = 21
	}
	if out.RSI <= 0 {
		out.RSI = 14
	}
	if out.MACDFast <= 0 {
		out.MACDFast = 12
	}
	if out.MACDSlow <= 0 {
		out.MACDSlow = 26
	}
	if out.MACDSignal <= 0 {
		out.MACDSignal = 9
	}
	if out.BBPeriod <= 0 {
		out.BBPeriod = 20
	}
	if out.BBStdDev <= 0 {
		out.BBStdDev = 2
	}
	if out.ATR <= 0 {
		out.ATR = 14
	}
	return out
}

// warmUp is the longest lookback of the column set: every indicator value is
// defined from this row on.
func (s Settings) warmUp() int {
	w := s.SMA - 1
	if m := s.MACDSlow + s.MACDSignal - 2; m > w {
		w = m
	}
	if s.EMA-1 > w {
		w = s.EMA - 1
	}
	if s.RSI > w {
		w = s.RSI
	}
	if s.BBPeriod-1 > w {
		w = s.BBPeriod - 1
	}
	if s.ATR > w {
		w = s.ATR
	}
	return w
}

// Frame is a series with derived indicator columns appended on top of the
// unchanged candle shape. Candles and each column slice are index-aligned;
// the warm-up prefix has already been trimmed.
type Frame struct {
	Candles market.Series
	Columns []string
	Values  map[string][]float64
}

// Columns appended by Enrich, in output order.
var columnOrder = []string{
	"sma50", "ema21", "rsi14",
	"macd", "macd_signal", "macd_hist",
	"bb_lower", "bb_mid", "bb_upper",
	"atr14", "natr14",
}

// Enrich computes the indicator columns for a closed-bar series and trims
// the warm-up prefix, the rows where at least one lookback is incomplete.
// The candle fields themselves are passed through untouched.
func Enrich(series market.Series, cfg Settings) (Frame, error) {
	cfg = cfg.withDefaults()
	warm := cfg.warmUp()
	if len(series) <= warm {
		return Frame{}, fmt.Errorf("need more than %d candles for the indicator warm-up, got %d", warm, len(series))
	}
	closes := make([]float64, len(series))
	highs := make([]float64, len(series))
	lows := make([]float64, len(series))
	for i, c := range series {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	macd, macdSignal, macdHist := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	bbUpper, bbMid, bbLower := talib.BBands(closes, cfg.BBPeriod, cfg.BBStdDev, cfg.BBStdDev, talib.SMA)
	atr := talib.Atr(highs, lows, closes, cfg.ATR)

	full := map[string][]float64{
		"sma50":       talib.Sma(closes, cfg.SMA),
		"ema21":       talib.Ema(closes, cfg.EMA),
		"rsi14":       talib.Rsi(closes, cfg.RSI),
		"macd":        macd,
		"macd_signal": macdSignal,
		"macd_hist":   macdHist,
		"bb_lower":    bbLower,
		"bb_mid":      bbMid,
		"bb_upper":    bbUpper,
		"atr14":       atr,
		"natr14":      talib.Natr(highs, lows, closes, cfg.ATR),
	}

	out := Frame{
		Candles: append(market.Series{}, series[warm:]...),
		Columns: append([]string{}, columnOrder...),
		Values:  make(map[string][]float64, len(full)),
	}
	for name, vals := range full {
		trimmed := make([]float64, len(vals)-warm)
		copy(trimmed, vals[warm:])
		sanitize(trimmed)
		out.Values[name] = trimmed
	}
	return out, nil
}

// NaN/Inf should not survive into CSV output; clamp to zero like a dropna
// would have removed them.
func sanitize(vals []float64) {
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			vals[i] = 0
		}
	}
}

// Len returns the number of enriched rows.
func (f Frame) Len() int { return len(f.Candles) }
