package market

import (
	"fmt"
	"sort"
	"strconv"
)

// Candle is one fixed-duration OHLCV bar as Binance returns it. OpenTime is
// the primary key within a (symbol, interval) series. The trailing fields
// after CloseTime are carried through untouched so downstream consumers see
// the exact upstream record shape.
type Candle struct {
	OpenTime      int64   `json:"open_time"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	CloseTime     int64   `json:"close_time"`
	QuoteVolume   string  `json:"quote_asset_volume"`
	Trades        int64   `json:"nb_trades"`
	TakerBuyBase  string  `json:"taker_buy_base"`
	TakerBuyQuote string  `json:"taker_buy_quote"`
	Ignore        string  `json:"ignore"`
}

// WellFormed reports whether the bar satisfies low <= {open, close} <= high
// and volume >= 0. Upstream data is trusted at runtime; this exists for
// sinks and tests that want to assert it.
func (c Candle) WellFormed() bool {
	if c.Volume < 0 {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	return true
}

// CSVColumns is the canonical column order of the upstream kline record.
var CSVColumns = []string{
	"open_time", "open", "high", "low", "close", "volume",
	"close_time", "quote_asset_volume", "nb_trades",
	"taker_buy_base", "taker_buy_quote", "ignore",
}

// CSVRecord renders the candle in CSVColumns order.
func (c Candle) CSVRecord() []string {
	return []string{
		strconv.FormatInt(c.OpenTime, 10),
		formatFloat(c.Open),
		formatFloat(c.High),
		formatFloat(c.Low),
		formatFloat(c.Close),
		formatFloat(c.Volume),
		strconv.FormatInt(c.CloseTime, 10),
		c.QuoteVolume,
		strconv.FormatInt(c.Trades, 10),
		c.TakerBuyBase,
		c.TakerBuyQuote,
		c.Ignore,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Series is an ordered sequence of candles for one (symbol, interval) pair.
type Series []Candle

// DedupeSort deduplicates on OpenTime (first occurrence wins) and stable-sorts
// ascending. Returns a new slice; the receiver is not modified.
func (s Series) DedupeSort() Series {
	if len(s) == 0 {
		return Series{}
	}
	seen := make(map[int64]struct{}, len(s))
	out := make(Series, 0, len(s))
	for _, c := range s {
		if _, ok := seen[c.OpenTime]; ok {
			continue
		}
		seen[c.OpenTime] = struct{}{}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out
}

// Validate checks the series invariant: strictly increasing OpenTime with no
// duplicates. Gaps are legal (the provider may have had no trades).
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		if s[i].OpenTime <= s[i-1].OpenTime {
			return fmt.Errorf("series order violated at index %d: open_time %d after %d",
				i, s[i].OpenTime, s[i-1].OpenTime)
		}
	}
	return nil
}

// Span returns the [first, last] OpenTime pair, or (0, 0) for an empty series.
func (s Series) Span() (int64, int64) {
	if len(s) == 0 {
		return 0, 0
	}
	return s[0].OpenTime, s[len(s)-1].OpenTime
}
