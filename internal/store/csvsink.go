package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"candlevault/internal/market"
)

// CSVSink persists a complete backfilled series as one CSV file per
// (symbol, interval) run. Overwrite semantics: a rerun regenerates the whole
// file, it never merges. The write goes through a temp file plus rename so a
// failed run cannot corrupt a previously good file.
type CSVSink struct {
	dir string
}

func NewCSVSink(dir string) (*CSVSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("data dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &CSVSink{dir: dir}, nil
}

// Filename mirrors the historical export naming:
// <symbol>_<interval>_<days>d_<yymmdd>.csv, all lower case.
func (s *CSVSink) Filename(symbol, interval string, days int, now time.Time) string {
	sym := strings.ToLower(strings.ReplaceAll(symbol, "/", ""))
	return fmt.Sprintf("%s_%s_%dd_%s.csv", sym, strings.ToLower(interval), days, now.UTC().Format("060102"))
}

func (s *CSVSink) Write(path string, series market.Series) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".candles-*.csv")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	if err := w.Write(market.CSVColumns); err != nil {
		tmp.Close()
		return err
	}
	for _, c := range series {
		if err := w.Write(c.CSVRecord()); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Dir returns the sink's base directory.
func (s *CSVSink) Dir() string { return s.dir }

// ReadCSV loads a series back from a sink file, tolerant of extra appended
// columns (indicator outputs read only the base shape).
func ReadCSV(path string) (market.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return market.Series{}, nil
	}
	header := rows[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range market.CSVColumns[:7] {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, required)
		}
	}
	out := make(market.Series, 0, len(rows)-1)
	for _, row := range rows[1:] {
		c, err := candleFromRow(row, col)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func candleFromRow(row []string, col map[string]int) (market.Candle, error) {
	get := func(name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}
	var c market.Candle
	var err error
	if c.OpenTime, err = parseInt(get("open_time")); err != nil {
		return c, fmt.Errorf("open_time: %w", err)
	}
	if c.CloseTime, err = parseInt(get("close_time")); err != nil {
		return c, fmt.Errorf("close_time: %w", err)
	}
	if c.Open, err = parseFloatStrict(get("open")); err != nil {
		return c, fmt.Errorf("open: %w", err)
	}
	if c.High, err = parseFloatStrict(get("high")); err != nil {
		return c, fmt.Errorf("high: %w", err)
	}
	if c.Low, err = parseFloatStrict(get("low")); err != nil {
		return c, fmt.Errorf("low: %w", err)
	}
	if c.Close, err = parseFloatStrict(get("close")); err != nil {
		return c, fmt.Errorf("close: %w", err)
	}
	if c.Volume, err = parseFloatStrict(get("volume")); err != nil {
		return c, fmt.Errorf("volume: %w", err)
	}
	c.QuoteVolume = get("quote_asset_volume")
	c.Trades, _ = parseInt(get("nb_trades"))
	c.TakerBuyBase = get("taker_buy_base")
	c.TakerBuyQuote = get("taker_buy_quote")
	c.Ignore = get("ignore")
	return c, nil
}
