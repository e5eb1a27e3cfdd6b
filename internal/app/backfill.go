package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"candlevault/internal/logger"
	"candlevault/internal/store"
	"candlevault/internal/store/candledb"
)

// BackfillOptions narrow a backfill run. Zero values fall back to the
// watchlist and the configured day span.
type BackfillOptions struct {
	Symbol   string
	Interval string
	Days     int
	NoCSV    bool
}

// RunBackfill fetches the historical window for each requested series,
// writes the CSV export and replaces the per-series database, then verifies
// the stored grid is gap free.
func (a *App) RunBackfill(ctx context.Context, opts BackfillOptions) error {
	pairs, err := a.backfillPairs(opts)
	if err != nil {
		return err
	}
	days := opts.Days
	if days <= 0 {
		days = a.cfg.Backfill.Days
	}

	gateway, err := a.newGateway()
	if err != nil {
		return err
	}
	defer gateway.Close()
	engine, err := a.newEngine(gateway)
	if err != nil {
		return err
	}

	sink, err := store.NewCSVSink(a.cfg.Store.DataDir)
	if err != nil {
		return err
	}
	db, err := candledb.New(a.cfg.Store.CandleDBDir)
	if err != nil {
		return err
	}
	defer db.Close()

	end := time.Now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	for _, p := range pairs {
		symbol, interval := p[0], p[1]
		logger.Infof("[backfill] %s %s: %dd window %s -> %s", symbol, interval, days,
			start.Format(time.RFC3339), end.Format(time.RFC3339))

		series, err := engine.Run(ctx, symbol, interval, start, end)
		if err != nil {
			return fmt.Errorf("backfill %s %s: %w", symbol, interval, err)
		}
		if len(series) == 0 {
			logger.Warnf("[backfill] %s %s: upstream returned no candles", symbol, interval)
			continue
		}

		if !opts.NoCSV {
			name := sink.Filename(symbol, interval, days, end)
			if err := sink.Write(name, series); err != nil {
				return fmt.Errorf("write csv for %s %s: %w", symbol, interval, err)
			}
			logger.Infof("[backfill] %s %s: wrote %d candles to %s", symbol, interval, len(series), name)
		}

		if err := db.ReplaceSeries(ctx, symbol, interval, series); err != nil {
			return fmt.Errorf("store %s %s: %w", symbol, interval, err)
		}
		report, err := db.CheckIntegrity(ctx, symbol, interval, series[0].OpenTime, series[len(series)-1].OpenTime)
		if err != nil {
			return fmt.Errorf("verify %s %s: %w", symbol, interval, err)
		}
		if !report.Complete() {
			logger.Warnf("[backfill] %s %s: stored series has %d gaps (%d/%d bars)",
				symbol, interval, len(report.Gaps), report.Present, report.Expected)
		} else {
			logger.Infof("[backfill] %s %s: stored %d candles, grid complete", symbol, interval, len(series))
		}
	}
	return nil
}

func (a *App) backfillPairs(opts BackfillOptions) ([][2]string, error) {
	if opts.Symbol != "" {
		interval := opts.Interval
		if interval == "" {
			interval = "1h"
		}
		return [][2]string{{strings.ToUpper(opts.Symbol), interval}}, nil
	}
	loader, err := a.loadWatchlist()
	if err != nil {
		return nil, err
	}
	pairs := loader.Snapshot().Pairs()
	if len(pairs) == 0 {
		return nil, fmt.Errorf("watchlist is empty, nothing to backfill")
	}
	return pairs, nil
}
