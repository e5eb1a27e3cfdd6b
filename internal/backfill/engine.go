package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candlevault/internal/logger"
	"candlevault/internal/market"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrSourceUnavailable wraps any page request failure that survived the
// retry policy. A backfill aborts rather than skipping the page; a skipped
// page would be an undetectable gap in the series.
var ErrSourceUnavailable = errors.New("candle source unavailable")

// ErrMalformedCandle marks a provider row that is missing required fields.
// Such rows abort the run; dropping them silently would also punch gaps.
var ErrMalformedCandle = errors.New("malformed candle record")

// Config carries the provider-specific ceilings. MaxLimit and MaxSpan are
// configuration rather than constants so a different provider only needs
// different values, not different code.
type Config struct {
	// MaxLimit is the page ceiling: candles per request.
	MaxLimit int
	// MaxSpan is the block ceiling: time range per logical fetch.
	MaxSpan time.Duration
	// CourtesyDelay is the pause between consecutive page requests. It
	// paces requests only and never changes the result.
	CourtesyDelay time.Duration
	// MaxRetries bounds per-page retries on transient failure. Zero means
	// fail fast on the first error.
	MaxRetries int
	// RetryBackoff is the initial retry delay, doubled per attempt.
	RetryBackoff time.Duration
	// RatePerMin, when positive, adds a token-bucket limiter on top of the
	// courtesy delay.
	RatePerMin int
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxLimit <= 0 {
		out.MaxLimit = 1000
	}
	if out.MaxSpan <= 0 {
		out.MaxSpan = 200 * 24 * time.Hour
	}
	if out.CourtesyDelay < 0 {
		out.CourtesyDelay = 0
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = time.Second
	}
	return out
}

// Engine assembles a complete, deduplicated, time-ordered candle series by
// paging a rate-limited range source. One invocation owns its accumulator;
// nothing is shared between runs.
type Engine struct {
	source  market.RangeSource
	cfg     Config
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(source market.RangeSource, cfg Config) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("range source is required")
	}
	final := cfg.withDefaults()
	e := &Engine{
		source: source,
		cfg:    final,
		sleep:  sleepWithContext,
	}
	if final.RatePerMin > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(float64(final.RatePerMin)/60.0), 1)
	}
	return e, nil
}

// Run fetches every candle with open_time in [start, end) for the given
// symbol and interval. The requested window is split into consecutive blocks
// of at most MaxSpan; each block is paged to exhaustion before the next one
// starts. A window with start >= end returns an empty series without
// touching the source.
func (e *Engine) Run(ctx context.Context, symbol, interval string, start, end time.Time) (market.Series, error) {
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol and interval are required")
	}
	startMs := start.UTC().UnixMilli()
	endMs := end.UTC().UnixMilli()
	if startMs >= endMs {
		return market.Series{}, nil
	}

	runID := uuid.NewString()
	logger.Infof("[backfill] run %s %s %s window=[%d,%d)", runID, symbol, interval, startMs, endMs)

	spanMs := e.cfg.MaxSpan.Milliseconds()
	acc := make(market.Series, 0, e.cfg.MaxLimit)
	calls := 0
	for blockStart := startMs; blockStart < endMs; blockStart += spanMs {
		blockEnd := blockStart + spanMs
		if blockEnd > endMs {
			blockEnd = endMs
		}
		logger.Debugf("[backfill] run %s block [%d,%d)", runID, blockStart, blockEnd)
		block, n, err := e.fetchBlock(ctx, symbol, interval, blockStart, blockEnd, calls)
		if err != nil {
			return nil, fmt.Errorf("block [%d,%d): %w", blockStart, blockEnd, err)
		}
		calls += n
		// A dry block does not halt the run: no trades in one sub-range
		// says nothing about later ranges.
		acc = append(acc, block...)
	}

	series := acc.DedupeSort()
	if err := series.Validate(); err != nil {
		return nil, err
	}
	logger.Infof("[backfill] run %s done rows=%d calls=%d", runID, len(series), calls)
	return series, nil
}

// fetchBlock pages [blockStart, blockEnd) to exhaustion. Returns the
// accumulated candles and the number of source calls made. priorCalls tells
// it whether a courtesy pause is due before its first request.
func (e *Engine) fetchBlock(ctx context.Context, symbol, interval string, blockStart, blockEnd int64, priorCalls int) (market.Series, int, error) {
	var out market.Series
	cur := blockStart
	calls := 0
	for cur < blockEnd {
		if err := e.pace(ctx, priorCalls+calls); err != nil {
			return nil, calls, err
		}
		page, err := e.fetchPage(ctx, symbol, interval, cur, blockEnd)
		calls++
		if err != nil {
			return nil, calls, err
		}
		if len(page) == 0 {
			break
		}
		last := page[len(page)-1]
		if err := checkPage(page); err != nil {
			return nil, calls, err
		}
		out = append(out, page...)
		if len(page) < e.cfg.MaxLimit {
			break
		}
		// Re-query from the last bar's close_time + 1ms: forward progress
		// is guaranteed even with irregular bar durations, and the last
		// bar is never fetched twice.
		cur = last.CloseTime + 1
	}
	return out, calls, nil
}

// fetchPage performs one paged request with the bounded retry policy.
func (e *Engine) fetchPage(ctx context.Context, symbol, interval string, cur, blockEnd int64) ([]market.Candle, error) {
	backoff := e.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warnf("[backfill] %s %s page [%d,%d) retry %d/%d after error: %v",
				symbol, interval, cur, blockEnd, attempt, e.cfg.MaxRetries, lastErr)
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
		page, err := e.source.FetchRange(ctx, symbol, interval, cur, blockEnd, e.cfg.MaxLimit)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s %s page [%d,%d): %v", ErrSourceUnavailable, symbol, interval, cur, blockEnd, lastErr)
}

// pace inserts the courtesy delay (and limiter wait) between consecutive
// source calls. The very first call of a run goes out immediately.
func (e *Engine) pace(ctx context.Context, callsSoFar int) error {
	if callsSoFar > 0 && e.cfg.CourtesyDelay > 0 {
		if err := e.sleep(ctx, e.cfg.CourtesyDelay); err != nil {
			return err
		}
	}
	if e.limiter != nil {
		return e.limiter.Wait(ctx)
	}
	return ctx.Err()
}

func checkPage(page []market.Candle) error {
	for _, c := range page {
		if c.OpenTime < 0 || c.CloseTime < c.OpenTime {
			return fmt.Errorf("%w: open_time=%d close_time=%d", ErrMalformedCandle, c.OpenTime, c.CloseTime)
		}
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
