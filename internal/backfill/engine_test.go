package backfill

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"candlevault/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchCall struct {
	start, end int64
	limit      int
}

// fakeSource serves a fixed synthetic dataset, honoring [start, end) range
// semantics and the request limit, ordered by open_time ascending.
type fakeSource struct {
	candles  []market.Candle
	calls    []fetchCall
	failures int
	failErr  error
	mangle   func([]market.Candle) []market.Candle
}

func (f *fakeSource) FetchRange(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]market.Candle, error) {
	f.calls = append(f.calls, fetchCall{start: startMs, end: endMs, limit: limit})
	if f.failures > 0 {
		f.failures--
		err := f.failErr
		if err == nil {
			err = errors.New("connection reset")
		}
		return nil, err
	}
	var out []market.Candle
	for _, c := range f.candles {
		if c.OpenTime >= startMs && c.OpenTime < endMs {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	if f.mangle != nil {
		out = f.mangle(out)
	}
	return out, nil
}

func genCandles(n int, stepMs int64) []market.Candle {
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := int64(i) * stepMs
		price := 100 + float64(i)
		out = append(out, market.Candle{
			OpenTime:    open,
			Open:        price,
			High:        price + 2,
			Low:         price - 1,
			Close:       price + 1,
			Volume:      float64(i%7) + 0.5,
			CloseTime:   open + stepMs - 1,
			QuoteVolume: "0",
			Trades:      int64(i),
		})
	}
	return out
}

func newTestEngine(t *testing.T, src market.RangeSource, cfg Config) *Engine {
	t.Helper()
	eng, err := New(src, cfg)
	require.NoError(t, err)
	eng.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return eng
}

func msTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func TestRunCompleteness(t *testing.T) {
	const n = 2500
	step := int64(60_000)
	src := &fakeSource{candles: genCandles(n, step)}
	eng := newTestEngine(t, src, Config{MaxLimit: 1000, MaxSpan: 10 * 24 * time.Hour})

	series, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(int64(n)*step))
	require.NoError(t, err)
	require.Len(t, series, n)
	for i, c := range series {
		assert.Equal(t, int64(i)*step, c.OpenTime)
		assert.True(t, c.WellFormed())
	}
}

func TestRunIdempotence(t *testing.T) {
	src := &fakeSource{candles: genCandles(1200, 60_000)}
	eng := newTestEngine(t, src, Config{MaxLimit: 500, MaxSpan: 24 * time.Hour})

	first, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(1200*60_000))
	require.NoError(t, err)
	second, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(1200*60_000))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBlockBoundaryStitching(t *testing.T) {
	// Exactly one block's worth of 1h candles plus one more just past the
	// boundary; the crossing candle must appear exactly once.
	span := 2 * 24 * time.Hour
	step := int64(time.Hour / time.Millisecond)
	perBlock := int(span.Milliseconds() / step)
	src := &fakeSource{candles: genCandles(perBlock+1, step)}
	eng := newTestEngine(t, src, Config{MaxLimit: 1000, MaxSpan: span})

	series, err := eng.Run(context.Background(), "BTCUSDC", "1h", msTime(0), msTime(int64(perBlock+1)*step))
	require.NoError(t, err)
	require.Len(t, series, perBlock+1)
	boundary := int64(perBlock) * step
	count := 0
	for _, c := range series {
		if c.OpenTime == boundary {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.NoError(t, series.Validate())
}

func TestPageExhaustionTermination(t *testing.T) {
	// Exactly MaxLimit candles: the first call returns a full page, the
	// second returns nothing, and the block must stop after exactly 2 calls.
	const limit = 100
	step := int64(60_000)
	src := &fakeSource{candles: genCandles(limit, step)}
	eng := newTestEngine(t, src, Config{MaxLimit: limit, MaxSpan: 365 * 24 * time.Hour})

	series, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(365*24*3600*1000))
	require.NoError(t, err)
	assert.Len(t, series, limit)
	assert.Len(t, src.calls, 2)
}

func TestEmptyWindow(t *testing.T) {
	src := &fakeSource{candles: genCandles(10, 60_000)}
	eng := newTestEngine(t, src, Config{MaxLimit: 100, MaxSpan: 24 * time.Hour})

	at := msTime(60_000)
	series, err := eng.Run(context.Background(), "BTCUSDC", "1m", at, at)
	require.NoError(t, err)
	assert.Empty(t, series)
	assert.Empty(t, src.calls, "start == end must not touch the source")

	series, err = eng.Run(context.Background(), "BTCUSDC", "1m", at, msTime(0))
	require.NoError(t, err)
	assert.Empty(t, series)
	assert.Empty(t, src.calls)
}

func TestOrderingAndDedupe(t *testing.T) {
	// The source duplicates its last row on every page; stitching must
	// drop the duplicates and leave open_time strictly increasing.
	src := &fakeSource{
		candles: genCandles(300, 60_000),
		mangle: func(page []market.Candle) []market.Candle {
			if len(page) == 0 {
				return page
			}
			return append(page, page[len(page)-1])
		},
	}
	eng := newTestEngine(t, src, Config{MaxLimit: 1000, MaxSpan: 24 * time.Hour})

	series, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(300*60_000))
	require.NoError(t, err)
	require.Len(t, series, 300)
	for i := 1; i < len(series); i++ {
		assert.Less(t, series[i-1].OpenTime, series[i].OpenTime)
	}
}

func TestConcreteScenario(t *testing.T) {
	// Candles at 0, 60000, 120000 with MAX_LIMIT=2 over [0, 180000):
	// page 1 returns two rows (== limit), cursor advances past 60000's
	// close_time; page 2 returns one row (< limit) and the block ends.
	src := &fakeSource{candles: genCandles(3, 60_000)}
	eng := newTestEngine(t, src, Config{MaxLimit: 2, MaxSpan: 24 * time.Hour})

	series, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(180_000))
	require.NoError(t, err)
	require.Len(t, src.calls, 2)
	assert.Equal(t, int64(0), src.calls[0].start)
	assert.Equal(t, int64(119_999+1), src.calls[1].start, "cursor = last close_time + 1ms")
	require.Len(t, series, 3)
	assert.Equal(t, []int64{0, 60_000, 120_000}, []int64{series[0].OpenTime, series[1].OpenTime, series[2].OpenTime})
}

func TestDryBlockDoesNotHaltRun(t *testing.T) {
	// No trades in the first block, data in the second.
	step := int64(time.Hour / time.Millisecond)
	span := 24 * time.Hour
	candles := genCandles(48, step)[24:]
	src := &fakeSource{candles: candles}
	eng := newTestEngine(t, src, Config{MaxLimit: 1000, MaxSpan: span})

	series, err := eng.Run(context.Background(), "BTCUSDC", "1h", msTime(0), msTime(48*step))
	require.NoError(t, err)
	assert.Len(t, series, 24)
	first, _ := series.Span()
	assert.Equal(t, 24*step, first)
}

func TestRetryPolicy(t *testing.T) {
	t.Run("bounded retry recovers", func(t *testing.T) {
		src := &fakeSource{candles: genCandles(10, 60_000), failures: 2}
		eng := newTestEngine(t, src, Config{MaxLimit: 100, MaxSpan: 24 * time.Hour, MaxRetries: 3, RetryBackoff: time.Millisecond})

		series, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(600_000))
		require.NoError(t, err)
		assert.Len(t, series, 10)
	})

	t.Run("fail fast surfaces SourceUnavailable", func(t *testing.T) {
		src := &fakeSource{candles: genCandles(10, 60_000), failures: 1}
		eng := newTestEngine(t, src, Config{MaxLimit: 100, MaxSpan: 24 * time.Hour, MaxRetries: 0})

		_, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(600_000))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSourceUnavailable)
	})

	t.Run("retries exhausted surfaces SourceUnavailable", func(t *testing.T) {
		src := &fakeSource{candles: genCandles(10, 60_000), failures: 10, failErr: fmt.Errorf("status 429")}
		eng := newTestEngine(t, src, Config{MaxLimit: 100, MaxSpan: 24 * time.Hour, MaxRetries: 2, RetryBackoff: time.Millisecond})

		_, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(600_000))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSourceUnavailable)
		assert.Len(t, src.calls, 3, "initial attempt plus two retries")
	})
}

func TestMalformedCandleAborts(t *testing.T) {
	run := func(t *testing.T, mangle func([]market.Candle) []market.Candle) error {
		t.Helper()
		src := &fakeSource{candles: genCandles(5, 60_000), mangle: mangle}
		eng := newTestEngine(t, src, Config{MaxLimit: 100, MaxSpan: 24 * time.Hour})
		_, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(300_000))
		return err
	}

	t.Run("close_time before open_time", func(t *testing.T) {
		err := run(t, func(page []market.Candle) []market.Candle {
			page[2].CloseTime = page[2].OpenTime - 5
			return page
		})
		assert.ErrorIs(t, err, ErrMalformedCandle)
	})

	t.Run("negative open_time", func(t *testing.T) {
		err := run(t, func(page []market.Candle) []market.Candle {
			page[1].OpenTime = -60_000
			return page
		})
		assert.ErrorIs(t, err, ErrMalformedCandle)
	})

	t.Run("epoch zero candle is legal", func(t *testing.T) {
		err := run(t, nil)
		assert.NoError(t, err)
	})
}

func TestCourtesyDelayDoesNotAffectResult(t *testing.T) {
	run := func(delay time.Duration) (market.Series, int) {
		src := &fakeSource{candles: genCandles(500, 60_000)}
		eng, err := New(src, Config{MaxLimit: 200, MaxSpan: 24 * time.Hour, CourtesyDelay: delay})
		require.NoError(t, err)
		slept := 0
		eng.sleep = func(ctx context.Context, d time.Duration) error {
			slept++
			return ctx.Err()
		}
		series, err := eng.Run(context.Background(), "BTCUSDC", "1m", msTime(0), msTime(500*60_000))
		require.NoError(t, err)
		return series, slept
	}

	paced, slept := run(250 * time.Millisecond)
	unpaced, noSleeps := run(0)
	assert.Equal(t, unpaced, paced, "pacing is request pacing only, never a result change")
	assert.Zero(t, noSleeps)
	assert.Greater(t, slept, 0)
}

func TestCancelledContextStopsRun(t *testing.T) {
	src := &fakeSource{candles: genCandles(100, 60_000)}
	eng := newTestEngine(t, src, Config{MaxLimit: 10, MaxSpan: 24 * time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Run(ctx, "BTCUSDC", "1m", msTime(0), msTime(6_000_000))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
