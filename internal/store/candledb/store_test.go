package candledb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlevault/internal/market"
)

func minuteSeries(n int, startMs int64) market.Series {
	out := make(market.Series, n)
	for i := range out {
		open := startMs + int64(i)*60_000
		out[i] = market.Candle{
			OpenTime:    open,
			Open:        100,
			High:        101,
			Low:         99,
			Close:       100.5,
			Volume:      2,
			CloseTime:   open + 59_999,
			QuoteVolume: "201",
			Trades:      int64(i),
		}
	}
	return out
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReplaceSeriesAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	series := minuteSeries(10, 0)

	require.NoError(t, s.ReplaceSeries(ctx, "BTCUSDC", "1m", series))

	got, err := s.QueryCandles(ctx, "BTCUSDC", "1m", 0, 0, 100)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, series[0], got[0])
	assert.Equal(t, series[9], got[9])

	t.Run("range query", func(t *testing.T) {
		got, err := s.QueryCandles(ctx, "BTCUSDC", "1m", 120_000, 240_000, 100)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, int64(120_000), got[0].OpenTime)
	})

	t.Run("recent rows come back ascending", func(t *testing.T) {
		got, err := s.QueryCandles(ctx, "BTCUSDC", "1m", 0, 0, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, int64(420_000), got[0].OpenTime)
		assert.Equal(t, int64(540_000), got[2].OpenTime)
	})

	t.Run("replace overwrites, never appends", func(t *testing.T) {
		require.NoError(t, s.ReplaceSeries(ctx, "BTCUSDC", "1m", minuteSeries(4, 0)))
		got, err := s.QueryCandles(ctx, "BTCUSDC", "1m", 0, 0, 100)
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
}

func TestUpsertCandle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := minuteSeries(1, 60_000)[0]
	require.NoError(t, s.UpsertCandle(ctx, "BTCUSDC", "1m", c))

	c.Close = 777
	require.NoError(t, s.UpsertCandle(ctx, "BTCUSDC", "1m", c))

	got, err := s.QueryCandles(ctx, "BTCUSDC", "1m", 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 777.0, got[0].Close)
}

func TestManifestTracksSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.ReplaceSeries(ctx, "BTCUSDC", "1h", minuteSeries(5, 0)))

	m, err := s.Manifest(ctx, "BTCUSDC", "1h")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDC", m.Symbol)
	assert.Equal(t, "1h", m.Interval)
	assert.Equal(t, int64(5), m.Rows)
	assert.Equal(t, int64(0), m.MinTime)
	assert.Equal(t, int64(240_000), m.MaxTime)
	assert.NotZero(t, m.LastSyncAt)
	assert.FileExists(t, m.Path)
}

func TestPerSeriesFiles(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.ReplaceSeries(ctx, "BTC/USDC", "1m", minuteSeries(1, 0)))
	require.NoError(t, s.ReplaceSeries(ctx, "BTC/USDC", "1h", minuteSeries(1, 0)))

	assert.FileExists(t, filepath.Join(root, "BTCUSDC", "1m.db"))
	assert.FileExists(t, filepath.Join(root, "BTCUSDC", "1h.db"))

	entries, err := os.ReadDir(filepath.Join(root, "BTCUSDC"))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "1m.db")
	assert.Contains(t, names, "1h.db")
}

func TestCheckIntegrity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	series := minuteSeries(10, 0)
	// drop two bars in the middle
	gapped := append(market.Series{}, series[:4]...)
	gapped = append(gapped, series[6:]...)
	require.NoError(t, s.ReplaceSeries(ctx, "BTCUSDC", "1m", gapped))

	report, err := s.CheckIntegrity(ctx, "BTCUSDC", "1m", 0, 540_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Expected)
	assert.Equal(t, int64(8), report.Present)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, Gap{From: 240_000, To: 300_000}, report.Gaps[0])
	assert.False(t, report.Complete())

	t.Run("complete grid", func(t *testing.T) {
		require.NoError(t, s.ReplaceSeries(ctx, "BTCUSDC", "1m", series))
		report, err := s.CheckIntegrity(ctx, "BTCUSDC", "1m", 0, 540_000)
		require.NoError(t, err)
		assert.True(t, report.Complete())
		assert.Empty(t, report.Gaps)
	})

	t.Run("unknown interval", func(t *testing.T) {
		_, err := s.CheckIntegrity(ctx, "BTCUSDC", "9z", 0, 1)
		require.Error(t, err)
	})
}
