package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlevault/internal/market"
)

func TestMemoryKlineStorePutGet(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "BTCUSDC", "1m", sampleSeries(3), 10))
	got, err := s.Get(ctx, "BTCUSDC", "1m")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// unknown key is empty, not an error
	got, err = s.Get(ctx, "ETHUSDC", "1m")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryKlineStoreReplacesLatestBar(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	first := sampleSeries(1)
	require.NoError(t, s.Put(ctx, "BTCUSDC", "1m", first, 10))

	update := first[0]
	update.Close = 500
	require.NoError(t, s.Put(ctx, "BTCUSDC", "1m", []market.Candle{update}, 10))

	got, err := s.Get(ctx, "BTCUSDC", "1m")
	require.NoError(t, err)
	require.Len(t, got, 1, "same open_time replaces instead of appending")
	assert.Equal(t, 500.0, got[0].Close)
}

func TestMemoryKlineStoreTrimsToMax(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()

	series := sampleSeries(8)
	require.NoError(t, s.Put(ctx, "BTCUSDC", "1m", series, 5))

	got, err := s.Get(ctx, "BTCUSDC", "1m")
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, series[3].OpenTime, got[0].OpenTime, "oldest bars dropped")
	assert.Equal(t, series[7].OpenTime, got[4].OpenTime)
}

func TestMemoryKlineStoreGetCopies(t *testing.T) {
	s := NewMemoryKlineStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "BTCUSDC", "1m", sampleSeries(2), 10))

	got, _ := s.Get(ctx, "BTCUSDC", "1m")
	got[0].Close = -1

	again, _ := s.Get(ctx, "BTCUSDC", "1m")
	assert.NotEqual(t, -1.0, again[0].Close, "callers get a copy")
}
