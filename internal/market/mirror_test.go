package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	ch     chan CandleEvent
	closed bool
}

func (f *fakeStream) Subscribe(_ context.Context, _, _ []string, _ SubscribeOptions) (<-chan CandleEvent, error) {
	return f.ch, nil
}

func (f *fakeStream) Stats() SourceStats { return SourceStats{} }

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	upserts []Candle
}

func (r *recordingSink) UpsertCandle(_ context.Context, _, _ string, c Candle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, c)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upserts)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]Candle
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]Candle{}} }

func (m *mapCache) Get(_ context.Context, symbol, interval string) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Candle(nil), m.data[symbol+"@"+interval]...), nil
}

func (m *mapCache) Put(_ context.Context, symbol, interval string, klines []Candle, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[symbol+"@"+interval] = append(m.data[symbol+"@"+interval], klines...)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestMirrorStoresOnlyClosedBars(t *testing.T) {
	src := &fakeStream{ch: make(chan CandleEvent, 8)}
	cache := newMapCache()
	sink := &recordingSink{}

	var events []CandleEvent
	var evMu sync.Mutex
	m := NewMirror(cache, sink, 10, src, WithMirrorEventHandler(func(e CandleEvent) {
		evMu.Lock()
		events = append(events, e)
		evMu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, []string{"BTCUSDC"}, []string{"1m"}))

	open := CandleEvent{Symbol: "btcusdc", Interval: "1m", Final: false, Candle: bar(0)}
	closed := CandleEvent{Symbol: "btcusdc", Interval: "1m", Final: true, Candle: bar(0)}
	src.ch <- open
	src.ch <- closed
	src.ch <- CandleEvent{Symbol: "btcusdc", Interval: "1m", Final: false, Candle: bar(60_000)}

	waitFor(t, func() bool {
		evMu.Lock()
		defer evMu.Unlock()
		return len(events) == 3
	})

	assert.Equal(t, 1, sink.count(), "only the final bar reaches the sink")
	assert.Equal(t, int64(1), m.Stored())
	cached, err := cache.Get(ctx, "BTCUSDC", "1m")
	require.NoError(t, err)
	assert.Len(t, cached, 3, "open bars still land in the cache")
}

func TestMirrorStartValidation(t *testing.T) {
	m := NewMirror(newMapCache(), &recordingSink{}, 10, nil)
	assert.Error(t, m.Start(context.Background(), []string{"BTCUSDC"}, []string{"1m"}))

	m = NewMirror(newMapCache(), &recordingSink{}, 10, &fakeStream{ch: make(chan CandleEvent)})
	assert.Error(t, m.Start(context.Background(), nil, []string{"1m"}))
	assert.Error(t, m.Start(context.Background(), []string{"BTCUSDC"}, nil))
}

func TestMirrorCloseClosesSource(t *testing.T) {
	src := &fakeStream{ch: make(chan CandleEvent)}
	m := NewMirror(newMapCache(), &recordingSink{}, 10, src)
	m.Close()
	assert.True(t, src.closed)
}
