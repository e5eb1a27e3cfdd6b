package market

import "context"

// CandleEvent is one websocket kline update. Final marks a closed bar; only
// final bars are durably mirrored.
type CandleEvent struct {
	Symbol   string
	Interval string
	Final    bool
	Candle   Candle
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// RangeSource is a paged historical query: up to limit candles with
// open_time in [startMs, endMs), ordered by open_time ascending. An empty
// result means the provider has no data in range. The server enforces its
// own limit ceiling; callers must not assume the full page size is honored.
type RangeSource interface {
	FetchRange(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]Candle, error)
}

// StreamSource delivers live kline events until ctx is cancelled. Reconnects
// are handled inside the implementation; the channel closes only on cancel.
type StreamSource interface {
	Subscribe(ctx context.Context, symbols, intervals []string, opts SubscribeOptions) (<-chan CandleEvent, error)
	Stats() SourceStats
	Close() error
}

// Source combines the historical and live capabilities of one exchange
// gateway.
type Source interface {
	RangeSource
	StreamSource
}
