package market

import "context"

// KlineStore is the live cache the mirror writes into and the HTTP API reads
// from. Implementations keep at most max candles per (symbol, interval).
type KlineStore interface {
	Get(ctx context.Context, symbol, interval string) ([]Candle, error)
	Put(ctx context.Context, symbol, interval string, klines []Candle, max int) error
}

// MirrorSink receives every closed candle exactly as the stream delivered
// it. Duplicate open_times replace the previous row (upsert semantics).
type MirrorSink interface {
	UpsertCandle(ctx context.Context, symbol, interval string, c Candle) error
}
