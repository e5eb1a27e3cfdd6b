package app

import (
	"context"
	"fmt"

	"candlevault/internal/config"
	"candlevault/internal/logger"
	"candlevault/internal/market"
	"candlevault/internal/store"
	"candlevault/internal/store/gormstore"
)

// RunStream mirrors the watchlist's live kline streams into the realtime
// database until ctx is cancelled. The watchlist file is watched; edits
// resubscribe the mirror with the new pairs.
func (a *App) RunStream(ctx context.Context) error {
	return a.runStreamInto(ctx, store.NewMemoryKlineStore())
}

func (a *App) runStreamInto(ctx context.Context, cache market.KlineStore) error {
	loader, err := a.loadWatchlist()
	if err != nil {
		return err
	}
	sink, err := gormstore.New(a.cfg.Stream.DBPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	changed := make(chan struct{}, 1)
	loader.Subscribe(func(config.WatchlistSnapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	// drain the initial snapshot delivery
	<-changed

	for {
		snap := loader.Snapshot()
		symbols, intervals := uniquePairs(snap.Pairs())
		if len(symbols) == 0 {
			return fmt.Errorf("watchlist has no symbols to stream")
		}

		gateway, err := a.newGateway()
		if err != nil {
			return err
		}
		mirror := market.NewMirror(cache, sink, a.cfg.Stream.MaxCached, gateway,
			market.WithMirrorCallbacks(
				func() { logger.Infof("[stream] websocket connected") },
				func(err error) { logger.Warnf("[stream] websocket dropped: %v", err) },
			),
		)

		runCtx, cancel := context.WithCancel(ctx)
		if err := mirror.Start(runCtx, symbols, intervals); err != nil {
			cancel()
			gateway.Close()
			return err
		}
		logger.Infof("[stream] mirroring %d symbols x %d intervals", len(symbols), len(intervals))

		select {
		case <-ctx.Done():
			cancel()
			mirror.Close()
			gateway.Close()
			logger.Infof("[stream] stopped after storing %d closed bars", mirror.Stored())
			return ctx.Err()
		case <-changed:
			logger.Infof("[stream] watchlist changed, resubscribing")
			cancel()
			mirror.Close()
			gateway.Close()
		}
	}
}
