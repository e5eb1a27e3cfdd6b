package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"candlevault/internal/logger"
	"candlevault/internal/store"
	"candlevault/internal/store/candledb"
	apihttp "candlevault/internal/transport/http/api"
)

// RunServe runs the live mirror and the HTTP API side by side until ctx is
// cancelled or either part fails.
func (a *App) RunServe(ctx context.Context) error {
	history, err := candledb.New(a.cfg.Store.CandleDBDir)
	if err != nil {
		return err
	}
	defer history.Close()

	// the mirror fills this cache; the API reads from it
	cache := store.NewMemoryKlineStore()

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:    a.cfg.HTTP.Addr,
		History: history,
		Live:    cache,
		LiveMax: a.cfg.Stream.MaxCached,
	})
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("[serve] http listening on %s", server.Addr())
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		err := a.runStreamInto(ctx, cache)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return group.Wait()
}
