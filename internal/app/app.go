package app

import (
	"fmt"
	"time"

	"candlevault/internal/backfill"
	"candlevault/internal/config"
	"candlevault/internal/gateway/binance"
)

// App wires the configured collaborators together and exposes one method
// per subcommand.
type App struct {
	cfg       *config.Config
	watchlist *config.WatchlistLoader
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &App{cfg: cfg}, nil
}

// Close releases the watchlist watcher if one was started.
func (a *App) Close() error {
	if a.watchlist != nil {
		return a.watchlist.Close()
	}
	return nil
}

func (a *App) loadWatchlist() (*config.WatchlistLoader, error) {
	if a.watchlist != nil {
		return a.watchlist, nil
	}
	loader, err := config.NewWatchlistLoader(a.cfg.App.WatchlistPath)
	if err != nil {
		return nil, err
	}
	a.watchlist = loader
	return loader, nil
}

func (a *App) newGateway() (*binance.Source, error) {
	bc := a.cfg.Binance
	return binance.New(binance.Config{
		RESTBaseURL:  bc.RESTBaseURL,
		HTTPTimeout:  time.Duration(bc.TimeoutSec) * time.Second,
		Testnet:      bc.Testnet,
		ProxyEnabled: bc.ProxyEnabled,
		RESTProxyURL: bc.RESTProxyURL,
		WSProxyURL:   bc.WSProxyURL,
	})
}

func (a *App) newEngine(source *binance.Source) (*backfill.Engine, error) {
	bf := a.cfg.Backfill
	return backfill.New(source, backfill.Config{
		MaxLimit:      bf.MaxLimit,
		MaxSpan:       time.Duration(bf.MaxSpanDays) * 24 * time.Hour,
		CourtesyDelay: time.Duration(bf.CourtesyDelayMs) * time.Millisecond,
		MaxRetries:    bf.MaxRetries,
		RetryBackoff:  time.Duration(bf.RetryBackoffMs) * time.Millisecond,
		RatePerMin:    bf.RatePerMin,
	})
}

func uniquePairs(pairs [][2]string) (symbols, intervals []string) {
	seenSym := map[string]bool{}
	seenIV := map[string]bool{}
	for _, p := range pairs {
		if !seenSym[p[0]] {
			seenSym[p[0]] = true
			symbols = append(symbols, p[0])
		}
		if !seenIV[p[1]] {
			seenIV[p[1]] = true
			intervals = append(intervals, p[1])
		}
	}
	return symbols, intervals
}
