package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"candlevault/internal/app"
	cvcfg "candlevault/internal/config"
	"candlevault/internal/logger"
)

const usage = `usage: candlevault <command> [flags]

commands:
  backfill   fetch a historical candle window into CSV + sqlite
  stream     mirror live kline streams into the realtime database
  enrich     append indicator columns to CSV exports
  news       ingest recent CryptoPanic posts
  tweets     ingest recent tweets for the configured query
  serve      run the live mirror and the HTTP API

config path comes from -config or CANDLEVAULT_CONFIG (default configs/config.yaml)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	cfgPath := flags.String("config", "", "path to the YAML config file")

	var (
		symbol    = flags.String("symbol", "", "backfill a single symbol instead of the watchlist")
		interval  = flags.String("interval", "", "interval for -symbol (default 1h)")
		days      = flags.Int("days", 0, "override the configured backfill day span")
		noCSV     = flags.Bool("no-csv", false, "skip the CSV export")
		overwrite = flags.Bool("overwrite", false, "recompute existing indicator exports")
	)
	if err := flags.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv("CANDLEVAULT_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}
	cfg, err := cvcfg.Load(path)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("opening log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, command=%s)", cfg.App.Env, command)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("initializing failed: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "backfill":
		err = a.RunBackfill(ctx, app.BackfillOptions{
			Symbol:   *symbol,
			Interval: *interval,
			Days:     *days,
			NoCSV:    *noCSV,
		})
	case "stream":
		err = a.RunStream(ctx)
	case "enrich":
		err = a.RunEnrich(ctx, *overwrite)
	case "news":
		err = a.RunNews(ctx)
	case "tweets":
		err = a.RunTweets(ctx)
	case "serve":
		err = a.RunServe(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
