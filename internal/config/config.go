package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads a YAML config file and returns it with defaults applied.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.WatchlistPath == "" {
		c.App.WatchlistPath = "watchlist.yaml"
	}

	if c.Binance.TimeoutSec <= 0 {
		c.Binance.TimeoutSec = 10
	}

	if c.Backfill.MaxLimit <= 0 {
		c.Backfill.MaxLimit = 1000
	}
	if c.Backfill.MaxSpanDays <= 0 {
		c.Backfill.MaxSpanDays = 200
	}
	if c.Backfill.CourtesyDelayMs < 0 {
		c.Backfill.CourtesyDelayMs = 0
	}
	if c.Backfill.MaxRetries < 0 {
		c.Backfill.MaxRetries = 0
	}
	if c.Backfill.RetryBackoffMs <= 0 {
		c.Backfill.RetryBackoffMs = 1000
	}
	if c.Backfill.Days <= 0 {
		c.Backfill.Days = 365
	}

	if c.Stream.MaxCached <= 0 {
		c.Stream.MaxCached = 500
	}
	if c.Stream.Buffer <= 0 {
		c.Stream.Buffer = 256
	}
	if c.Stream.DBPath == "" {
		c.Stream.DBPath = "data/live.db"
	}

	if c.Store.DataDir == "" {
		c.Store.DataDir = "data"
	}
	if c.Store.CandleDBDir == "" {
		c.Store.CandleDBDir = "data/candledb"
	}

	if c.News.Kind == "" {
		c.News.Kind = "news"
	}
	if c.News.Hours <= 0 {
		c.News.Hours = 24
	}
	if c.News.MaxPages <= 0 {
		c.News.MaxPages = 10
	}

	if c.Social.Query == "" {
		c.Social.Query = "$BTC OR #Bitcoin -is:retweet"
	}
	if c.Social.Lang == "" {
		c.Social.Lang = "en"
	}
	if c.Social.Hours <= 0 {
		c.Social.Hours = 24
	}
	if c.Social.MaxTweets <= 0 {
		c.Social.MaxTweets = 500
	}
	if c.Social.MaxRetries <= 0 {
		c.Social.MaxRetries = 5
	}
	if c.Social.RetryDelayS <= 0 {
		c.Social.RetryDelayS = 60
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9980"
	}
}

func validate(c *Config) error {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", c.App.LogLevel)
	}
	if c.Backfill.MaxLimit > 1000 {
		return fmt.Errorf("backfill.max_limit cannot exceed the upstream page cap of 1000")
	}
	if c.News.Kind != "news" && c.News.Kind != "media" {
		return fmt.Errorf("news.kind must be \"news\" or \"media\", got %q", c.News.Kind)
	}
	if c.Binance.ProxyEnabled && c.Binance.RESTProxyURL == "" && c.Binance.WSProxyURL == "" {
		return fmt.Errorf("binance.proxy_enabled is set but no proxy url is configured")
	}
	return nil
}
