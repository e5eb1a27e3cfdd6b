package config

// Config is the main configuration carrier.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Binance   BinanceConfig   `yaml:"binance"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	Stream    StreamConfig    `yaml:"stream"`
	Store     StoreConfig     `yaml:"store"`
	Indicator IndicatorConfig `yaml:"indicator"`
	News      NewsConfig      `yaml:"news"`
	Social    SocialConfig    `yaml:"social"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type AppConfig struct {
	Env           string `yaml:"env"`
	LogLevel      string `yaml:"log_level"`
	LogPath       string `yaml:"log_path"`
	WatchlistPath string `yaml:"watchlist_path"`
}

type BinanceConfig struct {
	RESTBaseURL  string `yaml:"rest_base_url"`
	Testnet      bool   `yaml:"testnet"`
	TimeoutSec   int    `yaml:"timeout_seconds"`
	ProxyEnabled bool   `yaml:"proxy_enabled"`
	RESTProxyURL string `yaml:"rest_proxy_url"`
	WSProxyURL   string `yaml:"ws_proxy_url"`
}

type BackfillConfig struct {
	MaxLimit        int `yaml:"max_limit"`
	MaxSpanDays     int `yaml:"max_span_days"`
	CourtesyDelayMs int `yaml:"courtesy_delay_ms"`
	MaxRetries      int `yaml:"max_retries"`
	RetryBackoffMs  int `yaml:"retry_backoff_ms"`
	RatePerMin      int `yaml:"rate_per_min"`
	Days            int `yaml:"days"`
}

type StreamConfig struct {
	MaxCached int    `yaml:"max_cached"`
	DBPath    string `yaml:"db_path"`
	Buffer    int    `yaml:"buffer"`
}

type StoreConfig struct {
	DataDir     string `yaml:"data_dir"`
	CandleDBDir string `yaml:"candle_db_dir"`
}

type IndicatorConfig struct {
	SMA        int     `yaml:"sma"`
	EMA        int     `yaml:"ema"`
	RSI        int     `yaml:"rsi"`
	MACDFast   int     `yaml:"macd_fast"`
	MACDSlow   int     `yaml:"macd_slow"`
	MACDSignal int     `yaml:"macd_signal"`
	BBPeriod   int     `yaml:"bb_period"`
	BBStdDev   float64 `yaml:"bb_std_dev"`
	ATR        int     `yaml:"atr"`
	Overwrite  bool    `yaml:"overwrite"`
}

type NewsConfig struct {
	APIKey     string   `yaml:"api_key"`
	Currencies []string `yaml:"currencies"`
	Kind       string   `yaml:"kind"`
	Hours      int      `yaml:"hours"`
	MaxPages   int      `yaml:"max_pages"`
}

type SocialConfig struct {
	BearerToken string `yaml:"bearer_token"`
	Query       string `yaml:"query"`
	Lang        string `yaml:"lang"`
	Hours       int    `yaml:"hours"`
	MaxTweets   int    `yaml:"max_tweets"`
	MaxRetries  int    `yaml:"max_retries"`
	RetryDelayS int    `yaml:"retry_delay_seconds"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}
