package gormstore

import "gorm.io/datatypes"

// KlineRow mirrors the realtime kline table: one row per closed bar,
// keyed by (symbol, interval, open_time), replace-on-conflict.
type KlineRow struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Symbol        string  `gorm:"column:symbol;uniqueIndex:idx_kline_bar,priority:1"`
	Interval      string  `gorm:"column:interval;uniqueIndex:idx_kline_bar,priority:2"`
	OpenTime      int64   `gorm:"column:open_time;uniqueIndex:idx_kline_bar,priority:3"`
	Open          float64 `gorm:"column:open"`
	High          float64 `gorm:"column:high"`
	Low           float64 `gorm:"column:low"`
	Close         float64 `gorm:"column:close"`
	Volume        float64 `gorm:"column:volume"`
	CloseTime     int64   `gorm:"column:close_time"`
	QuoteVolume   string  `gorm:"column:quote_volume"`
	Trades        int64   `gorm:"column:trades"`
	TakerBuyBase  string  `gorm:"column:taker_buy_base"`
	TakerBuyQuote string  `gorm:"column:taker_buy_quote"`
	StoredAtUnix  int64   `gorm:"column:stored_at"`
}

func (KlineRow) TableName() string { return "kline" }

// NewsPostRow stores one CryptoPanic post. Votes and the full upstream
// payload are kept as raw JSON; only the fields the CSV export needs are
// broken out into columns.
type NewsPostRow struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	ProviderID      int64          `gorm:"column:provider_id;uniqueIndex"`
	PublishedAtUnix int64          `gorm:"column:published_at"`
	Title           string         `gorm:"column:title"`
	URL             string         `gorm:"column:url"`
	SourceDomain    string         `gorm:"column:source_domain"`
	SourceTitle     string         `gorm:"column:source_title"`
	Kind            string         `gorm:"column:kind"`
	Currencies      string         `gorm:"column:currencies"`
	Votes           datatypes.JSON `gorm:"column:votes;type:TEXT"`
	Raw             datatypes.JSON `gorm:"column:raw;type:TEXT"`
	FetchedAtUnix   int64          `gorm:"column:fetched_at"`
}

func (NewsPostRow) TableName() string { return "news_posts" }

// TweetRow stores one recent-search result with its public metrics.
type TweetRow struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	TweetID        string         `gorm:"column:tweet_id;uniqueIndex"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	Text           string         `gorm:"column:text"`
	Lang           string         `gorm:"column:lang"`
	AuthorID       string         `gorm:"column:author_id"`
	AuthorUsername string         `gorm:"column:author_username"`
	AuthorName     string         `gorm:"column:author_name"`
	AuthorVerified bool           `gorm:"column:author_verified"`
	RetweetCount   int64          `gorm:"column:retweet_count"`
	ReplyCount     int64          `gorm:"column:reply_count"`
	LikeCount      int64          `gorm:"column:like_count"`
	QuoteCount     int64          `gorm:"column:quote_count"`
	Hashtags       string         `gorm:"column:hashtags"`
	Mentions       string         `gorm:"column:mentions"`
	Raw            datatypes.JSON `gorm:"column:raw;type:TEXT"`
	FetchedAtUnix  int64          `gorm:"column:fetched_at"`
}

func (TweetRow) TableName() string { return "tweets" }
