package gormstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"candlevault/internal/market"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the realtime-side database: the live kline mirror plus ingested
// news and tweets, all in one SQLite file.
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// NewFromDB wraps an existing gorm handle, used by tests with an in-memory
// database.
func NewFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db required")
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	models := []interface{}{
		&KlineRow{},
		&NewsPostRow{},
		&TweetRow{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: a little parallelism for HTTP reads, low contention.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertCandle implements market.MirrorSink: INSERT OR REPLACE on the
// (symbol, interval, open_time) key.
func (s *Store) UpsertCandle(ctx context.Context, symbol, interval string, c market.Candle) error {
	row := KlineRow{
		Symbol:        strings.ToUpper(symbol),
		Interval:      strings.ToLower(interval),
		OpenTime:      c.OpenTime,
		Open:          c.Open,
		High:          c.High,
		Low:           c.Low,
		Close:         c.Close,
		Volume:        c.Volume,
		CloseTime:     c.CloseTime,
		QuoteVolume:   c.QuoteVolume,
		Trades:        c.Trades,
		TakerBuyBase:  c.TakerBuyBase,
		TakerBuyQuote: c.TakerBuyQuote,
		StoredAtUnix:  time.Now().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

// RecentKlines returns the latest limit closed bars ascending.
func (s *Store) RecentKlines(ctx context.Context, symbol, interval string, limit int) (market.Series, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []KlineRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", strings.ToUpper(symbol), strings.ToLower(interval)).
		Order("open_time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(market.Series, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		out = append(out, market.Candle{
			OpenTime:      r.OpenTime,
			Open:          r.Open,
			High:          r.High,
			Low:           r.Low,
			Close:         r.Close,
			Volume:        r.Volume,
			CloseTime:     r.CloseTime,
			QuoteVolume:   r.QuoteVolume,
			Trades:        r.Trades,
			TakerBuyBase:  r.TakerBuyBase,
			TakerBuyQuote: r.TakerBuyQuote,
		})
	}
	return out, nil
}

// SaveNewsPosts inserts posts, skipping provider IDs already present.
func (s *Store) SaveNewsPosts(ctx context.Context, posts []NewsPostRow) (int, error) {
	saved := 0
	for i := range posts {
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "provider_id"}},
				DoNothing: true,
			}).
			Create(&posts[i])
		if res.Error != nil {
			return saved, res.Error
		}
		saved += int(res.RowsAffected)
	}
	return saved, nil
}

// SaveTweets inserts tweets, skipping tweet IDs already present.
func (s *Store) SaveTweets(ctx context.Context, tweets []TweetRow) (int, error) {
	saved := 0
	for i := range tweets {
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tweet_id"}},
				DoNothing: true,
			}).
			Create(&tweets[i])
		if res.Error != nil {
			return saved, res.Error
		}
		saved += int(res.RowsAffected)
	}
	return saved, nil
}
