package candledb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"candlevault/internal/market"

	_ "modernc.org/sqlite"
)

// Manifest summarizes one symbol@interval archive file.
type Manifest struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store keeps one SQLite file per (symbol, interval) series under a data
// root, pure-Go driver, WAL mode. It is the durable home for backfilled
// history and the live mirror's closed bars.
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol, interval string) (*sql.DB, string, error) {
	if symbol == "" || interval == "" {
		return nil, "", fmt.Errorf("symbol/interval required")
	}
	key := strings.ToUpper(symbol) + "@" + strings.ToLower(interval)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol, interval), nil
	}
	path := s.dbPath(symbol, interval)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, symbol, interval); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol, interval string) string {
	dir := filepath.Join(s.root, strings.ToUpper(strings.ReplaceAll(symbol, "/", "")))
	return filepath.Join(dir, strings.ToLower(interval)+".db")
}

func ensureSchema(db *sql.DB, symbol, interval string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time       INTEGER PRIMARY KEY,
			open            REAL NOT NULL,
			high            REAL NOT NULL,
			low             REAL NOT NULL,
			close           REAL NOT NULL,
			volume          REAL NOT NULL,
			close_time      INTEGER NOT NULL,
			quote_volume    TEXT DEFAULT '',
			trades          INTEGER DEFAULT 0,
			taker_buy_base  TEXT DEFAULT '',
			taker_buy_quote TEXT DEFAULT '',
			ignore_field    TEXT DEFAULT '',
			inserted_at     INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol, interval) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, interval=excluded.interval;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(symbol), strings.ToLower(interval))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReplaceSeries rewrites the whole series inside one transaction: backfill
// output has overwrite semantics, never merge.
func (s *Store) ReplaceSeries(ctx context.Context, symbol, interval string, series market.Series) error {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM candles`); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertCandles(ctx, tx, series); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.refreshManifest(ctx, db)
}

// UpsertCandle stores one closed bar from the live stream, replacing any
// previous row with the same open_time.
func (s *Store) UpsertCandle(ctx context.Context, symbol, interval string, c market.Candle) error {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := insertCandles(ctx, tx, market.Series{c}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.refreshManifest(ctx, db)
}

func insertCandles(ctx context.Context, tx *sql.Tx, series market.Series) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, open, high, low, close, volume, close_time,
		                     quote_volume, trades, taker_buy_base, taker_buy_quote, ignore_field)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    close_time=excluded.close_time,
		    quote_volume=excluded.quote_volume,
		    trades=excluded.trades,
		    taker_buy_base=excluded.taker_buy_base,
		    taker_buy_quote=excluded.taker_buy_quote,
		    ignore_field=excluded.ignore_field`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range series {
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume,
			c.CloseTime, c.QuoteVolume, c.Trades, c.TakerBuyBase, c.TakerBuyQuote, c.Ignore); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func (s *Store) Manifest(ctx context.Context, symbol, interval string) (Manifest, error) {
	db, path, err := s.db(symbol, interval)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol, interval, COALESCE(min_time,0), COALESCE(max_time,0), rows, COALESCE(last_sync_at,0) FROM manifest WHERE id=1`)
	var m Manifest
	if err := row.Scan(&m.Symbol, &m.Interval, &m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	m.Path = path
	return m, nil
}

// QueryCandles reads [start, end] ascending, capped at limit. Zero bounds
// mean "most recent limit rows".
func (s *Store) QueryCandles(ctx context.Context, symbol, interval string, start, end int64, limit int) (market.Series, error) {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}
	const cols = `open_time, open, high, low, close, volume, close_time, quote_volume, trades, taker_buy_base, taker_buy_quote, ignore_field`
	orderDesc := false
	var rows *sql.Rows
	switch {
	case start > 0 && end > 0:
		if end < start {
			start, end = end, start
		}
		rows, err = db.QueryContext(ctx, `SELECT `+cols+` FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time ASC LIMIT ?`, start, end, limit)
	case start > 0:
		rows, err = db.QueryContext(ctx, `SELECT `+cols+` FROM candles WHERE open_time >= ? ORDER BY open_time ASC LIMIT ?`, start, limit)
	default:
		rows, err = db.QueryContext(ctx, `SELECT `+cols+` FROM candles ORDER BY open_time DESC LIMIT ?`, limit)
		orderDesc = true
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list market.Series
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&c.CloseTime, &c.QuoteVolume, &c.Trades, &c.TakerBuyBase, &c.TakerBuyQuote, &c.Ignore); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if orderDesc {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}
	return list, nil
}

// Gap is a closed range of open_times missing from the archive.
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport compares stored rows against the grid implied by the bar
// duration. Gaps are informational: a provider may legitimately have no
// trades in a period.
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps,omitempty"`
}

func (r IntegrityReport) Complete() bool { return r.Present >= r.Expected && len(r.Gaps) == 0 }

func (s *Store) CheckIntegrity(ctx context.Context, symbol, interval string, start, end int64) (IntegrityReport, error) {
	step, ok := market.ParseIntervalDuration(interval)
	if !ok {
		return IntegrityReport{}, fmt.Errorf("unsupported interval: %s", interval)
	}
	stepMs := step.Milliseconds()
	if end < start {
		start, end = end, start
	}
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return IntegrityReport{}, err
	}
	rows, err := db.QueryContext(ctx, `SELECT open_time FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	defer rows.Close()
	var present []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return IntegrityReport{}, err
		}
		present = append(present, ts)
	}
	if err := rows.Err(); err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{
		Expected: (end-start)/stepMs + 1,
		Present:  int64(len(present)),
	}
	cursor := start
	for _, ts := range present {
		if ts > cursor {
			report.Gaps = append(report.Gaps, Gap{From: cursor, To: ts - stepMs})
		}
		cursor = ts + stepMs
	}
	if cursor <= end {
		report.Gaps = append(report.Gaps, Gap{From: cursor, To: end})
	}
	return report, nil
}
