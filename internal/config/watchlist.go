package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"candlevault/internal/logger"
)

// WatchEntry is one symbol with the intervals to mirror and backfill.
type WatchEntry struct {
	Symbol    string   `yaml:"symbol"`
	Intervals []string `yaml:"intervals"`
}

type watchlistFile struct {
	Watchlist []WatchEntry `yaml:"watchlist"`
}

// WatchlistSnapshot is the read-only view handed to listeners.
type WatchlistSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Entries  []WatchEntry
}

// Pairs flattens the snapshot into (symbol, interval) tuples.
func (s WatchlistSnapshot) Pairs() [][2]string {
	var out [][2]string
	for _, e := range s.Entries {
		for _, iv := range e.Intervals {
			out = append(out, [2]string{e.Symbol, iv})
		}
	}
	return out
}

// WatchlistListener is called with the new snapshot after each reload.
type WatchlistListener func(WatchlistSnapshot)

// WatchlistLoader reads the watchlist YAML and follows file changes.
type WatchlistLoader struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	snapshot  WatchlistSnapshot
	listeners []WatchlistListener
	closeOnce sync.Once
	done      chan struct{}
}

// NewWatchlistLoader reads the file and starts watching its directory.
// Watching the directory instead of the file keeps editors that replace
// the file on save from silently detaching the watch.
func NewWatchlistLoader(path string) (*WatchlistLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("watchlist loader requires a path")
	}
	l := &WatchlistLoader{path: filepath.Clean(path), done: make(chan struct{})}
	if err := l.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watchlist watcher failed: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s failed: %w", filepath.Dir(l.path), err)
	}
	l.watcher = watcher
	go l.watchLoop()
	return l, nil
}

func (l *WatchlistLoader) watchLoop() {
	for {
		select {
		case <-l.done:
			return
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != l.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("watchlist reload failed (%s): %v", evt.Name, err)
				continue
			}
			l.notify()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("watchlist watcher error: %v", err)
		}
	}
}

func (l *WatchlistLoader) reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read watchlist failed: %w", err)
	}
	var file watchlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse watchlist failed: %w", err)
	}
	entries := normalizeEntries(file.Watchlist)
	if len(entries) == 0 {
		return fmt.Errorf("watchlist %s has no usable entries", l.path)
	}

	l.mu.Lock()
	l.snapshot = WatchlistSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Entries:  entries,
	}
	l.mu.Unlock()
	logger.Infof("watchlist loaded %d entries from %s", len(entries), filepath.Base(l.path))
	return nil
}

func normalizeEntries(in []WatchEntry) []WatchEntry {
	out := make([]WatchEntry, 0, len(in))
	for _, e := range in {
		sym := strings.ToUpper(strings.TrimSpace(e.Symbol))
		if sym == "" {
			continue
		}
		var intervals []string
		seen := map[string]bool{}
		for _, iv := range e.Intervals {
			iv = strings.ToLower(strings.TrimSpace(iv))
			if iv == "" || seen[iv] {
				continue
			}
			seen[iv] = true
			intervals = append(intervals, iv)
		}
		if len(intervals) == 0 {
			intervals = []string{"1m"}
		}
		out = append(out, WatchEntry{Symbol: sym, Intervals: intervals})
	}
	return out
}

// Snapshot returns the current watchlist.
func (l *WatchlistLoader) Snapshot() WatchlistSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener and immediately delivers the current
// snapshot to it.
func (l *WatchlistLoader) Subscribe(fn WatchlistListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go runListener(fn, snap)
}

func (l *WatchlistLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]WatchlistListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go runListener(fn, snap)
	}
}

func runListener(fn WatchlistListener, snap WatchlistSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("watchlist listener panic: %v", r)
		}
	}()
	fn(snap)
}

func cloneSnapshot(snap WatchlistSnapshot) WatchlistSnapshot {
	out := snap
	out.Entries = make([]WatchEntry, len(snap.Entries))
	for i, e := range snap.Entries {
		out.Entries[i] = WatchEntry{
			Symbol:    e.Symbol,
			Intervals: append([]string(nil), e.Intervals...),
		}
	}
	return out
}

func (l *WatchlistLoader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}
