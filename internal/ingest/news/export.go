package news

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"candlevault/internal/store/gormstore"
)

// ToRows converts fetched posts to their persisted form. The vote breakdown
// and the raw upstream item travel as JSON.
func ToRows(posts []Post) ([]gormstore.NewsPostRow, error) {
	now := time.Now().Unix()
	rows := make([]gormstore.NewsPostRow, 0, len(posts))
	for _, p := range posts {
		votes, err := json.Marshal(p.Votes)
		if err != nil {
			return nil, fmt.Errorf("marshal votes for post %d: %w", p.ProviderID, err)
		}
		rows = append(rows, gormstore.NewsPostRow{
			ProviderID:      p.ProviderID,
			PublishedAtUnix: p.PublishedAt.Unix(),
			Title:           p.Title,
			URL:             p.URL,
			SourceDomain:    p.SourceDomain,
			SourceTitle:     p.SourceTitle,
			Kind:            p.Kind,
			Currencies:      strings.Join(p.Currencies, ", "),
			Votes:           votes,
			Raw:             p.Raw,
			FetchedAtUnix:   now,
		})
	}
	return rows, nil
}

// CSVFilename follows <currencies>_news_<kind>_<yyyymmdd>.csv, with "general"
// standing in when no currency filter was set.
func CSVFilename(currencies []string, kind string, now time.Time) string {
	tag := "general"
	if len(currencies) > 0 {
		tag = strings.ToUpper(strings.Join(currencies, "-"))
	}
	return fmt.Sprintf("%s_news_%s_%s.csv", tag, kind, now.Format("20060102"))
}

var csvHeader = []string{
	"id", "published_at_utc", "title", "url", "source_domain", "source_title",
	"kind", "currencies_involved",
	"votes_positive", "votes_negative", "votes_important", "votes_liked",
	"votes_disliked", "votes_lol", "votes_toxic", "votes_saved",
}

// WriteCSV exports the posts newest-first via a temp file plus rename.
func WriteCSV(path string, posts []Post) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".news-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return err
	}
	for _, p := range posts {
		record := []string{
			strconv.FormatInt(p.ProviderID, 10),
			p.PublishedAt.Format(time.RFC3339),
			p.Title,
			p.URL,
			p.SourceDomain,
			p.SourceTitle,
			p.Kind,
			strings.Join(p.Currencies, ", "),
		}
		for _, key := range voteKeys {
			record = append(record, strconv.FormatInt(p.Votes[key], 10))
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
