package social

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"candlevault/internal/store/gormstore"
)

// ToRows converts search hits to their persisted form.
func ToRows(tweets []Tweet) []gormstore.TweetRow {
	now := time.Now().Unix()
	rows := make([]gormstore.TweetRow, 0, len(tweets))
	for _, t := range tweets {
		rows = append(rows, gormstore.TweetRow{
			TweetID:        t.TweetID,
			CreatedAtUnix:  t.CreatedAt.Unix(),
			Text:           t.Text,
			Lang:           t.Lang,
			AuthorID:       t.AuthorID,
			AuthorUsername: t.AuthorUsername,
			AuthorName:     t.AuthorName,
			AuthorVerified: t.AuthorVerified,
			RetweetCount:   t.RetweetCount,
			ReplyCount:     t.ReplyCount,
			LikeCount:      t.LikeCount,
			QuoteCount:     t.QuoteCount,
			Hashtags:       strings.Join(t.Hashtags, ", "),
			Mentions:       strings.Join(t.Mentions, ", "),
			Raw:            t.Raw,
			FetchedAtUnix:  now,
		})
	}
	return rows
}

// CSVFilename derives <slug>_tweets_<yyyymmdd>.csv from the first query term,
// keeping only its alphanumerics.
func CSVFilename(query string, now time.Time) string {
	slug := querySlug(query)
	return fmt.Sprintf("%s_tweets_%s.csv", slug, now.Format("20060102"))
}

func querySlug(query string) string {
	first := query
	if i := strings.IndexByte(first, ' '); i >= 0 {
		first = first[:i]
	}
	var b strings.Builder
	for _, r := range first {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	if b.Len() == 0 {
		return "customquery"
	}
	return b.String()
}

var csvHeader = []string{
	"tweet_id", "created_at_utc", "text", "lang",
	"author_id", "author_username", "author_name", "author_verified",
	"retweet_count", "reply_count", "like_count", "quote_count",
	"hashtags", "mentions",
}

// WriteCSV exports the tweets newest-first via a temp file plus rename.
func WriteCSV(path string, tweets []Tweet) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tweets-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return err
	}
	for _, t := range tweets {
		record := []string{
			t.TweetID,
			t.CreatedAt.Format(time.RFC3339),
			t.Text,
			t.Lang,
			t.AuthorID,
			t.AuthorUsername,
			t.AuthorName,
			strconv.FormatBool(t.AuthorVerified),
			strconv.FormatInt(t.RetweetCount, 10),
			strconv.FormatInt(t.ReplyCount, 10),
			strconv.FormatInt(t.LikeCount, 10),
			strconv.FormatInt(t.QuoteCount, 10),
			strings.Join(t.Hashtags, ", "),
			strings.Join(t.Mentions, ", "),
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
