package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearch struct {
	pages     []map[string]any
	rateLimit int // number of 429s to serve before the first page
	headers   map[string]string
	requests  []*http.Request
}

func (f *fakeSearch) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.requests = append(f.requests, r.Clone(context.Background()))
		if f.rateLimit > 0 {
			f.rateLimit--
			for k, v := range f.headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		page := 0
		if token := r.URL.Query().Get("pagination_token"); token != "" {
			fmt.Sscanf(token, "page-%d", &page)
		}
		if page >= len(f.pages) {
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		resp := f.pages[page]
		if page+1 < len(f.pages) {
			resp["meta"] = map[string]any{"next_token": fmt.Sprintf("page-%d", page+1)}
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func searchPage(tweetIDs ...string) map[string]any {
	data := make([]map[string]any, 0, len(tweetIDs))
	for i, id := range tweetIDs {
		data = append(data, map[string]any{
			"id":         id,
			"created_at": time.Now().UTC().Add(-time.Duration(i) * time.Minute).Format(time.RFC3339),
			"text":       "tweet " + id,
			"lang":       "en",
			"author_id":  "u1",
			"public_metrics": map[string]any{
				"retweet_count": 2, "reply_count": 1, "like_count": 10, "quote_count": 0,
			},
			"entities": map[string]any{
				"hashtags": []map[string]any{{"tag": "Bitcoin"}},
				"mentions": []map[string]any{{"username": "someone"}},
			},
		})
	}
	return map[string]any{
		"data": data,
		"includes": map[string]any{
			"users": []map[string]any{
				{"id": "u1", "username": "alice", "name": "Alice", "verified": true},
			},
		},
	}
}

func newTestClient(t *testing.T, fs *fakeSearch, cfg Config) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)

	cfg.BearerToken = "test-token"
	cfg.SearchURL = srv.URL
	if cfg.Query == "" {
		cfg.Query = "$BTC OR #Bitcoin -is:retweet"
	}
	c, err := New(cfg)
	require.NoError(t, err)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c.jitter = func() float64 { return 0 }
	return c, &slept
}

func TestSearchPagination(t *testing.T) {
	fs := &fakeSearch{pages: []map[string]any{
		searchPage("1", "2"),
		searchPage("3"),
	}}
	c, _ := newTestClient(t, fs, Config{})

	tweets, err := c.Search(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, tweets, 3)
	assert.Len(t, fs.requests, 2)
	assert.Equal(t, "page-1", fs.requests[1].URL.Query().Get("pagination_token"))
	// author resolved from the includes block
	assert.Equal(t, "alice", tweets[0].AuthorUsername)
	assert.True(t, tweets[0].AuthorVerified)
	assert.Equal(t, []string{"Bitcoin"}, tweets[0].Hashtags)
	// bearer token on every request
	assert.Equal(t, "Bearer test-token", fs.requests[0].Header.Get("Authorization"))
}

func TestSearchMaxTweetsCap(t *testing.T) {
	fs := &fakeSearch{pages: []map[string]any{
		searchPage("1", "2", "3"),
		searchPage("4"),
	}}
	c, _ := newTestClient(t, fs, Config{MaxTweets: 2})

	tweets, err := c.Search(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, tweets, 2)
	assert.Len(t, fs.requests, 1, "cap reached on the first page, no second request")
}

func TestSearchRetryAfterHeader(t *testing.T) {
	fs := &fakeSearch{
		pages:     []map[string]any{searchPage("1")},
		rateLimit: 1,
		headers:   map[string]string{"Retry-After": "7"},
	}
	c, slept := newTestClient(t, fs, Config{})

	tweets, err := c.Search(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, tweets, 1)
	require.NotEmpty(t, *slept)
	assert.Equal(t, 7*time.Second, (*slept)[0])
}

func TestSearchRateLimitBackoffDoubles(t *testing.T) {
	fs := &fakeSearch{pages: []map[string]any{searchPage("1")}, rateLimit: 2}
	c, slept := newTestClient(t, fs, Config{RetryDelay: time.Second})

	_, err := c.Search(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(*slept), 2)
	assert.Equal(t, time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
}

func TestSearchRateLimitExhaustion(t *testing.T) {
	fs := &fakeSearch{pages: []map[string]any{searchPage("1")}, rateLimit: 10}
	c, _ := newTestClient(t, fs, Config{MaxRetries: 2, RetryDelay: time.Millisecond})

	_, err := c.Search(context.Background(), 24*time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCSVFilenameSlug(t *testing.T) {
	now := time.Date(2024, 5, 25, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "btc_tweets_20240525.csv", CSVFilename("$BTC OR #Bitcoin", now))
	assert.Equal(t, "customquery_tweets_20240525.csv", CSVFilename("-- --", now))
}
