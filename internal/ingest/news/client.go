package news

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"candlevault/internal/logger"
)

const (
	defaultBaseURL   = "https://cryptopanic.com/api/v1/posts/"
	defaultMaxPages  = 10
	defaultPageDelay = 500 * time.Millisecond
	defaultTimeout   = 15 * time.Second
)

// Config for the CryptoPanic posts client.
type Config struct {
	APIKey     string
	BaseURL    string
	Currencies []string // e.g. BTC, ETH; empty fetches general posts
	Kind       string   // "news" or "media"
	MaxPages   int
	PageDelay  time.Duration
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.Kind == "" {
		out.Kind = "news"
	}
	if out.MaxPages <= 0 {
		out.MaxPages = defaultMaxPages
	}
	if out.PageDelay <= 0 {
		out.PageDelay = defaultPageDelay
	}
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	return out
}

// Post is one news item, already filtered to the requested window.
type Post struct {
	ProviderID   int64
	PublishedAt  time.Time
	Title        string
	URL          string
	SourceDomain string
	SourceTitle  string
	Kind         string
	Currencies   []string
	Votes        map[string]int64
	Raw          []byte
}

// voteKeys is the vote breakdown exported to CSV, in column order.
var voteKeys = []string{"positive", "negative", "important", "liked", "disliked", "lol", "toxic", "saved"}

type Client struct {
	cfg    Config
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cryptopanic api key is required")
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  sleepWithContext,
	}, nil
}

// Fetch walks the posts feed newest-first, following the API's next URL,
// and returns every post published within the last `window`. The feed is
// sorted newest first upstream, so the first post older than the cutoff
// ends the walk.
func (c *Client) Fetch(ctx context.Context, window time.Duration) ([]Post, error) {
	cutoff := time.Now().UTC().Add(-window)
	currentURL, err := c.firstPageURL()
	if err != nil {
		return nil, err
	}

	var posts []Post
	for page := 1; currentURL != "" && page <= c.cfg.MaxPages; page++ {
		logger.Infof("[news] fetching page %d", page)
		body, err := c.getPage(ctx, currentURL)
		if err != nil {
			return posts, err
		}
		parsed := gjson.ParseBytes(body)
		results := parsed.Get("results")
		if !results.Exists() || len(results.Array()) == 0 {
			logger.Infof("[news] page %d has no results, stopping", page)
			break
		}

		tooOld := false
		results.ForEach(func(_, item gjson.Result) bool {
			post, ok := parsePost(item)
			if !ok {
				logger.Warnf("[news] skipping post %s: missing published_at or title", item.Get("id").Raw)
				return true
			}
			if post.PublishedAt.Before(cutoff) {
				tooOld = true
				return false
			}
			posts = append(posts, post)
			return true
		})
		if tooOld {
			logger.Infof("[news] reached posts older than %s, stopping", cutoff.Format(time.RFC3339))
			break
		}

		currentURL = parsed.Get("next").String()
		if currentURL == "" {
			break
		}
		if page < c.cfg.MaxPages {
			if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
				return posts, err
			}
		}
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].PublishedAt.After(posts[j].PublishedAt)
	})
	logger.Infof("[news] fetched %d posts", len(posts))
	return posts, nil
}

func (c *Client) firstPageURL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse news base url: %w", err)
	}
	q := u.Query()
	q.Set("auth_token", c.cfg.APIKey)
	q.Set("kind", c.cfg.Kind)
	if len(c.cfg.Currencies) > 0 {
		q.Set("currencies", strings.ToUpper(strings.Join(c.cfg.Currencies, ",")))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) getPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("news feed returned invalid JSON")
	}
	return body, nil
}

func parsePost(item gjson.Result) (Post, bool) {
	published := item.Get("published_at").String()
	title := item.Get("title").String()
	if published == "" || title == "" {
		return Post{}, false
	}
	ts, err := time.Parse(time.RFC3339, published)
	if err != nil {
		return Post{}, false
	}

	var currencies []string
	item.Get("currencies").ForEach(func(_, cur gjson.Result) bool {
		if code := cur.Get("code").String(); code != "" {
			currencies = append(currencies, code)
		}
		return true
	})

	votes := make(map[string]int64, len(voteKeys))
	for _, key := range voteKeys {
		votes[key] = item.Get("votes." + key).Int()
	}

	return Post{
		ProviderID:   item.Get("id").Int(),
		PublishedAt:  ts.UTC(),
		Title:        title,
		URL:          item.Get("url").String(),
		SourceDomain: item.Get("source.domain").String(),
		SourceTitle:  item.Get("source.title").String(),
		Kind:         item.Get("kind").String(),
		Currencies:   currencies,
		Votes:        votes,
		Raw:          []byte(item.Raw),
	}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
