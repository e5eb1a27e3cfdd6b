package social

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"candlevault/internal/logger"
)

const (
	defaultSearchURL  = "https://api.twitter.com/2/tweets/search/recent"
	defaultMaxTweets  = 500
	maxResultsPerPage = 100
	defaultMaxRetries = 5
	defaultRetryDelay = 60 * time.Second
	defaultPageDelay  = 2 * time.Second
	defaultTimeout    = 15 * time.Second

	// recent search only covers the last seven days
	maxLookback = 7 * 24 * time.Hour

	tweetFields = "created_at,lang,author_id,public_metrics,source,geo,entities"
	userFields  = "username,name,verified"
)

// Config for the recent-search client.
type Config struct {
	BearerToken string
	SearchURL   string
	Query       string
	Lang        string
	MaxTweets   int
	MaxRetries  int           // rate-limit retries per run
	RetryDelay  time.Duration // first 429 backoff when no Retry-After header
	PageDelay   time.Duration
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.SearchURL == "" {
		out.SearchURL = defaultSearchURL
	}
	if out.Lang == "" {
		out.Lang = "en"
	}
	if out.MaxTweets <= 0 {
		out.MaxTweets = defaultMaxTweets
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = defaultMaxRetries
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = defaultRetryDelay
	}
	if out.PageDelay <= 0 {
		out.PageDelay = defaultPageDelay
	}
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	return out
}

// Tweet is one search hit with its author resolved from the includes block.
type Tweet struct {
	TweetID        string
	CreatedAt      time.Time
	Text           string
	Lang           string
	AuthorID       string
	AuthorUsername string
	AuthorName     string
	AuthorVerified bool
	RetweetCount   int64
	ReplyCount     int64
	LikeCount      int64
	QuoteCount     int64
	Hashtags       []string
	Mentions       []string
	Raw            []byte
}

type Client struct {
	cfg    Config
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BearerToken == "" {
		return nil, fmt.Errorf("bearer token is required")
	}
	if cfg.Query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  sleepWithContext,
		jitter: rand.Float64,
	}, nil
}

// Search pages through recent results until MaxTweets is reached or the
// pagination token runs out. A 429 waits the Retry-After header if present,
// otherwise a doubling delay with jitter, up to MaxRetries waits per run.
func (c *Client) Search(ctx context.Context, window time.Duration) ([]Tweet, error) {
	if window <= 0 || window > maxLookback {
		logger.Warnf("[tweets] window clamped to the 7-day recent-search horizon")
		window = maxLookback
	}
	startTime := time.Now().UTC().Add(-window).Format(time.RFC3339)

	var (
		tweets    []Tweet
		users     = map[string]gjson.Result{}
		nextToken string
		retries   int
	)
	for len(tweets) < c.cfg.MaxTweets {
		remaining := c.cfg.MaxTweets - len(tweets)
		pageURL := c.pageURL(startTime, remaining, nextToken)

		resp, body, err := c.get(ctx, pageURL)
		if err != nil {
			return tweets, err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			retries++
			if retries > c.cfg.MaxRetries {
				return tweets, fmt.Errorf("rate limited %d times, giving up", c.cfg.MaxRetries)
			}
			wait := c.rateLimitWait(resp, retries)
			logger.Warnf("[tweets] rate limited, waiting %s (attempt %d/%d)", wait, retries, c.cfg.MaxRetries)
			if err := c.sleep(ctx, wait); err != nil {
				return tweets, err
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return tweets, fmt.Errorf("search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if !gjson.ValidBytes(body) {
			return tweets, fmt.Errorf("search returned invalid JSON")
		}
		retries = 0

		parsed := gjson.ParseBytes(body)
		parsed.Get("includes.users").ForEach(func(_, u gjson.Result) bool {
			users[u.Get("id").String()] = u
			return true
		})
		page := parsed.Get("data").Array()
		if len(page) == 0 {
			logger.Infof("[tweets] empty page, stopping")
			break
		}
		for _, item := range page {
			tweets = append(tweets, parseTweet(item, users))
			if len(tweets) >= c.cfg.MaxTweets {
				break
			}
		}

		nextToken = parsed.Get("meta.next_token").String()
		if nextToken == "" || len(tweets) >= c.cfg.MaxTweets {
			break
		}
		if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
			return tweets, err
		}
	}

	sort.SliceStable(tweets, func(i, j int) bool {
		return tweets[i].CreatedAt.After(tweets[j].CreatedAt)
	})
	logger.Infof("[tweets] fetched %d tweets for query %q", len(tweets), c.cfg.Query)
	return tweets, nil
}

func (c *Client) pageURL(startTime string, remaining int, nextToken string) string {
	maxResults := maxResultsPerPage
	if remaining < maxResults {
		maxResults = remaining
	}
	// the API floor for max_results is 10
	if maxResults < 10 {
		maxResults = 10
	}
	q := url.Values{}
	q.Set("query", fmt.Sprintf("%s lang:%s", c.cfg.Query, c.cfg.Lang))
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("start_time", startTime)
	q.Set("tweet.fields", tweetFields)
	q.Set("expansions", "author_id")
	q.Set("user.fields", userFields)
	if nextToken != "" {
		q.Set("pagination_token", nextToken)
	}
	return c.cfg.SearchURL + "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, pageURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (c *Client) rateLimitWait(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	wait := c.cfg.RetryDelay * (1 << (attempt - 1))
	wait += time.Duration(float64(wait) * 0.1 * c.jitter())
	return wait
}

func parseTweet(item gjson.Result, users map[string]gjson.Result) Tweet {
	authorID := item.Get("author_id").String()
	author := users[authorID]

	var hashtags, mentions []string
	item.Get("entities.hashtags").ForEach(func(_, tag gjson.Result) bool {
		hashtags = append(hashtags, tag.Get("tag").String())
		return true
	})
	item.Get("entities.mentions").ForEach(func(_, m gjson.Result) bool {
		mentions = append(mentions, m.Get("username").String())
		return true
	})

	createdAt, _ := time.Parse(time.RFC3339, item.Get("created_at").String())
	return Tweet{
		TweetID:        item.Get("id").String(),
		CreatedAt:      createdAt.UTC(),
		Text:           item.Get("text").String(),
		Lang:           item.Get("lang").String(),
		AuthorID:       authorID,
		AuthorUsername: author.Get("username").String(),
		AuthorName:     author.Get("name").String(),
		AuthorVerified: author.Get("verified").Bool(),
		RetweetCount:   item.Get("public_metrics.retweet_count").Int(),
		ReplyCount:     item.Get("public_metrics.reply_count").Int(),
		LikeCount:      item.Get("public_metrics.like_count").Int(),
		QuoteCount:     item.Get("public_metrics.quote_count").Int(),
		Hashtags:       hashtags,
		Mentions:       mentions,
		Raw:            []byte(item.Raw),
	}
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
