package news

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"farmlink/pkg/domain"
)

const (
	defaultBaseURL = "https://serpapi.com"
	defaultQuery   = "Jamaica agriculture site:news.google.com"
	maxItems       = 5
	cacheKey       = "farmlink:news:agriculture"
	cacheTTL       = 10 * time.Minute
)

// Client fetches agriculture headlines from the SerpAPI Google News engine.
// Results are cached in redis so the dashboard does not burn API quota on
// every page load.
type Client struct {
	baseURL    string
	apiKey     string
	query      string
	httpClient *http.Client
	rdb        *redis.Client
}

// Option tweaks client construction.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint, mainly for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithCache enables redis caching of fetched headlines.
func WithCache(rdb *redis.Client) Option {
	return func(c *Client) { c.rdb = rdb }
}

// WithQuery overrides the default search query.
func WithQuery(q string) Option {
	return func(c *Client) {
		if q != "" {
			c.query = q
		}
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		query:      defaultQuery,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	NewsResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"news_results"`
	Error string `json:"error"`
}

// Top returns up to five current headlines, serving from cache when possible.
func (c *Client) Top(ctx context.Context) ([]domain.NewsItem, error) {
	if items, ok := c.fromCache(ctx); ok {
		return items, nil
	}

	q := url.Values{}
	q.Set("engine", "google")
	q.Set("tbm", "nws")
	q.Set("q", c.query)
	q.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch news: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch news: upstream status %d", resp.StatusCode)
	}
	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("fetch news: %s", parsed.Error)
	}

	items := make([]domain.NewsItem, 0, maxItems)
	for _, r := range parsed.NewsResults {
		if len(items) == maxItems {
			break
		}
		items = append(items, domain.NewsItem{Title: r.Title, Link: r.Link, Snippet: r.Snippet})
	}
	c.toCache(ctx, items)
	return items, nil
}

func (c *Client) fromCache(ctx context.Context) ([]domain.NewsItem, bool) {
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var items []domain.NewsItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func (c *Client) toCache(ctx context.Context, items []domain.NewsItem) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey, raw, cacheTTL).Err(); err != nil {
		slog.Warn("cache news failed", "err", err)
	}
}
