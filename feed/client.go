// Package feed is a client for RESO Web API (OData) listing feeds.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	"listings_sync/config"
	"listings_sync/metrics"
	"listings_sync/models"
)

const (
	ResourceProperty  = "Property"
	ResourceMedia     = "Media"
	ResourceRooms     = "PropertyRooms"
	ResourceOpenHouse = "OpenHouse"

	childPageSize = 200
	maxChildPages = 10
	maxRetryDelay = 2 * time.Minute
)

// StatusError is a non-2xx response from the feed.
type StatusError struct {
	Resource   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Resource, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Options struct {
	RequestsPerMinute int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	HTTPClient        *http.Client
}

func OptionsFromConfig(cfg config.FeedConfig, httpClient *http.Client) Options {
	return Options{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxRetries:        cfg.MaxRetries,
		RetryBaseDelay:    cfg.RetryBaseDelay,
		HTTPClient:        httpClient,
	}
}

// Client implements the paging contract the sync orchestrator relies on:
// batches ordered by (ModificationTimestamp, ListingKey) strictly after a
// cursor. Each feed has its own request budget and each resource its own
// circuit breaker.
type Client struct {
	feeds          map[models.SyncType]*config.FeedSource
	http           *http.Client
	limiters       map[models.SyncType]*rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func NewClient(feeds map[models.SyncType]*config.FeedSource, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 120
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	limiters := make(map[models.SyncType]*rate.Limiter, len(feeds))
	for t := range feeds {
		limiters[t] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Client{
		feeds:          feeds,
		http:           opts.HTTPClient,
		limiters:       limiters,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
		breakers:       make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

type page struct {
	Count    *int               `json:"@odata.count"`
	Value    []models.RawRecord `json:"value"`
	NextLink string             `json:"@odata.nextLink"`
}

// TotalCount returns how many properties sort after cursor.
func (c *Client) TotalCount(ctx context.Context, syncType models.SyncType, cursor models.Cursor) (int, error) {
	feed, err := c.feed(syncType)
	if err != nil {
		return 0, err
	}
	query := [][2]string{
		{"$filter", BatchFilter(feed.Filter, cursor)},
		{"$count", "true"},
		{"$top", "0"},
	}
	p, err := c.get(ctx, syncType, ResourceProperty, query)
	if err != nil {
		return 0, err
	}
	if p.Count == nil {
		return 0, fmt.Errorf("%s: response has no @odata.count", ResourceProperty)
	}
	return *p.Count, nil
}

// FetchBatch returns up to batchSize properties strictly after cursor.
func (c *Client) FetchBatch(ctx context.Context, syncType models.SyncType, cursor models.Cursor, batchSize int) ([]models.RawRecord, error) {
	feed, err := c.feed(syncType)
	if err != nil {
		return nil, err
	}
	query := [][2]string{
		{"$filter", BatchFilter(feed.Filter, cursor)},
		{"$orderby", "ModificationTimestamp,ListingKey"},
		{"$top", strconv.Itoa(batchSize)},
	}
	p, err := c.get(ctx, syncType, ResourceProperty, query)
	if err != nil {
		return nil, err
	}
	return p.Value, nil
}

// FetchChildren returns every record of entity belonging to parentKey.
func (c *Client) FetchChildren(ctx context.Context, syncType models.SyncType, parentKey string, entity models.EntityType) ([]models.RawRecord, error) {
	resource, filter, err := childQuery(entity, parentKey)
	if err != nil {
		return nil, err
	}

	// $skip paging is only stable over a total order.
	orderBy := entity.KeyField()

	var out []models.RawRecord
	for i := 0; i < maxChildPages; i++ {
		query := [][2]string{
			{"$filter", filter},
			{"$orderby", orderBy},
			{"$top", strconv.Itoa(childPageSize)},
			{"$skip", strconv.Itoa(i * childPageSize)},
		}
		p, err := c.get(ctx, syncType, resource, query)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Value...)
		if len(p.Value) < childPageSize {
			return out, nil
		}
	}
	log.Warn().
		Str("sync_type", string(syncType)).
		Str("listing_key", parentKey).
		Str("entity", string(entity)).
		Int("records", len(out)).
		Msg("Child page limit reached, result truncated")
	return out, nil
}

func childQuery(entity models.EntityType, parentKey string) (resource, filter string, err error) {
	switch entity {
	case models.EntityMedia:
		return ResourceMedia, fmt.Sprintf("ResourceRecordKey eq '%s'", Quote(parentKey)), nil
	case models.EntityRooms:
		return ResourceRooms, fmt.Sprintf("ListingKey eq '%s'", Quote(parentKey)), nil
	case models.EntityOpenHouse:
		return ResourceOpenHouse, fmt.Sprintf("ListingKey eq '%s'", Quote(parentKey)), nil
	}
	return "", "", fmt.Errorf("no feed resource for entity %q", entity)
}

// BatchFilter selects records strictly after cursor in
// (ModificationTimestamp, ListingKey) order, within the feed's base filter.
func BatchFilter(base string, cursor models.Cursor) string {
	f := fmt.Sprintf("(ModificationTimestamp gt %s or (ModificationTimestamp eq %s and ListingKey gt '%s'))",
		cursor.Timestamp, cursor.Timestamp, Quote(cursor.Key))
	if base = strings.TrimSpace(base); base != "" {
		f = "(" + base + ") and " + f
	}
	return f
}

// Quote escapes a value for use inside an OData string literal.
func Quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func (c *Client) feed(syncType models.SyncType) (*config.FeedSource, error) {
	feed, ok := c.feeds[syncType]
	if !ok {
		return nil, fmt.Errorf("feed %q is not configured", syncType)
	}
	return feed, nil
}

func (c *Client) get(ctx context.Context, syncType models.SyncType, resource string, query [][2]string) (*page, error) {
	feed, err := c.feed(syncType)
	if err != nil {
		return nil, err
	}
	reqURL := strings.TrimRight(feed.BaseURL, "/") + "/" + feed.Endpoint(resource) + "?" + encodeQuery(query)

	body, err := c.breaker(syncType, resource).Execute(func() ([]byte, error) {
		return c.doWithRetry(ctx, syncType, feed, resource, reqURL)
	})
	if err != nil {
		return nil, err
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", resource, err)
	}
	return &p, nil
}

// doWithRetry sends one GET, retrying network errors, 429 and 5xx with
// exponential backoff. Retry-After is honoured when present.
func (c *Client) doWithRetry(ctx context.Context, syncType models.SyncType, feed *config.FeedSource, resource, reqURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiters[syncType].Wait(ctx); err != nil {
			return nil, err
		}

		body, retryAfter, err := c.do(ctx, feed, resource, reqURL)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, err
		}
		lastErr = err

		if attempt == c.maxRetries {
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter > 0 {
			delay = retryAfter
		}
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		metrics.FeedRetries.WithLabelValues(resource).Inc()
		log.Debug().Err(err).
			Str("resource", resource).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying feed request")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%s: giving up after %d retries: %w", resource, c.maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, feed *config.FeedSource, resource, reqURL string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if feed.Token != "" {
		req.Header.Set("Authorization", "Bearer "+feed.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.FeedRequestDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FeedRequests.WithLabelValues(resource, "error").Inc()
		return nil, 0, fmt.Errorf("%s: %w", resource, err)
	}
	defer resp.Body.Close()
	metrics.FeedRequests.WithLabelValues(resource, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), &StatusError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", resource, err)
	}
	return body, 0, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// encodeQuery keeps OData system options ($filter, $top, ...) readable and
// encodes spaces as %20, which some feeds require.
func encodeQuery(params [][2]string) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p[0]+"="+strings.ReplaceAll(url.QueryEscape(p[1]), "+", "%20"))
	}
	return strings.Join(parts, "&")
}
