// Package youtube is the quota-aware client for the YouTube Data API
// videos endpoint.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"livenotify/internal/model"
	"livenotify/internal/telemetry"
)

// Sentinel errors returned by the client.
var (
	// ErrQuotaExceeded is returned once the provider rejected a request for
	// authorization or quota reasons. It stays set until Quota.Reset.
	ErrQuotaExceeded = errors.New("youtube: quota exceeded")
	// ErrDailyBudget is returned when the local daily budget is spent.
	ErrDailyBudget = errors.New("youtube: daily budget exhausted")
	// ErrRetriesExhausted wraps the last transient failure.
	ErrRetriesExhausted = errors.New("youtube: retries exhausted")
	// ErrNotFound is returned by Fetch when the provider has no such video.
	ErrNotFound = errors.New("youtube: video not found")
)

const (
	// DefaultBaseURL is the Data API v3 root.
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"
	// MaxBatchSize is the provider's limit of IDs per videos.list call.
	MaxBatchSize = 50

	unitCost       = 1
	initialBackoff = 1 * time.Second
	maxBodyBytes   = 4 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	APIKey      string
	BaseURL     string
	Spacing     time.Duration
	MaxRetries  int
	BatchSize   int
	Concurrency int
	CacheTTL    time.Duration
	DailyLimit  int
}

// Client fetches video metadata through a TTL cache while enforcing the
// request spacing, retry policy and quota budget.
type Client struct {
	http        HTTPClient
	apiKey      string
	baseURL     string
	quota       *Quota
	cache       *Cache
	limiter     *rate.Limiter
	maxRetries  int
	batchSize   int
	concurrency int
	log         *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	units     metric.Int64Counter
	fetchErrs metric.Int64Counter
}

// New creates a Client.
func New(httpClient HTTPClient, opts Options, log *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Spacing <= 0 {
		opts.Spacing = 500 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 7 * 24 * time.Hour
	}
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = 10000
	}

	meter := telemetry.Meter("livenotify/youtube")
	units, _ := meter.Int64Counter("livenotify.quota.units",
		metric.WithDescription("Quota units charged against the daily budget"))
	errs, _ := meter.Int64Counter("livenotify.fetch.errors",
		metric.WithDescription("Failed metadata requests by kind"))

	return &Client{
		http:        httpClient,
		apiKey:      opts.APIKey,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		quota:       NewQuota(opts.DailyLimit),
		cache:       NewCache(opts.CacheTTL),
		limiter:     rate.NewLimiter(rate.Every(opts.Spacing), 1),
		maxRetries:  opts.MaxRetries,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		log:         log,
		sleep:       sleepCtx,
		units:       units,
		fetchErrs:   errs,
	}
}

// Quota exposes the client's quota state.
func (c *Client) Quota() *Quota {
	return c.quota
}

// ResetQuota clears the sticky exhaustion flag.
func (c *Client) ResetQuota() {
	c.quota.Reset()
	c.log.Info("quota reset by operator")
}

// QuotaState returns a snapshot of the quota counters.
func (c *Client) QuotaState() model.QuotaState {
	return c.quota.State()
}

// Fetch returns metadata for a single video, from cache when fresh.
func (c *Client) Fetch(ctx context.Context, id string) (model.Metadata, error) {
	got, err := c.FetchBatch(ctx, []string{id})
	if err != nil {
		return model.Metadata{}, err
	}
	md, ok := got[id]
	if !ok {
		return model.Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return md, nil
}

// FetchBatch returns metadata for ids. Cache hits are served without a
// request; misses are grouped into batched calls. IDs the provider does not
// return are absent from the result. On error the result may be partial.
func (c *Client) FetchBatch(ctx context.Context, ids []string) (map[string]model.Metadata, error) {
	return c.fetch(ctx, ids, true)
}

// Refresh is FetchBatch without cache reads. Results are still cached.
func (c *Client) Refresh(ctx context.Context, ids []string) (map[string]model.Metadata, error) {
	return c.fetch(ctx, ids, false)
}

func (c *Client) fetch(ctx context.Context, ids []string, useCache bool) (map[string]model.Metadata, error) {
	out := make(map[string]model.Metadata, len(ids))
	var misses []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if useCache {
			if md, ok := c.cache.Get(id); ok {
				out[id] = md
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(misses); start += c.batchSize {
		chunk := misses[start:min(start+c.batchSize, len(misses))]
		g.Go(func() error {
			items, err := c.call(ctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			for _, md := range items {
				c.cache.Put(md)
				out[md.VideoID] = md
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

// call issues one videos.list request for ids, retrying transient failures.
func (c *Client) call(ctx context.Context, ids []string) ([]model.Metadata, error) {
	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if err := c.quota.Reserve(unitCost); err != nil {
			c.countError(ctx, err)
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			c.quota.Release(unitCost)
			return nil, err
		}

		items, err := c.do(ctx, ids)
		if err == nil {
			c.units.Add(ctx, unitCost)
			return items, nil
		}

		var delay time.Duration
		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr):
			c.units.Add(ctx, unitCost)
			switch {
			case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
				c.quota.MarkExceeded()
				c.log.Warn("provider rejected request, quota marked exceeded",
					"status", apiErr.StatusCode, "reason", apiErr.Reason)
				c.countError(ctx, ErrQuotaExceeded)
				return nil, fmt.Errorf("%w: %v", ErrQuotaExceeded, apiErr)
			case apiErr.StatusCode == http.StatusTooManyRequests:
				delay = apiErr.RetryAfter
				if delay <= 0 {
					delay = backoff
					backoff *= 2
				}
			case apiErr.StatusCode >= 500:
				delay = backoff
				backoff *= 2
			default:
				c.countError(ctx, err)
				return nil, err
			}
		default:
			c.quota.Release(unitCost)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			delay = backoff
			backoff *= 2
		}

		if attempt >= c.maxRetries {
			c.countError(ctx, ErrRetriesExhausted)
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt+1, err)
		}
		c.log.Warn("retrying metadata request", "attempt", attempt+1, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, ids []string) ([]model.Metadata, error) {
	params := url.Values{}
	params.Set("part", "snippet,liveStreamingDetails")
	params.Set("id", strings.Join(ids, ","))
	params.Set("maxResults", strconv.Itoa(len(ids)))
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/videos?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp, body)
	}

	var parsed videoListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Reason: "decode: " + err.Error()}
	}
	items := make([]model.Metadata, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		items = append(items, it.toMetadata())
	}
	return items, nil
}

func (c *Client) countError(ctx context.Context, err error) {
	kind := "other"
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		kind = "quota"
	case errors.Is(err, ErrDailyBudget):
		kind = "budget"
	case errors.Is(err, ErrRetriesExhausted):
		kind = "retries"
	}
	c.fetchErrs.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
