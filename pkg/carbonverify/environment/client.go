package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
	"github.com/carbonflow/ai-engine/pkg/carbonverify/types"
)

// HTTPClient interface allows mocking http.Client in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CacheInterface lets the client skip upstream calls for recently seen
// locations.
type CacheInterface interface {
	Get(key string) (*Observation, bool)
	Set(key string, obs *Observation)
}

// Client fetches environmental data from the configured HTTP API with
// retries, backoff and rate limiting.
type Client struct {
	cfg         config.ProviderConfig
	httpClient  HTTPClient
	rateLimiter *time.Ticker
	cache       CacheInterface
}

// ClientOption allows customizing the client
type ClientOption func(*Client)

// WithHTTPClient allows injecting a custom HTTP client
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithCache adds a cache to the client
func WithCache(cache CacheInterface) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// NewClient creates a new environmental-data API client
func NewClient(cfg config.ProviderConfig, opts ...ClientOption) *Client {
	client := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout),
		},
		rateLimiter: time.NewTicker(time.Second / time.Duration(cfg.RateLimit)),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Lookup fetches the environmental conditions at a location, retrying
// transient failures.
func (c *Client) Lookup(ctx context.Context, location types.GeoPoint) (*Observation, error) {
	key := locationKey(location)

	if c.cache != nil {
		if obs, fresh := c.cache.Get(key); fresh {
			klog.V(3).InfoS("Using cached environmental data", "location", key)
			return obs, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %v", ctx.Err())
		case <-c.rateLimiter.C:
			obs, err := c.doRequest(ctx, location)
			if err == nil {
				if c.cache != nil {
					c.cache.Set(key, obs)
				}
				return obs, nil
			}
			lastErr = err
			klog.V(2).InfoS("Environmental API request failed, retrying",
				"attempt", attempt+1,
				"maxRetries", c.cfg.MaxRetries,
				"error", err)

			timer := time.NewTimer(backoffDuration(time.Duration(c.cfg.RetryDelay), attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled during backoff: %v", ctx.Err())
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("%w: environmental lookup for %s: %v", types.ErrUpstreamFailure, key, lastErr)
}

func (c *Client) doRequest(ctx context.Context, location types.GeoPoint) (*Observation, error) {
	url := fmt.Sprintf("%s?lat=%f&lng=%f", c.cfg.URL, location.Lat, location.Lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("auth-token", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Continue processing
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limit exceeded")
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("invalid API key")
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var wire observationWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}

	return wire.toObservation(), nil
}

func backoffDuration(base time.Duration, attempt int) time.Duration {
	backoff := base * time.Duration(1<<uint(attempt))
	maxBackoff := time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	// Jitter (±20%)
	return time.Duration(float64(backoff) * (0.8 + 0.4*float64(time.Now().UnixNano()%100)/100.0))
}

// Close cleans up client resources
func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}

func locationKey(location types.GeoPoint) string {
	return fmt.Sprintf("%.4f,%.4f", location.Lat, location.Lng)
}
