package legitimacy

import (
	"bytes"
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

// Client calls the external legitimacy scoring service with retries,
// backoff and rate limiting.
type Client struct {
	cfg         config.ProviderConfig
	httpClient  HTTPClient
	rateLimiter *time.Ticker
}

// ClientOption allows customizing the client
type ClientOption func(*Client)

// WithHTTPClient allows injecting a custom HTTP client
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new legitimacy-scoring API client
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

// assessmentWire is the upstream response shape.
type assessmentWire struct {
	LegitimacyScore float64  `json:"legitimacy_score"`
	RiskFactors     []string `json:"risk_factors"`
}

// Assess scores the project's legitimacy, retrying transient failures.
// Out-of-range upstream scores are clamped to [0,1].
func (c *Client) Assess(ctx context.Context, project types.ProjectDescriptor) (*types.LegitimacyAssessment, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %v", ctx.Err())
		case <-c.rateLimiter.C:
			assessment, err := c.doRequest(ctx, project)
			if err == nil {
				return assessment, nil
			}
			lastErr = err
			klog.V(2).InfoS("Legitimacy API request failed, retrying",
				"project", project.ProjectID,
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
	return nil, fmt.Errorf("%w: legitimacy assessment for project %s: %v", types.ErrUpstreamFailure, project.ProjectID, lastErr)
}

func (c *Client) doRequest(ctx context.Context, project types.ProjectDescriptor) (*types.LegitimacyAssessment, error) {
	payload, err := json.Marshal(project)
	if err != nil {
		return nil, fmt.Errorf("failed to encode project: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("auth-token", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
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

	var wire assessmentWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}

	score := wire.LegitimacyScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return &types.LegitimacyAssessment{
		LegitimacyScore: score,
		RiskFactors:     wire.RiskFactors,
		Timestamp:       time.Now(),
	}, nil
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
