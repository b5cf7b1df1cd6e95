// Package client provides the Jira HTTP transport used by the fetch engine:
// one client for the platform, agile and greenhopper APIs with credential
// headers, error classification, rate limit gating and an optional response
// cache for GET endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/jira-dashboard/pkg/cache"
	"github.com/Sternrassler/jira-dashboard/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for Jira client operations.
var (
	jiraRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_requests_total",
		Help: "Total Jira requests by API and status",
	}, []string{"api", "status"})

	jiraRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jira_request_duration_seconds",
		Help:    "Jira request duration in seconds by API",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"api"})

	jiraErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_errors_total",
		Help: "Total Jira errors by class",
	}, []string{"class"})
)

// API selects one of the Jira REST API families.
type API string

const (
	// APIPlatform is the core REST API (search, bulk fetch).
	APIPlatform API = "platform"

	// APIAgile is the agile API (boards, sprints).
	APIAgile API = "agile"

	// APIGreenhopper is the legacy API serving sprint reports.
	APIGreenhopper API = "greenhopper"
)

// BasePath returns the URL path prefix of the API family.
func (a API) BasePath() string {
	switch a {
	case APIAgile:
		return "/rest/agile/1.0"
	case APIGreenhopper:
		return "/rest/greenhopper/1.0"
	default:
		return "/rest/api/3"
	}
}

// Request describes one call against a Jira API.
type Request struct {
	Method string
	API    API
	Path   string
	Query  url.Values
	Body   any
}

// Client is the Jira transport.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	cache       *cache.Manager
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the site origin, e.g. "https://acme.atlassian.net".
	BaseURL string

	// Credentials. SessionCookie wins when both are set.
	SessionCookie string
	APIToken      string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout is the per-request transport timeout.
	Timeout time.Duration

	// Cache enables caching of successful GET responses when non-nil.
	Cache    *cache.Manager
	CacheTTL time.Duration

	// RateLimiter gates requests while Jira reports an exhausted budget.
	// Nil uses an in-process tracker.
	RateLimiter *ratelimit.Tracker

	// MaxErrorBody truncates error bodies kept in APIError and logs.
	MaxErrorBody int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		UserAgent:    "jira-dashboard/1.0",
		Timeout:      30 * time.Second,
		CacheTTL:     time.Minute,
		MaxErrorBody: 2048,
	}
}

// New creates a new Jira client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	logger = logger.With().Str("component", "jira-client").Logger()

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimiter = ratelimit.NewTracker(ratelimit.NewMemoryStore(), cfg.Timeout, logger)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		cache:       cfg.Cache,
		rateLimiter: rateLimiter,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do executes req and decodes the JSON response into out (if non-nil).
// Transport failures and status codes >= 400 are returned as *APIError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	endpoint := req.API.BasePath() + req.Path
	api := string(req.API)
	if api == "" {
		api = string(APIPlatform)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	cacheable := c.cache != nil && req.Method == http.MethodGet
	cacheKey := cache.CacheKey{API: api, Endpoint: req.Path, QueryParams: req.Query}
	if cacheable {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.logger.Debug().Str("endpoint", endpoint).Msg("Cache hit")
			jiraRequestsTotal.WithLabelValues(api, "cached").Inc()
			return decode(entry.Data, out)
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	httpReq, err := c.newRequest(ctx, req.Method, endpoint, req.Query, req.Body)
	if err != nil {
		return err
	}

	c.logger.Debug().
		Str("api", api).
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing Jira request")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	jiraRequestDuration.WithLabelValues(api).Observe(time.Since(start).Seconds())
	if err != nil {
		jiraErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		jiraRequestsTotal.WithLabelValues(api, "network_error").Inc()
		c.logger.Error().
			Err(err).
			Str("endpoint", endpoint).
			Msg("Network error: no response received from Jira")
		return &APIError{
			Method:   req.Method,
			Endpoint: endpoint,
			Class:    ErrorClassNetwork,
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if err := c.rateLimiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		jiraErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return &APIError{
			Method:     req.Method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Err:        fmt.Errorf("read response body: %w", err),
		}
	}

	jiraRequestsTotal.WithLabelValues(api, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		jiraErrorsTotal.WithLabelValues(string(class)).Inc()
		snippet := c.truncate(body)
		c.logger.Error().
			Str("method", req.Method).
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Str("body", snippet).
			Msg("Jira API error")
		return &APIError{
			Method:     req.Method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Class:      class,
			Body:       snippet,
		}
	}

	if cacheable {
		if err := c.cache.Set(ctx, cacheKey, cache.NewEntry(body, resp.StatusCode, c.config.CacheTTL)); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
		}
	}

	if err := decode(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// Get performs a GET request against api.
func (c *Client) Get(ctx context.Context, api API, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, API: api, Path: path, Query: query}, out)
}

// Post performs a POST request with a JSON body against api.
func (c *Client) Post(ctx context.Context, api API, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, API: api, Path: path, Body: body}, out)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	switch {
	case c.config.SessionCookie != "":
		req.Header.Set("Cookie", "tenant.session.token="+c.config.SessionCookie)
	case c.config.APIToken != "":
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}
	return req, nil
}

func (c *Client) truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if c.config.MaxErrorBody > 0 && len(s) > c.config.MaxErrorBody {
		return s[:c.config.MaxErrorBody] + "..."
	}
	return s
}

func decode(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
