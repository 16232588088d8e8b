// Package client provides the HTTP client for the vacancies API: listing
// pages, vacancy documents and reference dictionaries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vds_api_requests_total",
		Help: "Total API requests by endpoint kind and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vds_api_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vds_api_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Endpoint kinds used as metric labels.
const (
	EndpointListing    = "listing"
	EndpointDetail     = "detail"
	EndpointDictionary = "dictionary"
)

// Client is the vacancies API client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, without trailing slash.
	BaseURL string

	// User-Agent header (REQUIRED by the API)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Listing query parameters.
	PerPage int
	Period  int

	// RateLimit is a global request limit in requests per second. <=0 disables.
	RateLimit float64

	// Timeout is the transport timeout of a single request.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:   "https://api.hh.ru",
		UserAgent: userAgent,
		PerPage:   100,
		Period:    1,
		Timeout:   30 * time.Second,
	}
}

// UserAgent builds the identifying header value the API asks clients to send.
func UserAgent(app, version, email string) string {
	return fmt.Sprintf("%s/%s (%s)", app, version, email)
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.PerPage <= 0 || cfg.PerPage > 100 {
		return nil, fmt.Errorf("per_page must be in 1..100 (got %d)", cfg.PerPage)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		config:  cfg,
		logger:  log.With().Str("component", "api-client").Logger(),
	}, nil
}

// Do performs an HTTP request with the identifying headers, optional rate
// limiting and metrics. Any non-2xx status is returned as *APIError with the
// response body already closed.
func (c *Client) Do(req *http.Request, endpoint string) (*http.Response, error) {
	ctx := req.Context()

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", req.URL.String()).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{
			URL:        req.URL.String(),
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}

	apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if !IsSuccess(resp.StatusCode) {
		class := classifyStatus(resp.StatusCode)
		apiErrorsTotal.WithLabelValues(string(class)).Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")

		return nil, &APIError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    strings.TrimSpace(resp.Status + " " + string(body)),
		}
	}

	return resp, nil
}

// Get performs a GET request and returns the full response body.
func (c *Client) Get(ctx context.Context, rawURL, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}
	return body, nil
}

// ListingURL builds the listing URL for one page of a facet.
func (c *Client) ListingURL(f vacancy.Facet, page int) string {
	q := url.Values{}
	q.Set("area", strconv.Itoa(f.Area))
	q.Set("specialization", f.Specialization)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(c.config.PerPage))
	q.Set("no_magic", "true")
	q.Set("period", strconv.Itoa(c.config.Period))
	return c.config.BaseURL + "/vacancies?" + q.Encode()
}

// FetchPage fetches one listing page of a facet. A response without the
// items array or the page count is reported as ErrMalformedEnvelope.
func (c *Client) FetchPage(ctx context.Context, f vacancy.Facet, page int) (*vacancy.ListingPage, error) {
	rawURL := c.ListingURL(f, page)
	body, err := c.Get(ctx, rawURL, EndpointListing)
	if err != nil {
		return nil, err
	}

	var lp vacancy.ListingPage
	if err := json.Unmarshal(body, &lp); err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{URL: rawURL, StatusCode: http.StatusOK, ErrorClass: ErrorClassDecode, Message: "decode listing", Err: err}
	}
	if err := lp.Validate(); err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{URL: rawURL, StatusCode: http.StatusOK, ErrorClass: ErrorClassDecode, Message: "missing items or pages", Err: err}
	}
	return &lp, nil
}

// FetchDocument fetches the detail document behind a reference. Numbers are
// kept as json.Number so coordinates preserve their textual form.
func (c *Client) FetchDocument(ctx context.Context, ref vacancy.Reference) (vacancy.Document, error) {
	body, err := c.Get(ctx, string(ref), EndpointDetail)
	if err != nil {
		return nil, err
	}

	doc, err := DecodeDocument(body)
	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{URL: string(ref), StatusCode: http.StatusOK, ErrorClass: ErrorClassDecode, Message: "decode document", Err: err}
	}
	return doc, nil
}

// FetchDictionary fetches a reference dictionary (e.g. "areas") verbatim.
func (c *Client) FetchDictionary(ctx context.Context, name string) ([]byte, error) {
	return c.Get(ctx, c.config.BaseURL+"/"+strings.Trim(name, "/"), EndpointDictionary)
}

// DecodeDocument decodes a JSON object preserving numbers as json.Number.
func DecodeDocument(body []byte) (vacancy.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc vacancy.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document is not a JSON object")
	}
	return doc, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
