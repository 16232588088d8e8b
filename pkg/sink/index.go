package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrMissingGeoMapping is returned when an existing index does not map the
// geodata fields as geo_point.
var ErrMissingGeoMapping = errors.New("index mapping lacks geo_point fields")

// alreadyExists is the error type an index server reports when a concurrent
// creator won the race.
const alreadyExists = "resource_already_exists_exception"

// IndexConfig holds search index sink configuration.
type IndexConfig struct {
	// URL is the server base URL, e.g. https://localhost:9200.
	URL string
	// IndexPrefix names the day index: {IndexPrefix}-{20060102}.
	IndexPrefix string
	// DocType is the document type path segment. Empty or "_doc" selects a
	// typeless mapping.
	DocType  string
	Username string
	Password string
	// Insecure skips TLS certificate verification.
	Insecure bool
	Timeout  time.Duration
}

// DefaultIndexConfig returns the default search index configuration.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		URL:         "https://localhost:9200",
		IndexPrefix: "vacancies",
		DocType:     "_doc",
		Timeout:     30 * time.Second,
	}
}

// StatusError is a non-2xx response from the index server.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IndexSink posts documents to an Elasticsearch-compatible server.
// It is safe for concurrent use.
type IndexSink struct {
	config     IndexConfig
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.Mutex
	ready map[Destination]bool
}

// NewIndexSink creates a search index sink.
func NewIndexSink(config IndexConfig) (*IndexSink, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("index url is required")
	}
	if config.IndexPrefix == "" {
		return nil, fmt.Errorf("index prefix is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed clusters
	}

	return &IndexSink{
		config:     config,
		baseURL:    strings.TrimRight(config.URL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout, Transport: transport},
		logger:     log.With().Str("component", "index_sink").Logger(),
		ready:      make(map[Destination]bool),
	}, nil
}

// IndexName returns the index a run is written to.
func (s *IndexSink) IndexName(run vacancy.Run) string {
	return s.config.IndexPrefix + "-" + run.Day()
}

func (s *IndexSink) typeless() bool {
	return s.config.DocType == "" || s.config.DocType == "_doc"
}

// Provision ensures the run's day index exists with geo_point mappings for
// the geodata fields. An index created concurrently by another writer counts
// as success.
func (s *IndexSink) Provision(ctx context.Context, run vacancy.Run) (Destination, error) {
	dest := Destination(s.IndexName(run))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready[dest] {
		return provisioned(KindIndex, dest, nil)
	}

	status, _, err := s.do(ctx, http.MethodHead, "/"+string(dest), nil)
	if err != nil {
		return provisioned(KindIndex, dest, err)
	}

	switch {
	case status == http.StatusNotFound:
		if err := s.create(ctx, dest); err != nil {
			return provisioned(KindIndex, dest, err)
		}
	case status >= 200 && status < 300:
		if err := s.checkMapping(ctx, dest); err != nil {
			return provisioned(KindIndex, dest, err)
		}
		s.logger.Debug().Str("index", string(dest)).Msg("Index already exists")
	default:
		return provisioned(KindIndex, dest, &StatusError{Method: http.MethodHead, URL: s.baseURL + "/" + string(dest), StatusCode: status})
	}

	s.ready[dest] = true
	return provisioned(KindIndex, dest, nil)
}

func (s *IndexSink) create(ctx context.Context, dest Destination) error {
	body, err := json.Marshal(s.mapping())
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	path := "/" + string(dest)
	status, resp, err := s.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		s.logger.Info().Str("index", string(dest)).Msg("Index created")
		return nil
	}
	if status == http.StatusBadRequest && bytes.Contains(resp, []byte(alreadyExists)) {
		s.logger.Debug().Str("index", string(dest)).Msg("Index created concurrently")
		return s.checkMapping(ctx, dest)
	}
	return &StatusError{Method: http.MethodPut, URL: s.baseURL + path, StatusCode: status, Body: snippet(resp)}
}

// mapping returns the index creation body.
func (s *IndexSink) mapping() map[string]any {
	properties := map[string]any{
		"properties": map[string]any{
			vacancy.FieldAddressGeodata:      map[string]any{"type": "geo_point"},
			vacancy.FieldAddressMetroGeodata: map[string]any{"type": "geo_point"},
		},
	}
	if s.typeless() {
		return map[string]any{"mappings": properties}
	}
	return map[string]any{"mappings": map[string]any{s.config.DocType: properties}}
}

func (s *IndexSink) checkMapping(ctx context.Context, dest Destination) error {
	path := "/" + string(dest) + "/_mapping"
	status, resp, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &StatusError{Method: http.MethodGet, URL: s.baseURL + path, StatusCode: status, Body: snippet(resp)}
	}

	var mapping map[string]any
	if err := json.Unmarshal(resp, &mapping); err != nil {
		return fmt.Errorf("decode mapping: %w", err)
	}
	for _, field := range []string{vacancy.FieldAddressGeodata, vacancy.FieldAddressMetroGeodata} {
		if !hasGeoPoint(mapping, field) {
			return fmt.Errorf("%w: %s", ErrMissingGeoMapping, field)
		}
	}
	return nil
}

// hasGeoPoint searches a mapping document for field declared as geo_point,
// at any depth, so typed and typeless layouts both match.
func hasGeoPoint(v any, field string) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if def, ok := obj[field].(map[string]any); ok && def["type"] == "geo_point" {
		return true
	}
	for _, child := range obj {
		if hasGeoPoint(child, field) {
			return true
		}
	}
	return false
}

// Deliver indexes one document. Any 2xx status is success.
func (s *IndexSink) Deliver(ctx context.Context, dest Destination, rec vacancy.Record) error {
	body, err := json.Marshal(rec.Document)
	if err != nil {
		return delivered(KindIndex, dest, rec, fmt.Errorf("encode: %w", err))
	}

	docType := s.config.DocType
	if docType == "" {
		docType = "_doc"
	}
	path := "/" + string(dest) + "/" + docType

	status, resp, err := s.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return delivered(KindIndex, dest, rec, err)
	}
	if status < 200 || status >= 300 {
		return delivered(KindIndex, dest, rec, &StatusError{Method: http.MethodPost, URL: s.baseURL + path, StatusCode: status, Body: snippet(resp)})
	}
	return delivered(KindIndex, dest, rec, nil)
}

// Close releases idle connections.
func (s *IndexSink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *IndexSink) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.config.Username != "" {
		req.SetBasicAuth(s.config.Username, s.config.Password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func snippet(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
