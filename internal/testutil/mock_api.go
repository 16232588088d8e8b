// Package testutil provides testing utilities for the vacancy ingestion service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock of the vacancies API for testing.
// Listings are keyed by facet, details are served under /vacancies/{id}.
type MockAPI struct {
	server *httptest.Server
	mu     sync.RWMutex

	listings        map[vacancy.Facet][][]string
	listingHandlers map[vacancy.Facet]func(w http.ResponseWriter, r *http.Request, page int)
	details         map[string]MockResponse
	dictionaries    map[string]string
	detailDelay     time.Duration

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	pageRequests      map[vacancy.Facet][]int
	detailRequests    map[string]int
	inFlight          int
	maxInFlight       int
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		listings:        make(map[vacancy.Facet][][]string),
		listingHandlers: make(map[vacancy.Facet]func(w http.ResponseWriter, r *http.Request, page int)),
		details:         make(map[string]MockResponse),
		dictionaries:    make(map[string]string),
		pageRequests:    make(map[vacancy.Facet][]int),
		detailRequests:  make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		switch {
		case r.URL.Path == "/vacancies":
			mock.handleListing(w, r)
		case strings.HasPrefix(r.URL.Path, "/vacancies/"):
			mock.handleDetail(w, r, strings.TrimPrefix(r.URL.Path, "/vacancies/"))
		default:
			mock.handleDictionary(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// VacancyURL returns the detail URL the mock serves for a vacancy ID.
func (m *MockAPI) VacancyURL(id string) string {
	return m.server.URL + "/vacancies/" + id
}

// SetListing configures the listing of a facet. Each element of pages holds
// the vacancy IDs of one page; the reported page count is len(pages).
func (m *MockAPI) SetListing(f vacancy.Facet, pages [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[f] = pages
}

// SetListingHandler overrides the listing of a facet with a custom handler.
func (m *MockAPI) SetListingHandler(f vacancy.Facet, handler func(w http.ResponseWriter, r *http.Request, page int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listingHandlers[f] = handler
}

// SetDetail configures the response for one vacancy ID.
func (m *MockAPI) SetDetail(id string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[id] = resp
}

// SetDetailDelay delays every detail response without a configured delay.
func (m *MockAPI) SetDetailDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailDelay = d
}

// SetDictionary configures the body served under /{name}.
func (m *MockAPI) SetDictionary(name, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dictionaries[name] = body
}

// PageRequests returns the page indices requested for a facet, in order.
func (m *MockAPI) PageRequests(f vacancy.Facet) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.pageRequests[f]...)
}

// DetailRequests returns how many times a vacancy ID was fetched.
func (m *MockAPI) DetailRequests(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detailRequests[id]
}

// MaxInFlight returns the highest number of concurrent detail requests seen.
func (m *MockAPI) MaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInFlight
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

func (m *MockAPI) handleListing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	area, err := strconv.Atoi(q.Get("area"))
	if err != nil {
		http.Error(w, `{"errors":[{"type":"bad_argument","value":"area"}]}`, http.StatusBadRequest)
		return
	}
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil {
		http.Error(w, `{"errors":[{"type":"bad_argument","value":"page"}]}`, http.StatusBadRequest)
		return
	}
	f := vacancy.Facet{Area: area, Specialization: q.Get("specialization")}

	m.mu.Lock()
	m.pageRequests[f] = append(m.pageRequests[f], page)
	handler, custom := m.listingHandlers[f]
	pages := m.listings[f]
	m.mu.Unlock()

	if custom {
		handler(w, r, page)
		return
	}

	var ids []string
	if page < len(pages) {
		ids = pages[page]
	}
	WriteListing(w, m.server.URL, ids, len(pages), page)
}

// WriteListing writes a listing envelope whose items point at baseURL.
func WriteListing(w http.ResponseWriter, baseURL string, ids []string, pages, page int) {
	items := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]string{
			"id":  id,
			"url": baseURL + "/vacancies/" + id,
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"items":    items,
		"pages":    pages,
		"page":     page,
		"per_page": 100,
		"found":    len(ids),
	})
}

func (m *MockAPI) handleDetail(w http.ResponseWriter, r *http.Request, id string) {
	m.mu.Lock()
	m.detailRequests[id]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	resp, custom := m.details[id]
	delay := m.detailDelay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if !custom {
		resp = NewHealthyResponse(fmt.Sprintf(`{"id":%q,"name":"Vacancy %s"}`, id, id))
	}
	if resp.Delay == 0 {
		resp.Delay = delay
	}
	writeResponse(w, resp)
}

func (m *MockAPI) handleDictionary(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	body, ok := m.dictionaries[strings.Trim(r.URL.Path, "/")]
	m.mu.RUnlock()

	if !ok {
		writeResponse(w, NewNotFoundResponse())
		return
	}
	writeResponse(w, NewHealthyResponse(body))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"errors":[{"type":"not_found"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewForbiddenResponse creates a 403 response as sent for a missing User-Agent.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"errors":[{"type":"forbidden"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
