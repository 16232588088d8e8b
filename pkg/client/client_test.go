package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/vacancy-ingest/internal/testutil"
	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	cfg := DefaultConfig("TestApp/1.0.0 (test@example.com)")
	cfg.BaseURL = baseURL
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("TestApp/1.0.0 (test@example.com)"),
		},
		{
			name: "empty user agent",
			config: Config{
				BaseURL: "https://api.hh.ru",
				PerPage: 100,
			},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "empty base url",
			config: Config{
				UserAgent: "TestApp/1.0.0",
				PerPage:   100,
			},
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name: "per page too large",
			config: Config{
				BaseURL:   "https://api.hh.ru",
				UserAgent: "TestApp/1.0.0",
				PerPage:   500,
			},
			expectError: true,
			errorMsg:    "per_page must be in 1..100 (got 500)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("TestApp/1.0.0")

	if cfg.UserAgent != "TestApp/1.0.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.PerPage != 100 {
		t.Errorf("PerPage = %d, want 100", cfg.PerPage)
	}
	if cfg.Period != 1 {
		t.Errorf("Period = %d, want 1", cfg.Period)
	}
	if cfg.RateLimit != 0 {
		t.Errorf("RateLimit = %v, want disabled", cfg.RateLimit)
	}
}

func TestUserAgent(t *testing.T) {
	got := UserAgent("VDS", "0.0.1", "ops@example.com")
	if got != "VDS/0.0.1 (ops@example.com)" {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestListingURL(t *testing.T) {
	c := newTestClient(t, "https://api.example.com/")

	raw := c.ListingURL(vacancy.Facet{Area: 1, Specialization: "1.221"}, 3)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if u.Host != "api.example.com" || u.Path != "/vacancies" {
		t.Errorf("unexpected url %q", raw)
	}
	want := map[string]string{
		"area":           "1",
		"specialization": "1.221",
		"page":           "3",
		"per_page":       "100",
		"no_magic":       "true",
		"period":         "1",
	}
	for key, value := range want {
		if got := u.Query().Get(key); got != value {
			t.Errorf("query %s = %q, want %q", key, got, value)
		}
	}
}

func TestFetchPage(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	facet := vacancy.Facet{Area: 1, Specialization: "1.117"}
	mock.SetListing(facet, [][]string{{"1", "2"}, {"3"}})

	c := newTestClient(t, mock.URL())
	page, err := c.FetchPage(context.Background(), facet, 0)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	if page.Pages == nil || *page.Pages != 2 {
		t.Errorf("Pages = %v, want 2", page.Pages)
	}
	if len(page.Items) != 2 || page.Items[0].URL != mock.VacancyURL("1") {
		t.Errorf("Items = %+v", page.Items)
	}
	if ua := mock.LastRequestHeader.Get("User-Agent"); ua != "TestApp/1.0.0 (test@example.com)" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestFetchPage_MalformedEnvelope(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	facet := vacancy.Facet{Area: 1, Specialization: "1.117"}
	mock.SetListingHandler(facet, func(w http.ResponseWriter, r *http.Request, page int) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"items": []}`))
	})

	c := newTestClient(t, mock.URL())
	_, err := c.FetchPage(context.Background(), facet, 0)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("error = %v, want ErrMalformedEnvelope", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassDecode {
		t.Errorf("error class = %v, want decode", err)
	}
}

func TestFetchPage_ItemIDShapes(t *testing.T) {
	tests := []struct {
		name string
		item string
		id   string
	}{
		{name: "string id", item: `{"id":"123","url":"http://x/vacancies/123"}`, id: `"123"`},
		{name: "numeric id", item: `{"id":123,"url":"http://x/vacancies/123"}`, id: `123`},
		{name: "missing id", item: `{"url":"http://x/vacancies/123"}`, id: ``},
		{name: "null id", item: `{"id":null,"url":"http://x/vacancies/123"}`, id: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockAPI()
			defer mock.Close()

			facet := vacancy.Facet{Area: 1, Specialization: "1.117"}
			mock.SetListingHandler(facet, func(w http.ResponseWriter, r *http.Request, page int) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"items":[` + tt.item + `],"pages":1,"page":0}`))
			})

			c := newTestClient(t, mock.URL())
			page, err := c.FetchPage(context.Background(), facet, 0)
			if err != nil {
				t.Fatalf("FetchPage() error = %v", err)
			}
			if len(page.Items) != 1 || page.Items[0].URL != "http://x/vacancies/123" {
				t.Fatalf("Items = %+v", page.Items)
			}
			if got := string(page.Items[0].ID); got != tt.id {
				t.Errorf("ID = %q, want %q", got, tt.id)
			}
		})
	}
}

func TestFetchPage_InvalidJSON(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	facet := vacancy.Facet{Area: 1, Specialization: "1.117"}
	mock.SetListingHandler(facet, func(w http.ResponseWriter, r *http.Request, page int) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html>`))
	})

	c := newTestClient(t, mock.URL())
	if _, err := c.FetchPage(context.Background(), facet, 0); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFetchDocument(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetDetail("42", testutil.NewHealthyResponse(`{"id":"42","address":{"lat":55.70,"lng":37.6}}`))

	c := newTestClient(t, mock.URL())
	doc, err := c.FetchDocument(context.Background(), vacancy.Reference(mock.VacancyURL("42")))
	if err != nil {
		t.Fatalf("FetchDocument() error = %v", err)
	}

	address, ok := doc["address"].(map[string]any)
	if !ok {
		t.Fatalf("address = %T", doc["address"])
	}
	lat, ok := address["lat"].(json.Number)
	if !ok {
		t.Fatalf("lat = %T, want json.Number", address["lat"])
	}
	if lat.String() != "55.70" {
		t.Errorf("lat = %q, want textual form preserved", lat)
	}
}

func TestFetchDocument_StatusErrors(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetDetail("404", testutil.NewNotFoundResponse())
	mock.SetDetail("500", testutil.NewServerErrorResponse())
	mock.SetDetail("list", testutil.NewHealthyResponse(`[1,2]`))

	c := newTestClient(t, mock.URL())

	tests := []struct {
		id    string
		class ErrorClass
		code  int
	}{
		{id: "404", class: ErrorClassClient, code: 404},
		{id: "500", class: ErrorClassServer, code: 500},
		{id: "list", class: ErrorClassDecode, code: 200},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := c.FetchDocument(context.Background(), vacancy.Reference(mock.VacancyURL(tt.id)))
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.ErrorClass != tt.class {
				t.Errorf("ErrorClass = %s, want %s", apiErr.ErrorClass, tt.class)
			}
			if apiErr.StatusCode != tt.code {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.code)
			}
		})
	}
}

func TestFetchDocument_NetworkError(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	c.SetHTTPClient(&http.Client{Timeout: 500 * time.Millisecond})

	_, err := c.FetchDocument(context.Background(), "http://127.0.0.1:1/vacancies/1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassNetwork {
		t.Fatalf("error = %v, want network APIError", err)
	}
}

func TestFetchDictionary(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetDictionary("areas", `[{"id":"113","name":"Russia"}]`)

	c := newTestClient(t, mock.URL())
	body, err := c.FetchDictionary(context.Background(), "areas")
	if err != nil {
		t.Fatalf("FetchDictionary() error = %v", err)
	}
	if !strings.Contains(string(body), "Russia") {
		t.Errorf("body = %s", body)
	}
}

func TestRateLimit(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	cfg := DefaultConfig("TestApp/1.0.0")
	cfg.BaseURL = mock.URL()
	cfg.RateLimit = 20
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.FetchDocument(context.Background(), vacancy.Reference(mock.VacancyURL("1"))); err != nil {
			t.Fatalf("FetchDocument() error = %v", err)
		}
	}
	// burst 1 at 20 rps: the 2nd and 3rd calls wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("elapsed = %v, expected rate limiting", elapsed)
	}
}

func TestDecodeDocument(t *testing.T) {
	if _, err := DecodeDocument([]byte(`null`)); err == nil {
		t.Error("expected error for null document")
	}
	doc, err := DecodeDocument([]byte(`{"salary":{"from":100000}}`))
	if err != nil {
		t.Fatalf("DecodeDocument() error = %v", err)
	}
	salary := doc["salary"].(map[string]any)
	if _, ok := salary["from"].(json.Number); !ok {
		t.Errorf("from = %T, want json.Number", salary["from"])
	}
}
