package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
)

// fakeIndex is a minimal Elasticsearch-compatible server.
type fakeIndex struct {
	mu       sync.Mutex
	indices  map[string]string // index -> mapping JSON
	docs     map[string][]map[string]any
	puts     int
	auth     []string
	ctypes   []string
	paths    []string
	putBody  map[string]any
	postCode int
	raceOnce bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		indices: make(map[string]string),
		docs:    make(map[string][]map[string]any),
	}
}

func (f *fakeIndex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, pass, _ := r.BasicAuth()
	f.auth = append(f.auth, user+":"+pass)
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	if r.Method != http.MethodHead && r.Method != http.MethodGet {
		f.ctypes = append(f.ctypes, r.Header.Get("Content-Type"))
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	index := parts[0]

	switch {
	case r.Method == http.MethodHead:
		if _, ok := f.indices[index]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodPut:
		f.puts++
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &f.putBody)
		if f.raceOnce {
			// another writer created the index between HEAD and PUT
			f.raceOnce = false
			f.indices[index] = typelessGeoMapping(index)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"resource_already_exists_exception"},"status":400}`))
			return
		}
		f.indices[index] = typelessGeoMapping(index)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))

	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "_mapping":
		m, ok := f.indices[index]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(m))

	case r.Method == http.MethodPost:
		if f.postCode != 0 {
			w.WriteHeader(f.postCode)
			_, _ = w.Write([]byte(`{"error":"rejected"}`))
			return
		}
		var doc map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &doc)
		f.docs[index] = append(f.docs[index], doc)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func typelessGeoMapping(index string) string {
	return `{"` + index + `":{"mappings":{"properties":{` +
		`"address_geodata":{"type":"geo_point"},` +
		`"address_metro_geodata":{"type":"geo_point"}}}}}`
}

func newTestIndexSink(t *testing.T, fake *fakeIndex, docType string) *IndexSink {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := DefaultIndexConfig()
	cfg.URL = server.URL
	cfg.DocType = docType
	cfg.Username = "elastic"
	cfg.Password = "secret"
	s, err := NewIndexSink(cfg)
	if err != nil {
		t.Fatalf("NewIndexSink() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexSink_ProvisionIdempotent(t *testing.T) {
	fake := newFakeIndex()
	s := newTestIndexSink(t, fake, "_doc")
	ctx := context.Background()
	run := testRun()

	first, err := s.Provision(ctx, run)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if first != "vacancies-20240309" {
		t.Errorf("destination = %q, want vacancies-20240309", first)
	}

	second, err := s.Provision(ctx, run)
	if err != nil {
		t.Fatalf("second Provision() error = %v", err)
	}
	if first != second {
		t.Errorf("destinations differ: %q vs %q", first, second)
	}
	if fake.puts != 1 {
		t.Errorf("index created %d times, want 1", fake.puts)
	}

	// a fresh sink finds the index already present
	other := newTestIndexSink(t, fake, "_doc")
	if _, err := other.Provision(ctx, run); err != nil {
		t.Fatalf("Provision() on existing index error = %v", err)
	}
	if fake.puts != 1 {
		t.Errorf("existing index recreated: %d PUTs", fake.puts)
	}
}

func TestIndexSink_ProvisionRace(t *testing.T) {
	fake := newFakeIndex()
	fake.raceOnce = true
	s := newTestIndexSink(t, fake, "_doc")

	if _, err := s.Provision(context.Background(), testRun()); err != nil {
		t.Fatalf("Provision() error = %v, want already-exists treated as success", err)
	}
}

func TestIndexSink_Mapping(t *testing.T) {
	tests := []struct {
		name    string
		docType string
		path    []string
	}{
		{name: "typeless", docType: "_doc", path: []string{"mappings", "properties"}},
		{name: "empty doc type", docType: "", path: []string{"mappings", "properties"}},
		{name: "typed", docType: "vacancy", path: []string{"mappings", "vacancy", "properties"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeIndex()
			s := newTestIndexSink(t, fake, tt.docType)
			if _, err := s.Provision(context.Background(), testRun()); err != nil {
				t.Fatalf("Provision() error = %v", err)
			}

			var cur any = fake.putBody
			for _, key := range tt.path {
				obj, ok := cur.(map[string]any)
				if !ok {
					t.Fatalf("mapping body missing %q: %v", key, fake.putBody)
				}
				cur = obj[key]
			}
			props, _ := cur.(map[string]any)
			for _, field := range []string{vacancy.FieldAddressGeodata, vacancy.FieldAddressMetroGeodata} {
				def, _ := props[field].(map[string]any)
				if def["type"] != "geo_point" {
					t.Errorf("%s mapping = %v, want geo_point", field, props[field])
				}
			}
		})
	}
}

func TestIndexSink_ExistingWithoutGeoMapping(t *testing.T) {
	fake := newFakeIndex()
	fake.indices["vacancies-20240309"] = `{"vacancies-20240309":{"mappings":{"properties":{"address_geodata":{"type":"text"}}}}}`
	s := newTestIndexSink(t, fake, "_doc")

	_, err := s.Provision(context.Background(), testRun())
	var pe *ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProvisionError", err)
	}
	if !errors.Is(err, ErrMissingGeoMapping) {
		t.Errorf("error = %v, want ErrMissingGeoMapping", err)
	}
}

func TestIndexSink_ProvisionServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := DefaultIndexConfig()
	cfg.URL = server.URL
	s, _ := NewIndexSink(cfg)

	_, err := s.Provision(context.Background(), testRun())
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Errorf("error = %v, want StatusError 500", err)
	}
}

func TestIndexSink_Deliver(t *testing.T) {
	fake := newFakeIndex()
	s := newTestIndexSink(t, fake, "_doc")
	ctx := context.Background()

	dest, err := s.Provision(ctx, testRun())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	rec := vacancy.Record{
		Reference: "https://api.hh.ru/vacancies/1",
		Document:  vacancy.Document{"id": "1", vacancy.FieldAddressGeodata: "55.7,37.6"},
	}
	if err := s.Deliver(ctx, dest, rec); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	docs := fake.docs[string(dest)]
	if len(docs) != 1 || docs[0][vacancy.FieldAddressGeodata] != "55.7,37.6" {
		t.Errorf("indexed docs = %v", docs)
	}
	if last := fake.paths[len(fake.paths)-1]; last != "POST /vacancies-20240309/_doc" {
		t.Errorf("last request = %q", last)
	}
	for _, a := range fake.auth {
		if a != "elastic:secret" {
			t.Errorf("basic auth = %q, want elastic:secret", a)
		}
	}
	for _, ct := range fake.ctypes {
		if ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
	}
}

func TestIndexSink_DeliverRejected(t *testing.T) {
	fake := newFakeIndex()
	s := newTestIndexSink(t, fake, "vacancy")
	ctx := context.Background()

	dest, err := s.Provision(ctx, testRun())
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	fake.mu.Lock()
	fake.postCode = http.StatusTooManyRequests
	fake.mu.Unlock()

	err = s.Deliver(ctx, dest, vacancy.Record{Reference: "r1", Document: vacancy.Document{}})
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DeliveryError", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("error = %v, want StatusError 429", err)
	}
	if !strings.HasSuffix(se.URL, "/vacancies-20240309/vacancy") {
		t.Errorf("URL = %q, want typed document path", se.URL)
	}
}

func TestIndexSink_AnySuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultIndexConfig()
	cfg.URL = server.URL
	s, _ := NewIndexSink(cfg)

	if err := s.Deliver(context.Background(), "vacancies-20240309", vacancy.Record{Document: vacancy.Document{}}); err != nil {
		t.Errorf("Deliver() with 200 error = %v", err)
	}
}

func TestNewIndexSink_Validation(t *testing.T) {
	if _, err := NewIndexSink(IndexConfig{IndexPrefix: "v"}); err == nil {
		t.Error("expected error for missing url")
	}
	if _, err := NewIndexSink(IndexConfig{URL: "http://localhost:9200"}); err == nil {
		t.Error("expected error for missing prefix")
	}
}

func TestHasGeoPoint(t *testing.T) {
	var typed map[string]any
	_ = json.Unmarshal([]byte(`{"idx":{"mappings":{"doc":{"properties":{"address_geodata":{"type":"geo_point"}}}}}}`), &typed)

	if !hasGeoPoint(typed, vacancy.FieldAddressGeodata) {
		t.Error("typed mapping not recognised")
	}
	if hasGeoPoint(typed, vacancy.FieldAddressMetroGeodata) {
		t.Error("missing field reported as mapped")
	}
}
