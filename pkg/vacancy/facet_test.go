package vacancy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultCatalog(t *testing.T) {
	facets := DefaultCatalog().Facets()
	if len(facets) != 3 {
		t.Fatalf("len(facets) = %d, want 3", len(facets))
	}
	want := Facet{Area: 1, Specialization: "1.395"}
	if facets[0] != want {
		t.Errorf("facets[0] = %v, want %v", facets[0], want)
	}
}

func TestCatalog_Facets_CrossProduct(t *testing.T) {
	c := Catalog{
		Areas:           []int{1, 2},
		Specializations: []string{"1.117", "1.221", "1.117"},
	}

	facets := c.Facets()
	if len(facets) != 4 {
		t.Fatalf("len(facets) = %d, want 4 (duplicates collapsed)", len(facets))
	}

	expected := []Facet{
		{Area: 1, Specialization: "1.117"},
		{Area: 1, Specialization: "1.221"},
		{Area: 2, Specialization: "1.117"},
		{Area: 2, Specialization: "1.221"},
	}
	for i, f := range expected {
		if facets[i] != f {
			t.Errorf("facets[%d] = %v, want %v", i, facets[i], f)
		}
	}
}

func TestCatalog_Validate(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		wantErr bool
	}{
		{name: "default", catalog: DefaultCatalog()},
		{name: "no areas", catalog: Catalog{Specializations: []string{"1.1"}}, wantErr: true},
		{name: "no specializations", catalog: Catalog{Areas: []int{1}}, wantErr: true},
		{name: "blank specialization", catalog: Catalog{Areas: []int{1}, Specializations: []string{" "}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "areas: [1, 113]\nspecializations: [\"1.395\", \"1.221\"]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	if len(c.Areas) != 2 || c.Areas[1] != 113 {
		t.Errorf("Areas = %v, want [1 113]", c.Areas)
	}
	if len(c.Specializations) != 2 || c.Specializations[0] != "1.395" {
		t.Errorf("Specializations = %v", c.Specializations)
	}
}

func TestLoadCatalog_Missing(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseCatalog_Empty(t *testing.T) {
	if _, err := ParseCatalog([]byte("areas: []\n")); err == nil {
		t.Error("expected validation error for empty catalog")
	}
}

func TestRun_Names(t *testing.T) {
	started := time.Date(2026, 10, 15, 9, 5, 7, 0, time.UTC)
	run := NewRunAt(started)

	if got := run.Stamp(); got != "20261015_090507" {
		t.Errorf("Stamp() = %q", got)
	}
	if got := run.Day(); got != "20261015" {
		t.Errorf("Day() = %q", got)
	}
	if got := run.RunTime(); got != "2026-10-15T09:05:07Z" {
		t.Errorf("RunTime() = %q", got)
	}

	doc := Document{"id": "1"}
	run.StampDocument(doc)
	if doc[FieldRunTime] != "2026-10-15T09:05:07Z" {
		t.Errorf("run_time = %v", doc[FieldRunTime])
	}
	if doc[FieldRunID] != run.ID.String() {
		t.Errorf("run_id = %v, want %s", doc[FieldRunID], run.ID)
	}
}

func TestDocument_Clone(t *testing.T) {
	doc := Document{"a": 1}
	clone := doc.Clone()
	clone["b"] = 2

	if _, ok := doc["b"]; ok {
		t.Error("Clone() shares the top-level map")
	}
}
