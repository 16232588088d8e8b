// Package vacancy holds the domain types shared by the ingestion pipeline:
// facets of the search space, listing references, fetched documents and runs.
package vacancy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Facet is one (area, specialization) filter pair of the upstream catalog.
// Facets are comparable and can be used as map keys.
type Facet struct {
	// Area is the numeric area code (e.g. 1 for Moscow).
	Area int `yaml:"area" json:"area"`

	// Specialization is the decimal specialization identifier (e.g. "1.221").
	// Kept as text so it is sent to the API exactly as configured.
	Specialization string `yaml:"specialization" json:"specialization"`
}

// String implements fmt.Stringer.
func (f Facet) String() string {
	return fmt.Sprintf("area=%d/specialization=%s", f.Area, f.Specialization)
}

// Catalog is the static list of area and specialization codes whose
// cross-product defines the search space of a run.
type Catalog struct {
	Areas           []int    `yaml:"areas"`
	Specializations []string `yaml:"specializations"`
}

// DefaultCatalog returns the built-in catalog: Moscow crossed with
// banking software, testing and development.
func DefaultCatalog() Catalog {
	return Catalog{
		Areas:           []int{1},
		Specializations: []string{"1.395", "1.117", "1.221"},
	}
}

// Facets returns the cross-product of areas and specializations in
// area-major order. Duplicate codes are collapsed.
func (c Catalog) Facets() []Facet {
	seen := make(map[Facet]struct{}, len(c.Areas)*len(c.Specializations))
	facets := make([]Facet, 0, len(c.Areas)*len(c.Specializations))
	for _, area := range c.Areas {
		for _, spec := range c.Specializations {
			f := Facet{Area: area, Specialization: strings.TrimSpace(spec)}
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			facets = append(facets, f)
		}
	}
	return facets
}

// Validate checks that the catalog defines a non-empty search space.
func (c Catalog) Validate() error {
	if len(c.Areas) == 0 {
		return fmt.Errorf("catalog: at least one area is required")
	}
	if len(c.Specializations) == 0 {
		return fmt.Errorf("catalog: at least one specialization is required")
	}
	for _, spec := range c.Specializations {
		if strings.TrimSpace(spec) == "" {
			return fmt.Errorf("catalog: empty specialization code")
		}
	}
	return nil
}

// LoadCatalog reads a YAML catalog file:
//
//	areas: [1, 2]
//	specializations: ["1.395", "1.117"]
//
// Specialization codes should be quoted so YAML keeps their exact text.
func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %q: %w", path, err)
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}
