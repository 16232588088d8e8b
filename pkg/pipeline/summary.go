package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Summary reports the counts of one run.
type Summary struct {
	RunID uuid.UUID
	// Destination is the provisioned sink destination, empty when
	// provisioning was not reached.
	Destination string

	Facets        int
	FacetFailures int

	// Discovered counts facet yields with cross-facet repeats; Unique is
	// the merged set size.
	Discovered int
	Unique     int

	Fetched        int
	FetchFailed    int
	Delivered      int
	DeliveryFailed int
	// Skipped references were never fetched because the run was stopped.
	Skipped int

	Duration time.Duration
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", s.RunID.String()).
		Str("destination", s.Destination).
		Int("facets", s.Facets).
		Int("facet_failures", s.FacetFailures).
		Int("discovered", s.Discovered).
		Int("unique", s.Unique).
		Int("fetched", s.Fetched).
		Int("fetch_failed", s.FetchFailed).
		Int("delivered", s.Delivered).
		Int("delivery_failed", s.DeliveryFailed).
		Int("skipped", s.Skipped).
		Dur("duration", s.Duration)
}
