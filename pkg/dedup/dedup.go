package dedup

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RawReferences is the repeat-inclusive reference count of the last run.
	RawReferences = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vds_references_raw",
		Help: "References yielded by all facets of the last run, repeats included",
	})

	// UniqueReferences is the unique reference count of the last run.
	UniqueReferences = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vds_references_unique",
		Help: "Unique references of the last run",
	})
)

// Result is the outcome of a merge.
type Result struct {
	// Raw is the sum of all facet yields, cross-facet repeats included.
	Raw int
	// Unique is the size of the merged set.
	Unique int
	// References is the merged set in unspecified order.
	References []vacancy.Reference
}

// Duplicates returns how many raw references were repeats.
func (r Result) Duplicates() int {
	return r.Raw - r.Unique
}

// Deduplicator accumulates facet yields into a Set. It is safe for
// concurrent use when its Set is.
type Deduplicator struct {
	set Set
	raw atomic.Int64
}

// New creates a Deduplicator over set.
func New(set Set) *Deduplicator {
	if set == nil {
		set = NewMemorySet()
	}
	return &Deduplicator{set: set}
}

// Add merges one facet's references.
func (d *Deduplicator) Add(ctx context.Context, refs []vacancy.Reference) error {
	d.raw.Add(int64(len(refs)))
	if _, err := d.set.Add(ctx, refs...); err != nil {
		return fmt.Errorf("dedup add: %w", err)
	}
	return nil
}

// Result returns the raw count and the merged set, and records both as gauges.
func (d *Deduplicator) Result(ctx context.Context) (Result, error) {
	members, err := d.set.Members(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("dedup members: %w", err)
	}

	res := Result{
		Raw:        int(d.raw.Load()),
		Unique:     len(members),
		References: members,
	}
	RawReferences.Set(float64(res.Raw))
	UniqueReferences.Set(float64(res.Unique))
	return res, nil
}

// Merge is the in-memory merge of reference sequences.
func Merge(seqs ...[]vacancy.Reference) Result {
	set := NewMemorySet()
	raw := 0
	for _, seq := range seqs {
		raw += len(seq)
		set.Add(context.Background(), seq...)
	}
	members, _ := set.Members(context.Background())
	return Result{Raw: raw, Unique: len(members), References: members}
}
