package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vds_listing_pages_fetched_total",
		Help: "Total listing pages read",
	})

	discoveryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vds_discovery_failures_total",
		Help: "Total facets whose listing walk failed",
	})

	referencesDiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vds_references_discovered_total",
		Help: "Total references yielded by listing walks, cross-facet repeats included",
	})

	walksTruncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vds_listing_walks_truncated_total",
		Help: "Total facet walks stopped at the page cap before the last reported page",
	})
)

// Config holds paginator configuration.
type Config struct {
	// FacetConcurrency is the number of facets walked in parallel.
	// Pages within one facet are always walked sequentially.
	FacetConcurrency int

	// MaxPages caps the pages read per facet. A walk that reaches the cap
	// keeps the references read so far.
	MaxPages int
}

// DefaultConfig returns the default configuration: facets one after another.
func DefaultConfig() Config {
	return Config{
		FacetConcurrency: 1,
		MaxPages:         100,
	}
}

// PageFetcher is the interface the API client implements for single-page fetching.
type PageFetcher interface {
	// FetchPage fetches one listing page of a facet. The returned page has
	// non-nil Items and Pages.
	FetchPage(ctx context.Context, f vacancy.Facet, page int) (*vacancy.ListingPage, error)
}

// DiscoveryError reports a facet whose listing walk could not complete.
type DiscoveryError struct {
	Facet vacancy.Facet
	Page  int
	Err   error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery of %s failed at page %d: %v", e.Facet, e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// FacetResult is the outcome of walking one facet.
type FacetResult struct {
	Facet      vacancy.Facet
	References []vacancy.Reference
	Pages      int
	Err        error
}

// Paginator walks facet listings.
type Paginator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewPaginator creates a new paginator.
func NewPaginator(fetcher PageFetcher, config Config) *Paginator {
	if config.FacetConcurrency <= 0 {
		config.FacetConcurrency = 1
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 100
	}

	return &Paginator{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "paginator").Logger(),
	}
}

// List walks all pages of one facet and returns the references in listing
// order. On failure it returns a *DiscoveryError and no references.
func (p *Paginator) List(ctx context.Context, f vacancy.Facet) ([]vacancy.Reference, error) {
	refs, _, err := p.walk(ctx, f)
	return refs, err
}

func (p *Paginator) walk(ctx context.Context, f vacancy.Facet) ([]vacancy.Reference, int, error) {
	start := time.Now()
	var refs []vacancy.Reference

	for page := 0; ; page++ {
		if page >= p.config.MaxPages {
			walksTruncatedTotal.Inc()
			p.logger.Warn().
				Str("facet", f.String()).
				Int("max_pages", p.config.MaxPages).
				Int("references", len(refs)).
				Msg("Page cap reached, facet walk truncated")
			return refs, page, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, page, &DiscoveryError{Facet: f, Page: page, Err: err}
		}

		lp, err := p.fetcher.FetchPage(ctx, f, page)
		if err != nil {
			return nil, page, &DiscoveryError{Facet: f, Page: page, Err: err}
		}
		// PageFetcher implementations other than the client may skip validation.
		if err := lp.Validate(); err != nil {
			return nil, page, &DiscoveryError{Facet: f, Page: page, Err: err}
		}
		pagesFetchedTotal.Inc()

		for _, item := range lp.Items {
			if item.URL == "" {
				p.logger.Debug().
					Str("facet", f.String()).
					RawJSON("item_id", itemID(item)).
					Msg("Skipping listing item without url")
				continue
			}
			refs = append(refs, vacancy.Reference(item.URL))
		}

		p.logger.Debug().
			Str("facet", f.String()).
			Int("page", page).
			Int("pages", *lp.Pages).
			Int("items", len(lp.Items)).
			Msg("Listing page read")

		// The count of the response just read decides whether another page follows.
		if page >= *lp.Pages-1 {
			p.logger.Info().
				Str("facet", f.String()).
				Int("pages", page+1).
				Int("references", len(refs)).
				Dur("duration", time.Since(start)).
				Msg("Facet walk complete")
			return refs, page + 1, nil
		}
	}
}

// ListAll walks every facet, FacetConcurrency at a time, and returns one
// result per facet in input order. A failed facet is logged and contributes
// no references; it never stops the other walks.
func (p *Paginator) ListAll(ctx context.Context, facets []vacancy.Facet) []FacetResult {
	results := make([]FacetResult, len(facets))

	g := new(errgroup.Group)
	g.SetLimit(p.config.FacetConcurrency)

	for i, f := range facets {
		i, f := i, f
		g.Go(func() error {
			refs, pages, err := p.walk(ctx, f)
			results[i] = FacetResult{Facet: f, References: refs, Pages: pages, Err: err}

			if err != nil {
				discoveryFailuresTotal.Inc()
				p.logger.Warn().
					Err(err).
					Str("facet", f.String()).
					Msg("Facet discovery failed")
				return nil
			}
			referencesDiscoveredTotal.Add(float64(len(refs)))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// itemID returns the raw id of a listing item for logging, or null.
func itemID(item vacancy.ListingItem) []byte {
	if len(item.ID) == 0 {
		return []byte("null")
	}
	return item.ID
}
