package fetch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vds_fetch_in_flight",
		Help: "Detail fetches currently in flight",
	})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vds_fetch_total",
		Help: "Total detail fetch attempts by outcome",
	}, []string{"outcome"}) // outcome: fetched, failed

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vds_fetch_duration_seconds",
		Help:    "Detail fetch duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Fetcher is the interface the API client implements for detail fetching.
type Fetcher interface {
	FetchDocument(ctx context.Context, ref vacancy.Reference) (vacancy.Document, error)
}

// Options holds pool configuration.
type Options struct {
	// Workers is the number of concurrent fetches.
	Workers int

	// ProgressInterval is how often progress is logged while the pool drains.
	// Zero disables progress logging.
	ProgressInterval time.Duration
}

// DefaultOptions returns the default pool configuration.
func DefaultOptions() Options {
	return Options{
		Workers:          4,
		ProgressInterval: time.Second,
	}
}

// FetchError reports a reference whose document could not be retrieved.
type FetchError struct {
	Reference vacancy.Reference
	Err       error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Reference, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one fetch attempt. Exactly one of Document and
// Err is set.
type Result struct {
	Reference vacancy.Reference
	Document  vacancy.Document
	Err       error
}

// Handler consumes one result inside the worker that produced it.
type Handler func(ctx context.Context, r Result)

// Stats summarises a pool run.
type Stats struct {
	// Total is the number of references handed to the pool.
	Total int
	// Attempted is the number of references taken by a worker.
	Attempted int
	Fetched   int
	Failed    int
	// Skipped is the number of references never taken because the run was stopped.
	Skipped int
}

// Pool runs detail fetches with a fixed number of workers.
type Pool struct {
	fetcher Fetcher
	options Options
	logger  zerolog.Logger

	active    atomic.Int64
	maxActive atomic.Int64
}

// NewPool creates a new pool.
func NewPool(fetcher Fetcher, options Options) *Pool {
	if options.Workers <= 0 {
		options.Workers = 1
	}
	if options.ProgressInterval < 0 {
		options.ProgressInterval = 0
	}

	return &Pool{
		fetcher: fetcher,
		options: options,
		logger:  log.With().Str("component", "fetch_pool").Logger(),
	}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.options.Workers
}

// MaxInFlight returns the highest number of simultaneous fetches observed
// since the pool was created.
func (p *Pool) MaxInFlight() int {
	return int(p.maxActive.Load())
}

// Run fetches every reference once and calls handle with each result.
// It returns when all taken references have been fetched and handled.
//
// Cancelling ctx stops the submission of further references. Fetches already
// taken complete on a context detached from ctx's cancellation, and their
// results are still handled.
func (p *Pool) Run(ctx context.Context, refs []vacancy.Reference, handle Handler) Stats {
	start := time.Now()
	total := len(refs)

	var attempted, fetched, failed atomic.Int64

	queue := make(chan vacancy.Reference)
	drain := context.WithoutCancel(ctx)

	p.logger.Info().
		Int("references", total).
		Int("workers", p.options.Workers).
		Msg("Starting fetch pool")

	var wg sync.WaitGroup
	for i := 0; i < p.options.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for ref := range queue {
				res := p.fetch(drain, ref)
				if res.Err != nil {
					failed.Add(1)
					p.logger.Warn().
						Err(res.Err).
						Int("worker_id", workerID).
						Str("reference", string(ref)).
						Msg("Fetch failed")
				} else {
					fetched.Add(1)
				}
				if handle != nil {
					handle(drain, res)
				}
				attempted.Add(1)
			}
		}(i)
	}

	done := make(chan struct{})
	var observer sync.WaitGroup
	if p.options.ProgressInterval > 0 {
		observer.Add(1)
		go func() {
			defer observer.Done()
			ticker := time.NewTicker(p.options.ProgressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					n := attempted.Load()
					p.logger.Info().
						Int64("completed", n).
						Int("total", total).
						Float64("progress_pct", percent(n, total)).
						Msg("Fetch progress")
				}
			}
		}()
	}

	submitted := 0
submit:
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break submit
		case queue <- ref:
			submitted++
		}
	}
	close(queue)

	wg.Wait()
	close(done)
	observer.Wait()

	stats := Stats{
		Total:     total,
		Attempted: int(attempted.Load()),
		Fetched:   int(fetched.Load()),
		Failed:    int(failed.Load()),
		Skipped:   total - submitted,
	}

	event := p.logger.Info()
	if stats.Skipped > 0 {
		event = p.logger.Warn()
	}
	event.
		Int("total", stats.Total).
		Int("fetched", stats.Fetched).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Dur("duration", time.Since(start)).
		Msg("Fetch pool drained")

	return stats
}

func (p *Pool) fetch(ctx context.Context, ref vacancy.Reference) Result {
	n := p.active.Add(1)
	for {
		peak := p.maxActive.Load()
		if n <= peak || p.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	inFlight.Inc()
	start := time.Now()

	doc, err := p.fetcher.FetchDocument(ctx, ref)

	fetchDuration.Observe(time.Since(start).Seconds())
	inFlight.Dec()
	p.active.Add(-1)

	if err != nil {
		fetchesTotal.WithLabelValues("failed").Inc()
		return Result{Reference: ref, Err: &FetchError{Reference: ref, Err: err}}
	}
	fetchesTotal.WithLabelValues("fetched").Inc()
	return Result{Reference: ref, Document: doc}
}

func percent(n int64, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(n) / float64(total) * 100
}
