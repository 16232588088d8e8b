package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/dedup"
	"github.com/Sternrassler/vacancy-ingest/pkg/enrich"
	"github.com/Sternrassler/vacancy-ingest/pkg/fetch"
	"github.com/Sternrassler/vacancy-ingest/pkg/pagination"
	"github.com/Sternrassler/vacancy-ingest/pkg/sink"
	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vds_pipeline_state",
		Help: "Current runner state (0 idle, 1 discovering, 2 deduplicating, 3 provisioning, 4 ingesting, 5 complete, 6 failed)",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vds_runs_total",
		Help: "Total runs by outcome",
	}, []string{"outcome"}) // outcome: complete, failed

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vds_run_duration_seconds",
		Help:    "Run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	lastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vds_last_run_timestamp_seconds",
		Help: "Unix time the last run ended",
	})
)

// ErrRunInProgress is returned when RunOnce is called while a run is active.
var ErrRunInProgress = errors.New("run already in progress")

// Client is the upstream API the runner reads from.
type Client interface {
	pagination.PageFetcher
	fetch.Fetcher
}

// SetFactory creates the reference set of one run.
type SetFactory func(run vacancy.Run) dedup.Set

// Config holds runner configuration.
type Config struct {
	Catalog    vacancy.Catalog
	Pagination pagination.Config
	Fetch      fetch.Options
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		Catalog:    vacancy.DefaultCatalog(),
		Pagination: pagination.DefaultConfig(),
		Fetch:      fetch.DefaultOptions(),
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithSetFactory replaces the in-memory reference set, e.g. with a Redis set
// shared by several processes.
func WithSetFactory(f SetFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.newSet = f
		}
	}
}

// WithClock replaces time.Now as the source of run start times.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner executes ingestion runs. Runs never overlap.
type Runner struct {
	client    Client
	sink      sink.Sink
	config    Config
	facets    []vacancy.Facet
	paginator *pagination.Paginator
	pool      *fetch.Pool
	newSet    SetFactory
	now       func() time.Time
	logger    zerolog.Logger

	running sync.Mutex
	state   atomic.Int32
}

// NewRunner creates a runner.
func NewRunner(client Client, s sink.Sink, config Config, opts ...Option) (*Runner, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if s == nil {
		return nil, errors.New("sink is required")
	}
	if err := config.Catalog.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		client:    client,
		sink:      s,
		config:    config,
		facets:    config.Catalog.Facets(),
		paginator: pagination.NewPaginator(client, config.Pagination),
		pool:      fetch.NewPool(client, config.Fetch),
		newSet:    func(vacancy.Run) dedup.Set { return dedup.NewMemorySet() },
		now:       time.Now,
		logger:    log.With().Str("component", "runner").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.setState(StateIdle)
	return r, nil
}

// State returns the current state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	stateGauge.Set(float64(s))
	if prev != s {
		r.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("State change")
	}
}

// RunOnce executes one run and returns its summary. The error is non-nil
// only when the run failed as a whole; per-reference failures are counted
// in the summary.
//
// Cancelling ctx stops further work. References already being fetched are
// still enriched and delivered before RunOnce returns.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	if !r.running.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer r.running.Unlock()

	run := vacancy.NewRunAt(r.now())
	start := time.Now()
	summary := Summary{RunID: run.ID, Facets: len(r.facets)}
	logger := r.logger.With().Str("run_id", run.ID.String()).Logger()

	fail := func(err error) (Summary, error) {
		summary.Duration = time.Since(start)
		r.setState(StateFailed)
		runsTotal.WithLabelValues("failed").Inc()
		runDuration.Observe(summary.Duration.Seconds())
		lastRunTimestamp.SetToCurrentTime()
		logger.Error().Err(err).EmbedObject(summary).Msg("Run failed")
		return summary, err
	}

	logger.Info().
		Int("facets", len(r.facets)).
		Str("started_at", run.RunTime()).
		Msg("Run started")

	r.setState(StateDiscovering)
	results := r.paginator.ListAll(ctx, r.facets)

	r.setState(StateDeduplicating)
	set := r.newSet(run)
	defer r.release(set)

	d := dedup.New(set)
	for _, res := range results {
		if res.Err != nil {
			summary.FacetFailures++
			continue
		}
		if err := d.Add(ctx, res.References); err != nil {
			return fail(err)
		}
	}
	merged, err := d.Result(ctx)
	if err != nil {
		return fail(err)
	}
	summary.Discovered = merged.Raw
	summary.Unique = merged.Unique

	logger.Info().
		Int("raw", merged.Raw).
		Int("unique", merged.Unique).
		Int("duplicates", merged.Duplicates()).
		Int("facet_failures", summary.FacetFailures).
		Msg("References merged")

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("run stopped before provisioning: %w", err))
	}

	r.setState(StateProvisioning)
	dest, err := r.sink.Provision(ctx, run)
	if err != nil {
		return fail(err)
	}
	summary.Destination = string(dest)

	r.setState(StateIngesting)
	var deliveredOK, deliveryFailed atomic.Int64
	stats := r.pool.Run(ctx, merged.References, func(ctx context.Context, res fetch.Result) {
		if res.Err != nil {
			return
		}
		rec := vacancy.Record{Reference: res.Reference, Document: enrich.Enrich(res.Document)}
		run.StampDocument(rec.Document)

		if err := r.sink.Deliver(ctx, dest, rec); err != nil {
			deliveryFailed.Add(1)
			logger.Warn().Err(err).Str("reference", string(res.Reference)).Msg("Delivery failed")
			return
		}
		deliveredOK.Add(1)
	})

	summary.Fetched = stats.Fetched
	summary.FetchFailed = stats.Failed
	summary.Skipped = stats.Skipped
	summary.Delivered = int(deliveredOK.Load())
	summary.DeliveryFailed = int(deliveryFailed.Load())
	summary.Duration = time.Since(start)

	r.setState(StateComplete)
	runsTotal.WithLabelValues("complete").Inc()
	runDuration.Observe(summary.Duration.Seconds())
	lastRunTimestamp.SetToCurrentTime()
	logger.Info().EmbedObject(summary).Msg("Run complete")

	return summary, nil
}

// release drops run-scoped state held outside the process.
func (r *Runner) release(set dedup.Set) {
	d, ok := set.(interface{ Delete(context.Context) error })
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Delete(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to release reference set")
	}
}

// Serve runs repeatedly, waiting interval after each run whether it
// completed or failed, until ctx is cancelled. An interval of zero runs
// once and returns that run's error.
func (r *Runner) Serve(ctx context.Context, interval time.Duration) error {
	for {
		_, err := r.RunOnce(ctx)
		if interval <= 0 {
			return err
		}

		r.logger.Info().
			Dur("interval", interval).
			Str("last_state", r.State().String()).
			Msg("Waiting for next run")

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("Runner stopped")
			return nil
		case <-timer.C:
		}
		r.setState(StateIdle)
	}
}
