// Command vds discovers vacancies through the listing API, fetches and
// enriches every vacancy document and delivers it to the configured sink,
// once or on a fixed interval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/vacancy-ingest/internal/config"
	"github.com/Sternrassler/vacancy-ingest/pkg/client"
	"github.com/Sternrassler/vacancy-ingest/pkg/dedup"
	"github.com/Sternrassler/vacancy-ingest/pkg/dictionary"
	"github.com/Sternrassler/vacancy-ingest/pkg/fetch"
	"github.com/Sternrassler/vacancy-ingest/pkg/logging"
	"github.com/Sternrassler/vacancy-ingest/pkg/metrics"
	"github.com/Sternrassler/vacancy-ingest/pkg/pagination"
	"github.com/Sternrassler/vacancy-ingest/pkg/pipeline"
	"github.com/Sternrassler/vacancy-ingest/pkg/sink"
	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 2
	}

	_, logCloser, err := logging.Setup(logging.Config{
		Level:  logging.LevelFor(cfg.Debug),
		Pretty: cfg.Pretty,
		Output: stderr,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(stderr, "logging error: %v\n", err)
		return 2
	}
	defer logCloser.Close()

	log.Info().
		Str("action", cfg.Action).
		Dur("interval", cfg.Interval).
		Int("workers", cfg.Workers).
		Str("sink", string(cfg.Sink)).
		Str("user_agent", cfg.API.UserAgent).
		Msg("Starting vds")

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	apiClient, err := client.New(cfg.API)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create API client")
		return 2
	}

	switch cfg.Action {
	case config.ActionAreas, config.ActionSpecializations:
		if _, err := dictionary.Dump(ctx, apiClient, cfg.Action, cfg.OutputDir, time.Now()); err != nil {
			log.Error().Err(err).Msg("Dictionary dump failed")
			return 1
		}
		return 0
	}

	if err := ingest(ctx, cfg, apiClient); err != nil {
		log.Error().Err(err).Msg("Ingestion failed")
		return 1
	}
	log.Info().Msg("vds stopped")
	return 0
}

func ingest(ctx context.Context, cfg config.Config, apiClient *client.Client) error {
	out, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	var opts []pipeline.Option
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, pipeline.WithSetFactory(func(run vacancy.Run) dedup.Set {
			return dedup.NewRedisSet(rdb, run, dedup.DefaultTTL)
		}))
	}

	runner, err := pipeline.NewRunner(apiClient, out, pipeline.Config{
		Catalog: cfg.Catalog,
		Pagination: pagination.Config{
			FacetConcurrency: cfg.FacetConcurrency,
			MaxPages:         cfg.MaxPages,
		},
		Fetch: fetch.Options{
			Workers:          cfg.Workers,
			ProgressInterval: cfg.ProgressInterval,
		},
	}, opts...)
	if err != nil {
		return err
	}

	return runner.Serve(ctx, cfg.Interval)
}

// openSink builds the configured sink.
func openSink(ctx context.Context, cfg config.Config) (sink.Sink, error) {
	switch cfg.Sink {
	case sink.KindFile:
		return sink.NewFileSink(cfg.File), nil
	case sink.KindIndex:
		s, err := sink.NewIndexSink(cfg.Index)
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		return s, nil
	case sink.KindPostgres:
		pool, err := sink.OpenPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return sink.NewPostgresSink(pool, cfg.Postgres.TablePrefix), nil
	case sink.KindObject:
		mc, err := sink.NewMinIOClient(cfg.Object)
		if err != nil {
			return nil, fmt.Errorf("minio: %w", err)
		}
		return sink.NewObjectSink(mc, cfg.Object), nil
	}
	return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return rdb, nil
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func startMetricsServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
