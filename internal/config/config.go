// Package config assembles the service configuration from command-line
// flags. Every flag defaults to a VDS_* environment variable, and a .env
// file in the working directory is loaded first.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/client"
	"github.com/Sternrassler/vacancy-ingest/pkg/sink"
	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
)

// Actions.
const (
	ActionParsing         = "parsing"
	ActionAreas           = "areas"
	ActionSpecializations = "specializations"
)

// Config is the immutable service configuration.
type Config struct {
	Action string
	// Interval between runs; zero runs once.
	Interval time.Duration

	LogFile string
	Debug   bool
	Pretty  bool

	API              client.Config
	Catalog          vacancy.Catalog
	CatalogFile      string
	Workers          int
	FacetConcurrency int
	MaxPages         int
	ProgressInterval time.Duration

	Sink     sink.Kind
	File     sink.FileConfig
	Index    sink.IndexConfig
	Postgres sink.PostgresConfig
	Object   sink.ObjectConfig

	// RedisURL selects a Redis-backed reference set; empty keeps it in memory.
	RedisURL string

	MetricsAddr string
	// OutputDir receives dictionary dumps.
	OutputDir string
}

// Load reads .env, then parses args with environment defaults.
func Load(args []string, stderr io.Writer) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return Parse(args, stderr)
}

// Parse parses args with environment defaults and validates the result.
func Parse(args []string, stderr io.Writer) (Config, error) {
	var errs []error
	intEnv := func(key string, fallback int) int {
		n, err := envInt(key, fallback)
		errs = append(errs, err)
		return n
	}
	boolEnv := func(key string, fallback bool) bool {
		b, err := envBool(key, fallback)
		errs = append(errs, err)
		return b
	}
	floatEnv := func(key string, fallback float64) float64 {
		f, err := envFloat(key, fallback)
		errs = append(errs, err)
		return f
	}
	durationEnv := func(key string, fallback time.Duration) time.Duration {
		d, err := envDuration(key, fallback)
		errs = append(errs, err)
		return d
	}

	var (
		cfg            Config
		intervalMin    int
		sinkName       string
		appName        string
		appVersion     string
		appEmail       string
		esScheme       string
		esHost         string
		esPort         int
		pgMaxConns     int
		requestTimeout time.Duration
	)

	fs := flag.NewFlagSet("vds", flag.ContinueOnError)
	if stderr != nil {
		fs.SetOutput(stderr)
	}

	fs.StringVar(&cfg.Action, "action", envString("VDS_ACTION", ActionParsing), "Action: parsing|areas|specializations (env: VDS_ACTION)")
	fs.IntVar(&intervalMin, "interval", intEnv("VDS_INTERVAL", 0), "Minutes between runs, 0 runs once (env: VDS_INTERVAL)")
	fs.IntVar(&cfg.Workers, "workers", intEnv("VDS_WORKERS", 4), "Concurrent detail fetches (env: VDS_WORKERS)")
	fs.StringVar(&cfg.LogFile, "log-file", envString("VDS_LOG_FILE", "vds.log"), "Log file, empty disables (env: VDS_LOG_FILE)")
	fs.BoolVar(&cfg.Debug, "debug", boolEnv("VDS_DEBUG", false), "Debug logging (env: VDS_DEBUG)")
	fs.BoolVar(&cfg.Pretty, "pretty", boolEnv("VDS_LOG_PRETTY", true), "Human-readable console logs (env: VDS_LOG_PRETTY)")

	fs.StringVar(&appName, "app-name", envString("VDS_APP_NAME", "vds"), "Application name for the User-Agent (env: VDS_APP_NAME)")
	fs.StringVar(&appVersion, "app-version", envString("VDS_APP_VERSION", "1.0.0"), "Application version for the User-Agent (env: VDS_APP_VERSION)")
	fs.StringVar(&appEmail, "app-email", envString("VDS_APP_EMAIL", ""), "Contact email for the User-Agent (env: VDS_APP_EMAIL)")
	fs.StringVar(&cfg.API.BaseURL, "base-url", envString("VDS_BASE_URL", "https://api.hh.ru"), "API base URL (env: VDS_BASE_URL)")
	fs.Float64Var(&cfg.API.RateLimit, "rate-limit-rps", floatEnv("VDS_RATE_LIMIT_RPS", 0), "Upstream request limit (RPS), 0 disables (env: VDS_RATE_LIMIT_RPS)")
	fs.DurationVar(&requestTimeout, "request-timeout", durationEnv("VDS_REQUEST_TIMEOUT", 30*time.Second), "Upstream request timeout (env: VDS_REQUEST_TIMEOUT)")
	fs.StringVar(&cfg.CatalogFile, "catalog", envString("VDS_CATALOG", ""), "YAML facet catalog, empty uses the built-in one (env: VDS_CATALOG)")
	fs.IntVar(&cfg.FacetConcurrency, "facet-concurrency", intEnv("VDS_FACET_CONCURRENCY", 1), "Facets walked in parallel (env: VDS_FACET_CONCURRENCY)")
	fs.IntVar(&cfg.MaxPages, "max-pages", intEnv("VDS_MAX_PAGES", 100), "Listing pages read per facet at most (env: VDS_MAX_PAGES)")
	fs.DurationVar(&cfg.ProgressInterval, "progress-interval", durationEnv("VDS_PROGRESS_INTERVAL", time.Second), "Fetch progress log interval, 0 disables (env: VDS_PROGRESS_INTERVAL)")

	fs.StringVar(&sinkName, "sink", envString("VDS_SINK", string(sink.KindFile)), "Sink: file|index|postgres|object (env: VDS_SINK)")
	fs.StringVar(&cfg.File.Dir, "output-dir", envString("VDS_OUTPUT_DIR", "."), "Directory for output and dictionary files (env: VDS_OUTPUT_DIR)")
	fs.StringVar(&cfg.File.Prefix, "file-prefix", envString("VDS_FILE_PREFIX", "vacancies"), "Output file prefix (env: VDS_FILE_PREFIX)")

	fs.StringVar(&esScheme, "es-scheme", envString("VDS_ES_SCHEME", "https"), "Search index scheme (env: VDS_ES_SCHEME)")
	fs.StringVar(&esHost, "es-host", envString("VDS_ES_HOST", "localhost"), "Search index host (env: VDS_ES_HOST)")
	fs.IntVar(&esPort, "es-port", intEnv("VDS_ES_PORT", 9200), "Search index port (env: VDS_ES_PORT)")
	fs.StringVar(&cfg.Index.IndexPrefix, "es-index", envString("VDS_ES_INDEX", "vacancies"), "Search index name prefix (env: VDS_ES_INDEX)")
	fs.StringVar(&cfg.Index.DocType, "es-doc-type", envString("VDS_ES_DOC_TYPE", "_doc"), "Document type path segment (env: VDS_ES_DOC_TYPE)")
	fs.StringVar(&cfg.Index.Username, "es-user", envString("VDS_ES_USER", ""), "Search index user (env: VDS_ES_USER)")
	fs.StringVar(&cfg.Index.Password, "es-password", envString("VDS_ES_PASSWORD", ""), "Search index password (env: VDS_ES_PASSWORD)")
	fs.BoolVar(&cfg.Index.Insecure, "es-insecure", boolEnv("VDS_ES_INSECURE", false), "Skip TLS verification (env: VDS_ES_INSECURE)")

	fs.StringVar(&cfg.Postgres.DSN, "pg-dsn", envString("VDS_PG_DSN", ""), "Postgres DSN (env: VDS_PG_DSN)")
	fs.StringVar(&cfg.Postgres.TablePrefix, "pg-table", envString("VDS_PG_TABLE", "vacancies"), "Postgres table prefix (env: VDS_PG_TABLE)")
	fs.IntVar(&pgMaxConns, "pg-max-conns", intEnv("VDS_PG_MAX_CONNS", 0), "Postgres pool size, 0 uses the driver default (env: VDS_PG_MAX_CONNS)")

	objDefaults := sink.DefaultObjectConfig()
	fs.StringVar(&cfg.Object.Endpoint, "minio-endpoint", envString("VDS_MINIO_ENDPOINT", objDefaults.Endpoint), "MinIO endpoint host:port (env: VDS_MINIO_ENDPOINT)")
	fs.StringVar(&cfg.Object.AccessKey, "minio-access-key", envString("VDS_MINIO_ACCESS_KEY", ""), "MinIO access key (env: VDS_MINIO_ACCESS_KEY)")
	fs.StringVar(&cfg.Object.SecretKey, "minio-secret-key", envString("VDS_MINIO_SECRET_KEY", ""), "MinIO secret key (env: VDS_MINIO_SECRET_KEY)")
	fs.StringVar(&cfg.Object.Region, "minio-region", envString("VDS_MINIO_REGION", objDefaults.Region), "MinIO region (env: VDS_MINIO_REGION)")
	fs.StringVar(&cfg.Object.Bucket, "minio-bucket", envString("VDS_MINIO_BUCKET", objDefaults.Bucket), "MinIO bucket (env: VDS_MINIO_BUCKET)")
	fs.StringVar(&cfg.Object.Prefix, "minio-prefix", envString("VDS_MINIO_PREFIX", objDefaults.Prefix), "Object key prefix (env: VDS_MINIO_PREFIX)")
	fs.BoolVar(&cfg.Object.UseSSL, "minio-ssl", boolEnv("VDS_MINIO_USE_SSL", false), "Use TLS for MinIO (env: VDS_MINIO_USE_SSL)")

	fs.StringVar(&cfg.RedisURL, "redis-url", envString("VDS_REDIS_URL", ""), "Redis URL for a shared reference set (env: VDS_REDIS_URL)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", envString("VDS_METRICS_ADDR", ""), "Serve /metrics and /health on this address (env: VDS_METRICS_ADDR)")

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Interval = time.Duration(intervalMin) * time.Minute
	cfg.OutputDir = cfg.File.Dir
	cfg.Postgres.MaxConns = int32(pgMaxConns)

	cfg.API.UserAgent = client.UserAgent(appName, appVersion, appEmail)
	cfg.API.PerPage = 100
	cfg.API.Period = 1
	cfg.API.Timeout = requestTimeout

	cfg.Index.URL = (&url.URL{Scheme: esScheme, Host: esHost + ":" + strconv.Itoa(esPort)}).String()
	cfg.Index.Timeout = requestTimeout

	kind, err := sink.ParseKind(sinkName)
	if err != nil {
		return Config{}, err
	}
	cfg.Sink = kind

	if cfg.CatalogFile != "" {
		cfg.Catalog, err = vacancy.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return Config{}, err
		}
	} else {
		cfg.Catalog = vacancy.DefaultCatalog()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Action {
	case ActionParsing, ActionAreas, ActionSpecializations:
	default:
		return fmt.Errorf("unknown action %q (want parsing, areas or specializations)", c.Action)
	}
	if c.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1 (got %d)", c.Workers)
	}
	if c.FacetConcurrency < 1 {
		return fmt.Errorf("facet concurrency must be at least 1 (got %d)", c.FacetConcurrency)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max pages must be at least 1 (got %d)", c.MaxPages)
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("base url is required")
	}

	if c.Action != ActionParsing {
		return nil
	}
	switch c.Sink {
	case sink.KindPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres sink requires -pg-dsn")
		}
	case sink.KindObject:
		if err := c.Object.Validate(); err != nil {
			return fmt.Errorf("object sink: %w", err)
		}
	}
	return nil
}
