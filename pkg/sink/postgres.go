package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// execer is the subset of *pgxpool.Pool the sink uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresConfig holds Postgres sink configuration.
type PostgresConfig struct {
	DSN string
	// TablePrefix names the day table: {TablePrefix}_{20060102}.
	TablePrefix string
	MaxConns    int32
}

// OpenPool connects a pgx pool for the sink.
func OpenPool(ctx context.Context, config PostgresConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if config.MaxConns > 0 {
		cfg.MaxConns = config.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// PostgresSink inserts documents as jsonb rows into a day table.
// The pool makes it safe for concurrent use.
type PostgresSink struct {
	db     execer
	close  func()
	prefix string
	logger zerolog.Logger

	mu   sync.Mutex
	runs map[Destination]vacancy.Run
}

// NewPostgresSink creates a sink over pool. Close closes the pool.
func NewPostgresSink(pool *pgxpool.Pool, tablePrefix string) *PostgresSink {
	s := newPostgresSink(pool, tablePrefix)
	s.close = pool.Close
	return s
}

func newPostgresSink(db execer, tablePrefix string) *PostgresSink {
	if tablePrefix == "" {
		tablePrefix = "vacancies"
	}
	return &PostgresSink{
		db:     db,
		prefix: tablePrefix,
		logger: log.With().Str("component", "postgres_sink").Logger(),
		runs:   make(map[Destination]vacancy.Run),
	}
}

// TableName returns the table a run is written to.
func (s *PostgresSink) TableName(run vacancy.Run) string {
	return s.prefix + "_" + run.Day()
}

// Provision creates the run's day table if it does not exist.
func (s *PostgresSink) Provision(ctx context.Context, run vacancy.Run) (Destination, error) {
	dest := Destination(s.TableName(run))
	table := pgx.Identifier{string(dest)}.Sanitize()

	_, err := s.db.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	run_id uuid NOT NULL,
	reference text NOT NULL,
	document jsonb NOT NULL,
	address_geodata text,
	address_metro_geodata text,
	ingested_at timestamptz NOT NULL DEFAULT now()
)`, table))
	if err != nil {
		return provisioned(KindPostgres, dest, fmt.Errorf("create table: %w", err))
	}

	s.mu.Lock()
	s.runs[dest] = run
	s.mu.Unlock()

	s.logger.Info().Str("table", string(dest)).Msg("Table ready")
	return provisioned(KindPostgres, dest, nil)
}

// Deliver inserts one row.
func (s *PostgresSink) Deliver(ctx context.Context, dest Destination, rec vacancy.Record) error {
	s.mu.Lock()
	run, ok := s.runs[dest]
	s.mu.Unlock()
	if !ok {
		return delivered(KindPostgres, dest, rec, ErrNotProvisioned)
	}

	doc, err := json.Marshal(rec.Document)
	if err != nil {
		return delivered(KindPostgres, dest, rec, fmt.Errorf("encode: %w", err))
	}

	_, err = s.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (run_id, reference, document, address_geodata, address_metro_geodata)
VALUES ($1, $2, $3, $4, $5)`, pgx.Identifier{string(dest)}.Sanitize()),
		run.ID.String(),
		string(rec.Reference),
		string(doc),
		textField(rec.Document, vacancy.FieldAddressGeodata),
		textField(rec.Document, vacancy.FieldAddressMetroGeodata),
	)
	if err != nil {
		return delivered(KindPostgres, dest, rec, fmt.Errorf("insert: %w", err))
	}
	return delivered(KindPostgres, dest, rec, nil)
}

// Close closes the pool when the sink owns one.
func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// textField returns a string field or nil for SQL NULL.
func textField(doc vacancy.Document, key string) any {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return nil
}
