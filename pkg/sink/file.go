package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotProvisioned is returned when delivering to a destination the sink
// has not provisioned (or has already released).
var ErrNotProvisioned = errors.New("destination not provisioned")

// FileConfig holds file sink configuration.
type FileConfig struct {
	// Dir is the output directory, created on demand.
	Dir string
	// Prefix starts every file name: {Prefix}_{20060102_150405}.jsonl.
	Prefix string
}

// FileSink writes one JSON document per line. Writes are serialised and
// flushed one at a time, so each line is complete on disk once Deliver
// returns. It is safe for concurrent use.
type FileSink struct {
	config FileConfig
	logger zerolog.Logger

	mu     sync.Mutex
	dest   Destination
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewFileSink creates a file sink. No file is opened until Provision.
func NewFileSink(config FileConfig) *FileSink {
	if config.Dir == "" {
		config.Dir = "."
	}
	if config.Prefix == "" {
		config.Prefix = "vacancies"
	}
	return &FileSink{
		config: config,
		logger: log.With().Str("component", "file_sink").Logger(),
	}
}

// Path returns the file path a run is written to.
func (s *FileSink) Path(run vacancy.Run) string {
	return filepath.Join(s.config.Dir, fmt.Sprintf("%s_%s.jsonl", s.config.Prefix, run.Stamp()))
}

// Provision creates (or truncates) the run's file. Provisioning the file
// that is already open keeps it; a different run's file replaces it.
func (s *FileSink) Provision(_ context.Context, run vacancy.Run) (Destination, error) {
	dest := Destination(s.Path(run))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil && s.dest == dest {
		return provisioned(KindFile, dest, nil)
	}
	if err := s.closeLocked(); err != nil {
		s.logger.Warn().Err(err).Str("path", string(s.dest)).Msg("Failed to close previous run file")
	}

	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return provisioned(KindFile, dest, fmt.Errorf("create output dir: %w", err))
	}
	f, err := os.Create(string(dest))
	if err != nil {
		return provisioned(KindFile, dest, fmt.Errorf("create file: %w", err))
	}

	s.file = f
	s.dest = dest
	s.writer = bufio.NewWriter(f)
	s.enc = json.NewEncoder(s.writer)
	s.enc.SetEscapeHTML(false)

	s.logger.Info().Str("path", string(dest)).Msg("Output file ready")
	return provisioned(KindFile, dest, nil)
}

// Deliver appends the record's document as one line.
func (s *FileSink) Deliver(_ context.Context, dest Destination, rec vacancy.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || dest != s.dest {
		return delivered(KindFile, dest, rec, ErrNotProvisioned)
	}
	if err := s.enc.Encode(rec.Document); err != nil {
		return delivered(KindFile, dest, rec, fmt.Errorf("encode: %w", err))
	}
	if err := s.writer.Flush(); err != nil {
		return delivered(KindFile, dest, rec, fmt.Errorf("flush: %w", err))
	}
	return delivered(KindFile, dest, rec, nil)
}

// Close flushes and closes the open file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *FileSink) closeLocked() error {
	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file, s.writer, s.enc = nil, nil, nil
	return errors.Join(flushErr, closeErr)
}
