// Package dictionary saves the API's reference dictionaries (areas,
// specializations) to disk so catalog codes can be looked up offline.
package dictionary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Dictionary names served by the API.
const (
	Areas           = "areas"
	Specializations = "specializations"
)

// Fetcher is the interface the API client implements for dictionary fetching.
type Fetcher interface {
	FetchDictionary(ctx context.Context, name string) ([]byte, error)
}

// Dump fetches one dictionary and writes the response body verbatim to
// {dir}/{20060102_150405}_{name}.json. It returns the written path.
func Dump(ctx context.Context, fetcher Fetcher, name, dir string, now time.Time) (string, error) {
	switch name {
	case Areas, Specializations:
	default:
		return "", fmt.Errorf("unknown dictionary %q", name)
	}

	body, err := fetcher.FetchDictionary(ctx, name)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", name, err)
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", now.Format("20060102_150405"), name))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	log.Info().
		Str("component", "dictionary").
		Str("dictionary", name).
		Str("path", path).
		Int("bytes", len(body)).
		Msg("Dictionary saved")
	return path, nil
}
