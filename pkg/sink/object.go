package sink

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ObjectConfig holds object store sink configuration.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	// Prefix starts every object key: {Prefix}/{20060102_150405}/{sha1}.json.
	Prefix string
}

// DefaultObjectConfig returns the default object store configuration.
func DefaultObjectConfig() ObjectConfig {
	return ObjectConfig{
		Endpoint: "localhost:9000",
		Region:   "us-east-1",
		Bucket:   "vacancies",
		Prefix:   "vacancies",
	}
}

// Validate checks the configuration.
func (c ObjectConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// NewMinIOClient creates an object store client.
func NewMinIOClient(c ObjectConfig) (*minio.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return minio.New(c.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure:    c.UseSSL,
		Region:    c.Region,
		Transport: newObjectTransport(),
	})
}

func newObjectTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
}

// ObjectStore is the subset of *minio.Client the sink uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectSink stores each document as a JSON object under a run prefix.
// It is safe for concurrent use.
type ObjectSink struct {
	store  ObjectStore
	config ObjectConfig
	logger zerolog.Logger
}

// NewObjectSink creates an object store sink.
func NewObjectSink(store ObjectStore, config ObjectConfig) *ObjectSink {
	if config.Prefix == "" {
		config.Prefix = "vacancies"
	}
	return &ObjectSink{
		store:  store,
		config: config,
		logger: log.With().Str("component", "object_sink").Logger(),
	}
}

// RunPrefix returns the key prefix a run is written under.
func (s *ObjectSink) RunPrefix(run vacancy.Run) string {
	return path.Join(s.config.Prefix, run.Stamp())
}

// ObjectKey returns the key of a reference's document under dest.
func ObjectKey(dest Destination, ref vacancy.Reference) string {
	sum := sha1.Sum([]byte(ref))
	return path.Join(string(dest), hex.EncodeToString(sum[:])+".json")
}

// Provision ensures the bucket exists.
func (s *ObjectSink) Provision(ctx context.Context, run vacancy.Run) (Destination, error) {
	dest := Destination(s.RunPrefix(run))
	if err := s.ensureBucket(ctx); err != nil {
		return provisioned(KindObject, dest, fmt.Errorf("ensure bucket %s: %w", s.config.Bucket, err))
	}
	s.logger.Info().
		Str("bucket", s.config.Bucket).
		Str("prefix", string(dest)).
		Msg("Object destination ready")
	return provisioned(KindObject, dest, nil)
}

func (s *ObjectSink) ensureBucket(ctx context.Context) error {
	exists, err := s.store.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = s.store.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{Region: s.config.Region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
		return err
	}
	return nil
}

// Deliver uploads the record's document.
func (s *ObjectSink) Deliver(ctx context.Context, dest Destination, rec vacancy.Record) error {
	body, err := json.Marshal(rec.Document)
	if err != nil {
		return delivered(KindObject, dest, rec, fmt.Errorf("encode: %w", err))
	}

	key := ObjectKey(dest, rec.Reference)
	_, err = s.store.PutObject(ctx, s.config.Bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return delivered(KindObject, dest, rec, fmt.Errorf("put %s: %w", key, err))
	}
	return delivered(KindObject, dest, rec, nil)
}

// Close is a no-op; the client holds no per-sink resources.
func (s *ObjectSink) Close() error {
	return nil
}
