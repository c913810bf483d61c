// Package share uploads transcripts to an S3-compatible object store and
// hands back a time-limited download link.
package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultLinkTTL is how long a presigned link stays valid.
const DefaultLinkTTL = 24 * time.Hour

// Config describes the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool

	// Prefix is prepended to every object key.
	Prefix string

	// LinkTTL is the lifetime of presigned links. Ignored when PublicURL is set.
	LinkTTL time.Duration

	// PublicURL, if set, is the base of unsigned links for buckets that are
	// publicly readable.
	PublicURL string
}

// Store uploads transcripts. It is safe for concurrent use.
type Store struct {
	client *minio.Client
	cfg    Config
}

// New connects to the store and checks that the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("share: endpoint and bucket are required")
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = DefaultLinkTTL
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("share: init client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("share: check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("share: bucket %q does not exist", cfg.Bucket)
	}
	return &Store{client: client, cfg: cfg}, nil
}

// Share stores text under a fresh key ending in name and returns a link to it.
func (s *Store) Share(ctx context.Context, name, text string) (string, error) {
	key := path.Join(s.cfg.Prefix, uuid.NewString(), name)
	body := []byte(text)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:        "text/plain; charset=utf-8",
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
		UserMetadata:       map[string]string{"uploaded-at": time.Now().UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return "", fmt.Errorf("share: upload: %w", err)
	}

	if s.cfg.PublicURL != "" {
		return s.publicURL(key), nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.LinkTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("share: presign: %w", err)
	}
	return u.String(), nil
}

func (s *Store) publicURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.PublicURL, "/"), s.cfg.Bucket, strings.Join(parts, "/"))
}
