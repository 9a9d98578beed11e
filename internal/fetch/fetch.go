// Package fetch resolves job input URIs. Local paths are used in place;
// s3:// objects are streamed from an S3-compatible store and http(s) URLs
// are downloaded.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
	ErrS3NotConfigured   = errors.New("s3 client not configured")
	ErrHTTPNotConfigured = errors.New("http source not configured")
)

// Kind tells whether a URI must be materialized before inference.
type Kind int

const (
	KindLocal Kind = iota
	KindS3
	KindHTTP
)

// Target is a parsed input URI.
type Target struct {
	Kind   Kind
	Path   string
	Bucket string
	Key    string
	URL    string
}

// Name is the file name used when the target is materialized.
func (t Target) Name() string {
	switch t.Kind {
	case KindS3:
		return path.Base(t.Key)
	case KindHTTP:
		u, err := url.Parse(t.URL)
		if err != nil || u.Path == "" || u.Path == "/" {
			return "download"
		}
		return path.Base(u.Path)
	}
	return path.Base(t.Path)
}

// Parse accepts plain paths, file://, s3://bucket/key and http(s) URIs.
func Parse(uri string) (Target, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Target{}, fmt.Errorf("empty uri")
	}
	if !strings.Contains(uri, "://") {
		return Target{Kind: KindLocal, Path: uri}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Target{}, fmt.Errorf("parse uri: %w", err)
	}
	switch u.Scheme {
	case "file":
		return Target{Kind: KindLocal, Path: u.Path}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Target{}, fmt.Errorf("s3 uri must be s3://bucket/key, got %q", uri)
		}
		return Target{Kind: KindS3, Bucket: u.Host, Key: key}, nil
	case "http", "https":
		if u.Host == "" {
			return Target{}, fmt.Errorf("http uri must name a host, got %q", uri)
		}
		return Target{Kind: KindHTTP, URL: u.String()}, nil
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// S3Config holds S3-compatible endpoint credentials.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3 streams objects out of an S3-compatible store.
type S3 struct {
	client *minio.Client
}

// NewS3 creates an S3 source. The connection is established lazily.
func NewS3(cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3{client: client}, nil
}

// Open returns a reader over bucket/key. The caller closes it.
func (s *S3) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if s == nil || s.client == nil {
		return nil, ErrS3NotConfigured
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	return obj, nil
}
