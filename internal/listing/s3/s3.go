// Package s3 provides a directory listing backend over S3-compatible object
// storage. Directories are the common prefixes of a delimiter listing.
package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/browser/internal/logging"
	"github.com/fruitsalade/fruitsalade/browser/internal/metrics"
	"github.com/fruitsalade/fruitsalade/browser/internal/remote"
)

const delimiter = "/"

// BackendConfig is the JSON config of an S3 listing backend.
type BackendConfig struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"` // key prefix treated as the tree root
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	PageSize  int32  `json:"page_size"`
}

// S3Backend lists "directories" of a bucket.
type S3Backend struct {
	client   s3.ListObjectsV2APIClient
	bucket   string
	prefix   string
	pageSize int32
}

// NewBackend creates a new S3 backend from a BackendConfig.
func NewBackend(ctx context.Context, cfg BackendConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logging.Debug("S3 listing backend ready",
		zap.String("bucket", cfg.Bucket),
		zap.String("prefix", cfg.Prefix))

	return NewWithClient(client, cfg), nil
}

// NewWithClient builds a backend around an existing client.
func NewWithClient(client s3.ListObjectsV2APIClient, cfg BackendConfig) *S3Backend {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &S3Backend{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, delimiter),
		pageSize: pageSize,
	}
}

// NewFromJSON creates an S3Backend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*S3Backend, error) {
	var cfg BackendConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse s3 config: %w", err)
	}
	return NewBackend(ctx, cfg)
}

// keyPrefix maps a remote directory address to the listing prefix. The root
// of an unprefixed bucket lists with an empty prefix.
func (b *S3Backend) keyPrefix(address string) string {
	rel := strings.TrimPrefix(remote.CleanPath(address), "/")
	p := b.prefix
	if rel != "" {
		if p != "" {
			p += delimiter
		}
		p += rel
	}
	if p == "" {
		return ""
	}
	return p + delimiter
}

// List pages through a delimiter listing of address.
func (b *S3Backend) List(ctx context.Context, address string, rev remote.Revision, fn func(remote.Entry) error) error {
	if !rev.IsHead() {
		return remote.ErrRevisionUnsupported
	}

	prefix := b.keyPrefix(address)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
		MaxKeys:   aws.Int32(b.pageSize),
	})

	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		metrics.RecordBackendOperation(b.Type(), "list_objects_v2", time.Since(start), err == nil)
		if err != nil {
			return fmt.Errorf("list %s in bucket %s: %w", prefix, b.bucket, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), delimiter)
			if name == "" {
				continue
			}
			if err := fn(remote.Entry{Name: name, Kind: remote.KindDir}); err != nil {
				return err
			}
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			// Skip the directory marker object itself
			if name == "" || strings.Contains(name, delimiter) {
				continue
			}
			e := remote.Entry{
				Name: name,
				Kind: remote.KindFile,
				Size: aws.ToInt64(obj.Size),
				Hash: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				e.ModTime = *obj.LastModified
			}
			if err := fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Type returns "s3".
func (b *S3Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *S3Backend) Close() error { return nil }
