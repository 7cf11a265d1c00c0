// Package originstore is an optional alternate source for origin images
// backed by S3 or an S3-compatible store, exercised by internal/fetcher
// when a request URL uses the s3:// scheme. This is a domain-stack
// component supplementing spec.md's HTTP-only fetch contract — the
// retrieval pack's aws-sdk-go-v2 dependency otherwise has no home, so
// this package gives it one (see DESIGN.md).
//
// Grounded directly on the teacher's internal/storage/drivers/s3.go
// (NewS3Client/GetObject): same client construction (static credentials
// or default credential chain, optional path-style endpoint override for
// MinIO-style S3-compatible stores), generalized to accept an optional
// pre-configured *http.Client; when none is given, http.DefaultClient is
// used.
package originstore

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/imaged/imaged-go/internal/logger"
)

// Config mirrors the teacher's S3-specific env knobs, renamed to the
// ORIGIN_S3_* prefix SPEC_FULL.md §6.1 defines.
type Config struct {
	Region     string
	AccessKey  string
	SecretKey  string
	BaseURL    string // non-empty selects an S3-compatible endpoint; path-style addressing is used either way
	HTTPClient *http.Client
}

// Store fetches objects from a single S3-compatible bucket namespace;
// the bucket is supplied per-call (parsed from the s3://bucket/key URL
// by internal/fetcher) rather than fixed at construction, since a single
// deployment may reference images across more than one bucket.
type Store struct {
	client *s3.Client
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var client *s3.Client
	if cfg.BaseURL != "" {
		logger.Infof("originstore: using S3-compatible endpoint %s", cfg.BaseURL)
		client = s3.New(s3.Options{
			Region:       cfg.Region,
			Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			BaseEndpoint: aws.String(cfg.BaseURL),
			UsePathStyle: true,
			HTTPClient:   httpClient,
		})
	} else {
		opts := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
			config.WithHTTPClient(httpClient),
		}
		if cfg.AccessKey != "" && cfg.SecretKey != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("originstore: loading AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Store{client: client}, nil
}

// Get satisfies internal/fetcher.OriginStore.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("originstore: fetching s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("originstore: reading body of s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
