// Package objectstore uploads and manages hydrated media bytes in an
// S3-compatible bucket under a deterministic key namespace. It owns no
// retry logic of its own — the media worker decides when to retry an
// upload; this package only talks to S3 (see DESIGN.md: the
// put/list/delete-many shape follows storj's minio-go client pattern,
// implemented on the aws-sdk-go-v2 S3 client).
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrEmptyBody is returned when an upload is attempted with zero bytes.
var ErrEmptyBody = errors.New("objectstore: empty body")

// Store wraps an S3-compatible client scoped to one bucket and CDN base.
type Store struct {
	client  *s3.Client
	bucket  string
	cdnBase string
}

// Config is the subset of internal/config.Config the object store needs.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	CDNBase   string
}

// New builds a Store, using static credentials when provided (the common
// case for S3-compatible providers outside AWS) and falling back to the
// default credential chain otherwise.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket, cdnBase: strings.TrimRight(cfg.CDNBase, "/")}, nil
}

// Put uploads body under key with public-read ACL and a one-year immutable
// cache-control lifetime.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if len(body) == 0 {
		return ErrEmptyBody
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		ACL:          types.ObjectCannedACLPublicRead,
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return fmt.Errorf("putting object %s: %w", key, err)
	}
	return nil
}

// ListUnder paginates ListObjectsV2 under prefix, returning every key.
func (s *Store) ListUnder(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// DeleteMany batches DeleteObjects at up to 1000 keys per call.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	const batchSize = 1000
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]
		objs := make([]types.ObjectIdentifier, len(batch))
		for j, k := range batch {
			objs[j] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objs},
		})
		if err != nil {
			return fmt.Errorf("deleting object batch: %w", err)
		}
	}
	return nil
}

// PublicURL returns the stable CDN URL for key.
func (s *Store) PublicURL(key string) string {
	return s.cdnBase + "/" + key
}

// Key builds the deterministic, bit-exact key namespace:
// {env}/{mls-system-lowercased}/{listingKey}/{ordinal}.{ext}
func Key(env, mlsSystem, listingKey string, ordinal int, contentType string) string {
	return fmt.Sprintf("%s/%s/%s/%d.%s", env, strings.ToLower(mlsSystem), listingKey, ordinal, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.Contains(contentType, "gif"):
		return "gif"
	case strings.Contains(contentType, "webp"):
		return "webp"
	default:
		return "jpg"
	}
}
