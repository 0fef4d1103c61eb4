// Package storage archives verified ledger snapshots in write-once object
// storage. Works with any S3-compatible provider (AWS, Garage, MinIO, R2) or
// the local filesystem. Uploads fail over across providers in order.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/config"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

// Store wraps an S3 client for a specific bucket / provider.
type Store struct {
	client       *s3.Client
	bucket       string
	provider     string
	storageClass types.StorageClass
}

// New creates a Store from config. Works with any S3-compatible endpoint.
func New(ctx context.Context, cfg config.S3Config, provider string) (*Store, error) {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.ForcePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	store := &Store{
		client:       s3.New(opts),
		bucket:       cfg.Bucket,
		provider:     provider,
		storageClass: types.StorageClass(cfg.StorageClass),
	}
	if err := store.ensureBucketExists(ctx); err != nil {
		return nil, fmt.Errorf("storage: ensure bucket exists: %w", err)
	}
	return store, nil
}

func (s *Store) ensureBucketExists(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Provider returns the human-readable provider label.
func (s *Store) Provider() string { return s.provider }

// PutObject uploads a prepared blob. Keys are content-derived so a retried
// upload rewrites identical bytes.
func (s *Store) PutObject(ctx context.Context, key string, blob []byte, sha256hex string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(blob),
		ContentLength: aws.Int64(int64(len(blob))),
		ContentType:   aws.String("application/x-ndjson+gzip"),
		Metadata:      map[string]string{"sha256": sha256hex},
	}
	if s.storageClass != "" {
		in.StorageClass = s.storageClass
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("storage: put object: %w", err)
	}
	return nil
}

func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, models.NewNotFoundError("snapshot object", key)
		}
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}

// ── Multi-provider failover ───────────────────────────────────────────────────

// MultiStore tries providers in order and returns on first success.
type MultiStore struct {
	providers []Backend
}

// NewMultiStore creates a MultiStore from a list of backends (primary first).
func NewMultiStore(providers ...Backend) *MultiStore {
	return &MultiStore{providers: providers}
}

// PutSnapshot prepares raw once and uploads it to the first provider that
// accepts it. Returns the winning provider label alongside the metadata.
func (m *MultiStore) PutSnapshot(ctx context.Context, scope models.Scope, at time.Time, raw []byte) (BlobMetadata, string, error) {
	blob, meta, err := PrepareBlob(raw, scope, at)
	if err != nil {
		return BlobMetadata{}, "", err
	}
	var errs []error
	for _, p := range m.providers {
		if err := p.PutObject(ctx, meta.Key, blob, meta.SHA256); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Provider(), err))
			continue
		}
		return meta, p.Provider(), nil
	}
	return BlobMetadata{}, "", fmt.Errorf("storage: all providers failed: %w", errors.Join(errs...))
}

// GetSnapshot fetches key from the first provider holding an intact copy and
// returns the decompressed NDJSON. A copy whose digest differs from sha256hex
// is skipped; if no intact copy exists the error wraps models.ErrIntegrity.
func (m *MultiStore) GetSnapshot(ctx context.Context, key, sha256hex string) ([]byte, error) {
	var errs []error
	corrupt := false
	for _, p := range m.providers {
		blob, err := p.GetObject(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := worm.VerifyObject(blob, sha256hex); err != nil {
			corrupt = true
			errs = append(errs, fmt.Errorf("%s: %w", p.Provider(), err))
			continue
		}
		return DecompressBlob(bytes.NewReader(blob))
	}
	if corrupt {
		errs = append(errs, models.ErrIntegrity)
	}
	return nil, fmt.Errorf("storage: no intact copy of %s: %w", key, errors.Join(errs...))
}

// DeleteObject deletes from all providers (best-effort).
func (m *MultiStore) DeleteObject(ctx context.Context, key string) error {
	var errs []error
	for _, p := range m.providers {
		if err := p.DeleteObject(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
