// Package s3store implements out.StorageBackend on an S3-compatible object store.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

// Ensure Store implements out.StorageBackend.
var _ out.StorageBackend = (*Store)(nil)

const (
	defaultBucket = "toolshed"
	blobsPrefix   = "blobs"
	refsPrefix    = "refs"
)

// Config holds the connection settings for one bucket.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Store keeps blobs and refs as objects:
//
//	<prefix>/blobs/sha256/ab/abcdef...
//	<prefix>/refs/<ref name>
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	log    zerowrap.Logger
}

// New connects to the object store and creates the bucket if missing.
func New(ctx context.Context, cfg Config, log zerowrap.Logger) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: s3 endpoint is required", domain.ErrInvalidConfig)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: s3 client: %w", domain.ErrInvalidConfig, err)
	}

	s := newStore(client, cfg, log)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "s3store").
		Str("endpoint", endpoint).
		Str("bucket", s.bucket).
		Msg("s3 blob store ready")

	return s, nil
}

func newStore(client *minio.Client, cfg Config, log zerowrap.Logger) *Store {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = defaultBucket
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// GetBlob retrieves a blob.
func (s *Store) GetBlob(ctx context.Context, locator domain.BlobLocator) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.blobKey(locator), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(err, domain.ErrBlobNotFound, locator.Hash())
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.mapErr(err, domain.ErrBlobNotFound, locator.Hash())
	}
	return obj, nil
}

// PutBlob stores a blob.
func (s *Store) PutBlob(ctx context.Context, locator domain.BlobLocator, data io.Reader, size int64) error {
	info, err := s.client.PutObject(ctx, s.bucket, s.blobKey(locator), data, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	if size >= 0 && info.Size != size {
		_ = s.client.RemoveObject(ctx, s.bucket, info.Key, minio.RemoveObjectOptions{})
		return fmt.Errorf("blob size mismatch: expected %d, got %d", size, info.Size)
	}

	s.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "s3store").
		Str("locator", locator.Hash()).
		Int64(zerowrap.FieldSize, info.Size).
		Msg("blob stored")
	return nil
}

// HasBlob checks if a blob exists.
func (s *Store) HasBlob(ctx context.Context, locator domain.BlobLocator) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.blobKey(locator), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}

// ReadRef resolves a ref.
func (s *Store) ReadRef(ctx context.Context, name domain.RefName) (domain.BlobLocator, error) {
	key, err := s.refKey(name)
	if err != nil {
		return "", err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", s.mapErr(err, domain.ErrRefNotFound, string(name))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", s.mapErr(err, domain.ErrRefNotFound, string(name))
	}
	locator, err := domain.ParseBlobLocator(string(data))
	if err != nil {
		return "", fmt.Errorf("%w: ref %s: %w", domain.ErrCorrupt, name, err)
	}
	return locator, nil
}

// WriteRef creates or moves a ref. Object puts are atomic per key.
func (s *Store) WriteRef(ctx context.Context, name domain.RefName, locator domain.BlobLocator) error {
	key, err := s.refKey(name)
	if err != nil {
		return err
	}
	payload := []byte(locator)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("write ref: %w", err)
	}
	return nil
}

// DeleteRef removes a ref.
func (s *Store) DeleteRef(ctx context.Context, name domain.RefName) error {
	key, err := s.refKey(name)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete ref: %w", err)
	}
	return nil
}

func (s *Store) blobKey(locator domain.BlobLocator) string {
	digest := locator.Digest()
	if len(digest) < 2 {
		return path.Join(s.prefix, blobsPrefix, locator.Hash())
	}
	return path.Join(s.prefix, blobsPrefix, domain.LocatorAlgorithm, digest[:2], digest)
}

func (s *Store) refKey(name domain.RefName) (string, error) {
	if err := name.Validate(); err != nil {
		return "", err
	}
	return path.Join(s.prefix, refsPrefix, string(name)), nil
}

func (s *Store) mapErr(err error, notFound error, what string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", notFound, what)
	}
	return fmt.Errorf("s3 %s: %w", what, err)
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == 404
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
