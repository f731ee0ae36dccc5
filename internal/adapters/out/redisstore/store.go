// Package redisstore implements out.StorageBackend on redis.
package redisstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/redis/go-redis/v9"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

// Ensure Store implements out.StorageBackend.
var _ out.StorageBackend = (*Store)(nil)

const defaultRedisURL = "redis://localhost:6379"

// Store keeps blobs and refs as plain string keys under a per-namespace prefix:
//
//	<prefix>blob:<hash>
//	<prefix>ref:<ref name>
//
// Blobs are held in memory while written, so this backend suits small
// directory nodes and tools rather than very large payloads.
type Store struct {
	client *redis.Client
	prefix string
	log    zerowrap.Logger
}

// New connects to the redis server at url. Keys are prefixed with prefix.
func New(ctx context.Context, url, prefix string, log zerowrap.Logger) (*Store, error) {
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %w", domain.ErrInvalidConfig, err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "redisstore").
		Str("addr", opts.Addr).
		Str("prefix", prefix).
		Msg("redis blob store connected")

	return NewWithClient(client, prefix, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, log zerowrap.Logger) *Store {
	return &Store{client: client, prefix: prefix, log: log}
}

// Close closes the underlying redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) blobKey(locator domain.BlobLocator) string {
	return s.prefix + "blob:" + locator.Hash()
}

func (s *Store) refKey(name domain.RefName) string {
	return s.prefix + "ref:" + string(name)
}

// GetBlob retrieves a blob.
func (s *Store) GetBlob(ctx context.Context, locator domain.BlobLocator) (io.ReadCloser, error) {
	data, err := s.client.Get(ctx, s.blobKey(locator)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, locator.Hash())
		}
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// PutBlob stores a blob. Existing blobs are left untouched.
func (s *Store) PutBlob(ctx context.Context, locator domain.BlobLocator, data io.Reader, size int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read blob data: %w", err)
	}
	if size >= 0 && int64(len(buf)) != size {
		return fmt.Errorf("blob size mismatch: expected %d, got %d", size, len(buf))
	}
	if err := s.client.SetNX(ctx, s.blobKey(locator), buf, 0).Err(); err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

// HasBlob checks if a blob exists.
func (s *Store) HasBlob(ctx context.Context, locator domain.BlobLocator) (bool, error) {
	n, err := s.client.Exists(ctx, s.blobKey(locator)).Result()
	if err != nil {
		return false, fmt.Errorf("check blob: %w", err)
	}
	return n == 1, nil
}

// ReadRef resolves a ref.
func (s *Store) ReadRef(ctx context.Context, name domain.RefName) (domain.BlobLocator, error) {
	value, err := s.client.Get(ctx, s.refKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %s", domain.ErrRefNotFound, name)
		}
		return "", fmt.Errorf("read ref: %w", err)
	}
	locator, err := domain.ParseBlobLocator(value)
	if err != nil {
		return "", fmt.Errorf("%w: ref %s: %w", domain.ErrCorrupt, name, err)
	}
	return locator, nil
}

// WriteRef creates or moves a ref.
func (s *Store) WriteRef(ctx context.Context, name domain.RefName, locator domain.BlobLocator) error {
	if err := s.client.Set(ctx, s.refKey(name), string(locator), 0).Err(); err != nil {
		return fmt.Errorf("write ref: %w", err)
	}
	return nil
}

// DeleteRef removes a ref.
func (s *Store) DeleteRef(ctx context.Context, name domain.RefName) error {
	if err := s.client.Del(ctx, s.refKey(name)).Err(); err != nil {
		return fmt.Errorf("delete ref: %w", err)
	}
	return nil
}
