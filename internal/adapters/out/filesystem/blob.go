// Package filesystem implements storage adapters using the local filesystem.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/natefinch/atomic"

	"github.com/bnema/toolshed/internal/domain"
)

// BlobStore implements out.StorageBackend using the local filesystem.
//
// Layout under the root directory:
//
//	blobs/sha256/ab/abcdef...   blob content
//	refs/<ref name>             locator text
type BlobStore struct {
	rootDir string
	log     zerowrap.Logger
}

// NewBlobStore creates a new filesystem blob store instance.
func NewBlobStore(rootDir string, log zerowrap.Logger) (*BlobStore, error) {
	dirs := []string{
		filepath.Join(rootDir, "blobs"),
		filepath.Join(rootDir, "refs"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	log.Info().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "filesystem").
		Str("root_dir", rootDir).
		Msg("blob store initialized")

	return &BlobStore{
		rootDir: rootDir,
		log:     log,
	}, nil
}

// GetBlob retrieves a blob by locator.
func (s *BlobStore) GetBlob(_ context.Context, locator domain.BlobLocator) (io.ReadCloser, error) {
	file, err := os.Open(s.blobPath(locator))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, locator.Hash())
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	return file, nil
}

// PutBlob stores a blob. The file appears under its final name only once
// fully written.
func (s *BlobStore) PutBlob(ctx context.Context, locator domain.BlobLocator, data io.Reader, size int64) error {
	path := s.blobPath(locator)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	counter := &countingReader{ctx: ctx, r: data}
	if err := atomic.WriteFile(path, counter); err != nil {
		// atomic.WriteFile does not wrap the reader error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to write blob data: %w", err)
	}

	if size >= 0 && counter.n != size {
		os.Remove(path)
		return fmt.Errorf("blob size mismatch: expected %d, got %d", size, counter.n)
	}

	s.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "filesystem").
		Str("locator", locator.Hash()).
		Int64(zerowrap.FieldSize, counter.n).
		Msg("blob stored")

	return nil
}

// HasBlob checks if a blob exists.
func (s *BlobStore) HasBlob(_ context.Context, locator domain.BlobLocator) (bool, error) {
	_, err := os.Stat(s.blobPath(locator))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

func (s *BlobStore) blobPath(locator domain.BlobLocator) string {
	// sha256:abc123... -> blobs/sha256/ab/abc123...
	algorithm, hash, ok := strings.Cut(locator.Hash(), ":")
	if !ok || len(hash) < 2 {
		return filepath.Join(s.rootDir, "blobs", locator.Hash())
	}
	return filepath.Join(s.rootDir, "blobs", algorithm, hash[:2], hash)
}

type countingReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
