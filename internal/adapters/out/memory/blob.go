// Package memory implements in-process storage adapters.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bnema/toolshed/internal/domain"
)

// BlobStore implements out.StorageBackend in memory.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	refs  map[domain.RefName]domain.BlobLocator
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		blobs: make(map[string][]byte),
		refs:  make(map[domain.RefName]domain.BlobLocator),
	}
}

// GetBlob retrieves a blob.
func (s *BlobStore) GetBlob(_ context.Context, locator domain.BlobLocator) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[locator.Hash()]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, locator)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// PutBlob stores a blob.
func (s *BlobStore) PutBlob(ctx context.Context, locator domain.BlobLocator, data io.Reader, size int64) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read blob data: %w", err)
	}
	if size >= 0 && int64(len(buf)) != size {
		return fmt.Errorf("blob size mismatch: expected %d, got %d", size, len(buf))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.blobs[locator.Hash()] = buf
	s.mu.Unlock()
	return nil
}

// HasBlob checks if a blob exists.
func (s *BlobStore) HasBlob(_ context.Context, locator domain.BlobLocator) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blobs[locator.Hash()]
	return ok, nil
}

// ReadRef resolves a ref.
func (s *BlobStore) ReadRef(_ context.Context, name domain.RefName) (domain.BlobLocator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locator, ok := s.refs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrRefNotFound, name)
	}
	return locator, nil
}

// WriteRef creates or moves a ref.
func (s *BlobStore) WriteRef(_ context.Context, name domain.RefName, locator domain.BlobLocator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[name] = locator
	return nil
}

// DeleteRef removes a ref.
func (s *BlobStore) DeleteRef(_ context.Context, name domain.RefName) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refs, name)
	return nil
}

// Len returns the number of stored blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
