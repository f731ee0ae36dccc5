package out

import (
	"context"
	"io"

	"github.com/bnema/toolshed/internal/domain"
)

// StorageBackend defines the contract for the blob and ref storage of one namespace.
// Blobs are addressed by locator hash; routing hints are ignored by backends.
type StorageBackend interface {
	// GetBlob retrieves a blob. Returns domain.ErrBlobNotFound if it does not exist.
	GetBlob(ctx context.Context, locator domain.BlobLocator) (io.ReadCloser, error)

	// PutBlob stores a blob. The caller has already verified that data hashes to locator.
	PutBlob(ctx context.Context, locator domain.BlobLocator, data io.Reader, size int64) error

	// HasBlob checks if a blob exists.
	HasBlob(ctx context.Context, locator domain.BlobLocator) (bool, error)

	// ReadRef resolves a ref. Returns domain.ErrRefNotFound if it does not exist.
	ReadRef(ctx context.Context, name domain.RefName) (domain.BlobLocator, error)

	// WriteRef creates or moves a ref.
	WriteRef(ctx context.Context, name domain.RefName, locator domain.BlobLocator) error

	// DeleteRef removes a ref. Deleting a missing ref is not an error.
	DeleteRef(ctx context.Context, name domain.RefName) error
}

// NamespaceConfigProvider supplies access-control configuration per namespace.
type NamespaceConfigProvider interface {
	// TryGetNamespace returns the configuration, or false if the namespace is not configured.
	TryGetNamespace(id domain.NamespaceID) (*domain.NamespaceConfig, bool)
}
