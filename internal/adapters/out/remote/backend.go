package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
)

// Ensure Backend implements out.StorageBackend.
var _ out.StorageBackend = (*Backend)(nil)

// ErrReadOnly is returned by write operations on a remote namespace.
var ErrReadOnly = fmt.Errorf("%w: remote namespace is read-only", domain.ErrForbidden)

// Backend exposes one namespace of a remote server as a read-only storage
// backend, so remote deployment trees resolve through a local storage.Namespace.
type Backend struct {
	client    *Client
	namespace domain.NamespaceID
}

// NewBackend returns a backend reading namespace ns through client.
func NewBackend(client *Client, ns domain.NamespaceID) *Backend {
	return &Backend{client: client, namespace: ns}
}

func (b *Backend) blobPath(locator domain.BlobLocator) string {
	return "/api/v1/storage/" + url.PathEscape(string(b.namespace)) + "/blobs/" + url.PathEscape(locator.Hash())
}

// GetBlob fetches a blob. Integrity is checked by the namespace reading it.
func (b *Backend) GetBlob(ctx context.Context, locator domain.BlobLocator) (io.ReadCloser, error) {
	resp, err := b.client.get(ctx, b.blobPath(locator))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, locator.Hash())
		}
		return nil, err
	}
	return resp.Body, nil
}

// HasBlob checks if the remote namespace holds a blob.
func (b *Backend) HasBlob(ctx context.Context, locator domain.BlobLocator) (bool, error) {
	req, err := b.client.newRequest(ctx, http.MethodHead, b.blobPath(locator), nil)
	if err != nil {
		return false, err
	}
	resp, err := b.client.do(req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

// ReadRef resolves a ref on the remote server.
func (b *Backend) ReadRef(ctx context.Context, name domain.RefName) (domain.BlobLocator, error) {
	var result dto.RefResponse
	err := b.client.getJSON(ctx, "/api/v1/storage/"+url.PathEscape(string(b.namespace))+"/refs/"+string(name), &result)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", domain.ErrRefNotFound, name)
		}
		return "", err
	}
	locator, err := domain.ParseBlobLocator(string(result.Locator))
	if err != nil {
		return "", fmt.Errorf("%w: ref %s: %w", domain.ErrCorrupt, name, err)
	}
	return locator, nil
}

// PutBlob is not supported remotely.
func (b *Backend) PutBlob(context.Context, domain.BlobLocator, io.Reader, int64) error {
	return ErrReadOnly
}

// WriteRef is not supported remotely.
func (b *Backend) WriteRef(context.Context, domain.RefName, domain.BlobLocator) error {
	return ErrReadOnly
}

// DeleteRef is not supported remotely.
func (b *Backend) DeleteRef(context.Context, domain.RefName) error {
	return ErrReadOnly
}
