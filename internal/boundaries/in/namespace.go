package in

import (
	"context"
	"io"

	"github.com/bnema/toolshed/internal/domain"
)

// NamespaceService defines the contract for namespace-scoped storage access at
// the request boundary. Every method returns domain.ErrForbidden, and nothing
// else, when the namespace is unknown, unconfigured or the principal lacks a
// required action.
type NamespaceService interface {
	// HasAccessToNamespace checks every action against the namespace ACL.
	HasAccessToNamespace(ctx context.Context, principal *domain.Principal, ns domain.NamespaceID, actions ...domain.AclAction) error

	// OpenBlob streams a blob. Requires AclActionReadBlobs.
	OpenBlob(ctx context.Context, principal *domain.Principal, ns domain.NamespaceID, locator domain.BlobLocator) (io.ReadCloser, error)

	// HasBlob checks if a blob exists. Requires AclActionReadBlobs.
	HasBlob(ctx context.Context, principal *domain.Principal, ns domain.NamespaceID, locator domain.BlobLocator) (bool, error)

	// ReadRef resolves a ref. Requires AclActionReadRefs.
	ReadRef(ctx context.Context, principal *domain.Principal, ns domain.NamespaceID, name domain.RefName) (domain.BlobLocator, error)

	// ListNamespaces returns the namespaces the principal may read blobs from.
	ListNamespaces(ctx context.Context, principal *domain.Principal) []domain.NamespaceID
}
