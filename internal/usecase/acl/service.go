// Package acl implements namespace-scoped access control at the request boundary.
package acl

import (
	"context"
	"fmt"
	"io"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/boundaries/out"
	"github.com/bnema/toolshed/internal/domain"
	"github.com/bnema/toolshed/internal/usecase/storage"
)

// Service implements the NamespaceService interface.
type Service struct {
	configs out.NamespaceConfigProvider
	storage *storage.Client
}

// NewService creates a new access-control service.
func NewService(configs out.NamespaceConfigProvider, storage *storage.Client) *Service {
	return &Service{
		configs: configs,
		storage: storage,
	}
}

// HasAccessToNamespace checks every action against the namespace ACL. Unknown
// namespaces, missing configuration and missing grants all yield the same error.
func (s *Service) HasAccessToNamespace(ctx context.Context, principal *domain.Principal, id domain.NamespaceID, actions ...domain.AclAction) error {
	_, err := s.namespace(ctx, principal, id, actions...)
	return err
}

func (s *Service) namespace(ctx context.Context, principal *domain.Principal, id domain.NamespaceID, actions ...domain.AclAction) (*storage.Namespace, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "HasAccessToNamespace",
		"namespace":           string(id),
		"subject":             subjectOf(principal),
	})
	log := zerowrap.FromCtx(ctx)

	ns, ok := s.storage.TryGetNamespace(id)
	if !ok {
		log.Debug().Msg("storage namespace not found")
		return nil, forbidden(id)
	}
	cfg, ok := s.configs.TryGetNamespace(id)
	if !ok {
		log.Debug().Msg("namespace has no access configuration")
		return nil, forbidden(id)
	}
	if !domain.Authorize(principal, cfg, actions...) {
		log.Debug().Interface("actions", actions).Msg("namespace access denied")
		return nil, forbidden(id)
	}
	return ns, nil
}

// OpenBlob streams a blob from a namespace.
func (s *Service) OpenBlob(ctx context.Context, principal *domain.Principal, id domain.NamespaceID, locator domain.BlobLocator) (io.ReadCloser, error) {
	ns, err := s.namespace(ctx, principal, id, domain.AclActionReadBlobs)
	if err != nil {
		return nil, err
	}
	return ns.OpenBlob(ctx, locator)
}

// HasBlob checks if a namespace holds a blob.
func (s *Service) HasBlob(ctx context.Context, principal *domain.Principal, id domain.NamespaceID, locator domain.BlobLocator) (bool, error) {
	ns, err := s.namespace(ctx, principal, id, domain.AclActionReadBlobs)
	if err != nil {
		return false, err
	}
	return ns.HasBlob(ctx, locator)
}

// ReadRef resolves a ref in a namespace.
func (s *Service) ReadRef(ctx context.Context, principal *domain.Principal, id domain.NamespaceID, name domain.RefName) (domain.BlobLocator, error) {
	ns, err := s.namespace(ctx, principal, id, domain.AclActionReadRefs)
	if err != nil {
		return "", err
	}
	return ns.ReadRef(ctx, name)
}

// ListNamespaces returns the namespaces the principal may read blobs from.
func (s *Service) ListNamespaces(ctx context.Context, principal *domain.Principal) []domain.NamespaceID {
	var visible []domain.NamespaceID
	for _, id := range s.storage.Namespaces() {
		cfg, ok := s.configs.TryGetNamespace(id)
		if ok && domain.Authorize(principal, cfg, domain.AclActionReadBlobs) {
			visible = append(visible, id)
		}
	}
	return visible
}

func forbidden(id domain.NamespaceID) error {
	return fmt.Errorf("%w: namespace %s", domain.ErrForbidden, id)
}

func subjectOf(p *domain.Principal) string {
	if p == nil {
		return ""
	}
	return p.Subject
}
