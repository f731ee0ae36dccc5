package dto

import "github.com/bnema/toolshed/internal/domain"

// NamespacesResponse lists the namespaces readable by the caller.
type NamespacesResponse struct {
	Namespaces []domain.NamespaceID `json:"namespaces"`
}

// RefResponse is a resolved ref.
type RefResponse struct {
	Name    domain.RefName     `json:"name"`
	Locator domain.BlobLocator `json:"locator"`
}
