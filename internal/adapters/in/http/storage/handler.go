// Package storage implements the HTTP adapter for namespace blob and ref reads.
package storage

import (
	"io"
	"net/http"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/adapters/in/http/httputil"
	"github.com/bnema/toolshed/internal/adapters/in/http/middleware"
	"github.com/bnema/toolshed/internal/boundaries/in"
	"github.com/bnema/toolshed/internal/domain"
)

// Handler implements the HTTP handler for the storage API.
type Handler struct {
	namespaces in.NamespaceService
	log        zerowrap.Logger
}

// NewHandler creates a new storage HTTP handler.
func NewHandler(namespaces in.NamespaceService, log zerowrap.Logger) *Handler {
	return &Handler{namespaces: namespaces, log: log}
}

// RegisterRoutes registers the storage routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/storage", h.handleNamespaces)
	mux.HandleFunc("GET /api/v1/storage/{ns}/blobs/{locator}", h.handleBlob)
	mux.HandleFunc("HEAD /api/v1/storage/{ns}/blobs/{locator}", h.handleBlobHead)
	mux.HandleFunc("GET /api/v1/storage/{ns}/refs/{ref...}", h.handleRef)
}

func (h *Handler) withLogContext(r *http.Request) *http.Request {
	ctx := zerowrap.CtxWithFields(r.Context(), map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "http",
		zerowrap.FieldHandler: "storage",
		zerowrap.FieldMethod:  r.Method,
		zerowrap.FieldPath:    r.URL.Path,
	})
	return r.WithContext(ctx)
}

func (h *Handler) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	ids := h.namespaces.ListNamespaces(ctx, middleware.PrincipalFromContext(ctx))
	if ids == nil {
		ids = []domain.NamespaceID{}
	}
	httputil.SendJSON(w, http.StatusOK, dto.NamespacesResponse{Namespaces: ids})
}

func (h *Handler) handleBlob(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	locator, err := domain.ParseBlobLocator(r.PathValue("locator"))
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}

	rc, err := h.namespaces.OpenBlob(ctx, middleware.PrincipalFromContext(ctx), domain.NamespaceID(r.PathValue("ns")), locator)
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	// Blobs are immutable.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+locator.Hash()+`"`)
	w.WriteHeader(http.StatusOK)

	if n, err := io.Copy(w, rc); err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Error().
			Err(err).
			Str("locator", locator.Hash()).
			Int64(zerowrap.FieldSize, n).
			Msg("blob transfer interrupted")
	}
}

func (h *Handler) handleBlobHead(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	locator, err := domain.ParseBlobLocator(r.PathValue("locator"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ok, err := h.namespaces.HasBlob(ctx, middleware.PrincipalFromContext(ctx), domain.NamespaceID(r.PathValue("ns")), locator)
	switch {
	case err != nil:
		w.WriteHeader(httputil.StatusFromError(err))
	case !ok:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleRef(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	name := domain.RefName(r.PathValue("ref"))
	if err := name.Validate(); err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}

	locator, err := h.namespaces.ReadRef(ctx, middleware.PrincipalFromContext(ctx), domain.NamespaceID(r.PathValue("ns")), name)
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	httputil.SendJSON(w, http.StatusOK, dto.RefResponse{Name: name, Locator: locator})
}
