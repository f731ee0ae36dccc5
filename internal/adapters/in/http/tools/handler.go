// Package tools implements the HTTP adapter for the tool API.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/adapters/in/http/httputil"
	"github.com/bnema/toolshed/internal/adapters/in/http/middleware"
	"github.com/bnema/toolshed/internal/boundaries/in"
	"github.com/bnema/toolshed/internal/domain"
)

// DefaultMaxUploadSize bounds deployment uploads when no limit is configured.
const DefaultMaxUploadSize = 4 << 30 // 4GB

// maxMetadataSize bounds JSON request bodies.
const maxMetadataSize = 1 << 20 // 1MB

// LatestDeployment selects the most recent usable deployment in URLs.
const LatestDeployment = "latest"

// Handler implements the HTTP handler for the tool API.
type Handler struct {
	tools         in.ToolService
	maxUploadSize int64
	now           func() time.Time
	log           zerowrap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxUploadSize limits deployment upload bodies.
func WithMaxUploadSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadSize = n
		}
	}
}

// WithClock overrides the clock used to report deployment progress.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a new tools HTTP handler.
func NewHandler(tools in.ToolService, log zerowrap.Logger, opts ...Option) *Handler {
	h := &Handler{
		tools:         tools,
		maxUploadSize: DefaultMaxUploadSize,
		now:           time.Now,
		log:           log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the tool routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tools", h.handleList)
	mux.HandleFunc("GET /api/v1/tools/{tool}", h.handleGet)
	mux.HandleFunc("PUT /api/v1/tools/{tool}", h.handlePublish)
	mux.HandleFunc("POST /api/v1/tools/{tool}/deployments", h.handleCreateDeployment)
	mux.HandleFunc("GET /api/v1/tools/{tool}/deployments/{deployment}", h.handleGetDeployment)
	mux.HandleFunc("PUT /api/v1/tools/{tool}/deployments/{deployment}", h.handleUpdateDeployment)
	mux.HandleFunc("GET /api/v1/tools/{tool}/deployments/{deployment}/zip", h.handleDownload)
}

func (h *Handler) withLogContext(r *http.Request) *http.Request {
	ctx := zerowrap.CtxWithFields(r.Context(), map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "http",
		zerowrap.FieldHandler: "tools",
		zerowrap.FieldMethod:  r.Method,
		zerowrap.FieldPath:    r.URL.Path,
	})
	return r.WithContext(ctx)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	tools, err := h.tools.ListTools(ctx, middleware.PrincipalFromContext(ctx))
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}

	now := h.now()
	resp := dto.ToolsResponse{Tools: make([]dto.ToolResponse, 0, len(tools))}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, dto.NewToolResponse(t, now))
	}
	httputil.SendJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	tool, err := h.tools.GetTool(ctx, middleware.PrincipalFromContext(ctx), domain.ToolID(r.PathValue("tool")))
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}
	httputil.SendJSON(w, http.StatusOK, dto.NewToolResponse(tool, h.now()))
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	var req dto.ToolResponse
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMetadataSize)).Decode(&req); err != nil {
		httputil.SendError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID == "" {
		req.ID = domain.ToolID(r.PathValue("tool"))
	}
	if string(req.ID) != r.PathValue("tool") {
		httputil.SendError(w, http.StatusBadRequest, "tool id does not match path")
		return
	}

	tool, err := req.Record()
	if err != nil {
		httputil.SendError(w, http.StatusBadRequest, fmt.Sprintf("invalid deployment: %v", err))
		return
	}
	// Deployments are created through their own endpoint only.
	tool.Deployments = nil

	if err := h.tools.PublishTool(ctx, middleware.PrincipalFromContext(ctx), tool); err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}
	httputil.SendJSON(w, http.StatusOK, map[string]any{"id": tool.ID})
}

// handleCreateDeployment accepts either a raw body (zip archive or single
// file) or, with ?locator=, adopts a directory already in the tool namespace.
func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()
	q := r.URL.Query()

	cfg := domain.ToolDeploymentConfig{
		Version:  q.Get("version"),
		FileName: q.Get("file"),
	}
	if raw := q.Get("duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			httputil.SendError(w, http.StatusBadRequest, "invalid duration")
			return
		}
		cfg.Duration = d
	}

	var source domain.ContentSource
	if raw := q.Get("locator"); raw != "" {
		locator, err := domain.ParseBlobLocator(raw)
		if err != nil {
			httputil.SendDomainError(ctx, w, err)
			return
		}
		source = domain.ExistingContent{Locator: locator}
	} else {
		source = domain.StreamContent{Reader: http.MaxBytesReader(w, r.Body, h.maxUploadSize)}
	}

	dep, err := h.tools.CreateDeployment(ctx, middleware.PrincipalFromContext(ctx), domain.ToolID(r.PathValue("tool")), cfg, source)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.SendError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		httputil.SendDomainError(ctx, w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/tools/%s/deployments/%s", r.PathValue("tool"), dep.ID))
	httputil.SendJSON(w, http.StatusCreated, dto.NewDeploymentResponse(dep, h.now()))
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	dep, err := h.resolve(r)
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}
	httputil.SendJSON(w, http.StatusOK, dto.NewDeploymentResponse(dep, h.now()))
}

func (h *Handler) handleUpdateDeployment(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()

	var req dto.UpdateDeploymentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMetadataSize)).Decode(&req); err != nil {
		httputil.SendError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	state, err := domain.ParseDeploymentState(req.State)
	if err != nil {
		httputil.SendError(w, http.StatusBadRequest, err.Error())
		return
	}

	dep, err := h.tools.UpdateDeployment(ctx, middleware.PrincipalFromContext(ctx),
		domain.ToolID(r.PathValue("tool")), domain.ToolDeploymentID(r.PathValue("deployment")), state)
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}
	httputil.SendJSON(w, http.StatusOK, dto.NewDeploymentResponse(dep, h.now()))
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	r = h.withLogContext(r)
	ctx := r.Context()
	log := zerowrap.FromCtx(ctx)
	toolID := domain.ToolID(r.PathValue("tool"))

	dep, err := h.resolve(r)
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}

	rc, err := h.tools.OpenDeploymentZip(ctx, middleware.PrincipalFromContext(ctx), toolID, dep.ID)
	if err != nil {
		httputil.SendDomainError(ctx, w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.zip"`, toolID, sanitizeFileName(dep.Version)))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, rc)
	if err != nil {
		// Headers are gone; the client sees a truncated archive.
		log.Error().
			Err(err).
			Str("tool_id", string(toolID)).
			Str("deployment_id", string(dep.ID)).
			Int64(zerowrap.FieldSize, n).
			Msg("deployment download interrupted")
	}
}

// resolve maps {deployment} to a deployment; "latest" honors ?version=.
func (h *Handler) resolve(r *http.Request) (*domain.ToolDeployment, error) {
	ctx := r.Context()
	depID := r.PathValue("deployment")
	constraint := ""
	if depID == LatestDeployment {
		depID = ""
		constraint = r.URL.Query().Get("version")
	}
	return h.tools.ResolveDeployment(ctx, middleware.PrincipalFromContext(ctx),
		domain.ToolID(r.PathValue("tool")), domain.ToolDeploymentID(depID), constraint)
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_', r == '+':
			return r
		default:
			return '_'
		}
	}, s)
}
