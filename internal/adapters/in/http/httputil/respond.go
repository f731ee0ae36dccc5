// Package httputil holds response helpers shared by the HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/domain"
)

// SendJSON writes data as a JSON response.
func SendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// SendError writes a JSON error response.
func SendError(w http.ResponseWriter, status int, message string) {
	SendJSON(w, status, dto.ErrorResponse{Error: message})
}

// StatusFromError maps a domain error to an HTTP status code.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidToolID),
		errors.Is(err, domain.ErrInvalidVersion),
		errors.Is(err, domain.ErrInvalidLocator),
		errors.Is(err, domain.ErrInvalidRefName),
		errors.Is(err, domain.ErrInvalidPath),
		errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrUnknownSource):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMissingToken), errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrCorrupt):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		// nginx convention for a client that went away.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// SendDomainError maps err to a status and writes it. Server-side failures
// are logged with their cause and answered with a generic message.
func SendDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFromError(err)
	if status >= http.StatusInternalServerError {
		log := zerowrap.FromCtx(ctx)
		log.Error().
			Err(err).
			Int(zerowrap.FieldStatus, status).
			Msg("request failed")
		SendError(w, status, http.StatusText(status))
		return
	}
	SendError(w, status, err.Error())
}
