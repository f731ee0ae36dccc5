package httputil_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"

	"github.com/bnema/toolshed/internal/adapters/in/http/httputil"
	"github.com/bnema/toolshed/internal/domain"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: tools", domain.ErrForbidden), http.StatusForbidden},
		{domain.ErrToolNotFound, http.StatusNotFound},
		{domain.ErrBlobNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: complete -> active", domain.ErrInvalidTransition), http.StatusConflict},
		{domain.ErrInvalidVersion, http.StatusBadRequest},
		{domain.ErrEmptyContent, http.StatusBadRequest},
		{domain.ErrInvalidToken, http.StatusUnauthorized},
		{domain.ErrCorrupt, http.StatusBadGateway},
		{domain.ErrStorageFailure, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, httputil.StatusFromError(tt.err))
		})
	}
}

func TestSendDomainError_HidesServerFailures(t *testing.T) {
	ctx := zerowrap.WithCtx(context.Background(), zerowrap.Default())

	rec := httptest.NewRecorder()
	httputil.SendDomainError(ctx, rec, fmt.Errorf("%w: disk on fire", domain.ErrStorageFailure))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	httputil.SendDomainError(ctx, rec, domain.ErrToolNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"tool not found"}`, rec.Body.String())
}
