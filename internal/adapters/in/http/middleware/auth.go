package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/boundaries/in"
	"github.com/bnema/toolshed/internal/domain"
)

type contextKey string

// ContextKeyPrincipal is the context key for the authenticated principal.
const ContextKeyPrincipal contextKey = "principal"

// Authenticate resolves the caller principal from a bearer token.
// Requests without a token run as the anonymous principal; a token that
// fails validation is rejected with 401. When authentication is disabled
// every request runs as the anonymous principal.
func Authenticate(authSvc in.AuthService, log zerowrap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal := authSvc.Anonymous()

			token := bearerToken(r)
			if authSvc.IsEnabled() && token != "" {
				claims, err := authSvc.ValidateToken(ctx, token)
				if err != nil {
					log.Warn().
						Str(zerowrap.FieldLayer, "adapter").
						Str(zerowrap.FieldAdapter, "http").
						Str(zerowrap.FieldMethod, r.Method).
						Str(zerowrap.FieldPath, r.URL.Path).
						Err(err).
						Msg("invalid bearer token")
					sendUnauthorized(w, "invalid token")
					return
				}
				principal = claims.Principal()
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, principal *domain.Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, principal)
}

// PrincipalFromContext returns the principal set by Authenticate, or an
// empty principal holding no claims.
func PrincipalFromContext(ctx context.Context) *domain.Principal {
	if p, ok := ctx.Value(ContextKeyPrincipal).(*domain.Principal); ok && p != nil {
		return p
	}
	return domain.NewPrincipal("")
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	// Support both "Bearer <token>" and direct token
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(auth)
}

func sendUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="toolshed"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: message})
}
