package in

import (
	"context"

	"github.com/bnema/toolshed/internal/domain"
)

// AuthService defines the contract for validating caller credentials.
// Tokens are issued elsewhere; this service only verifies them.
type AuthService interface {
	// IsEnabled returns whether authentication is enabled.
	IsEnabled() bool

	// ValidateToken validates a JWT token and returns its claims.
	ValidateToken(ctx context.Context, tokenString string) (*domain.TokenClaims, error)

	// Anonymous returns the principal used for unauthenticated requests.
	Anonymous() *domain.Principal
}
