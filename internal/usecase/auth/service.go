// Package auth implements bearer-token validation for the API.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bnema/toolshed/internal/domain"
)

// DefaultIssuer is the issuer accepted when none is configured.
const DefaultIssuer = "toolshed"

// Config holds the authentication configuration.
type Config struct {
	Enabled     bool
	TokenSecret []byte // HMAC signing secret shared with the token issuer
	Issuer      string
	// AnonymousClaims are granted to every unauthenticated request, e.g. "group:anonymous".
	AnonymousClaims []domain.Claim
}

// Service implements the AuthService interface.
type Service struct {
	config Config
}

// NewService creates a new auth service.
func NewService(config Config) *Service {
	if config.Issuer == "" {
		config.Issuer = DefaultIssuer
	}
	return &Service{config: config}
}

// IsEnabled returns whether authentication is enabled.
func (s *Service) IsEnabled() bool {
	return s.config.Enabled
}

// Anonymous returns the principal used for requests without a token.
func (s *Service) Anonymous() *domain.Principal {
	return domain.NewPrincipal("", s.config.AnonymousClaims...)
}

// ValidateToken validates a JWT token and returns its claims.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*domain.TokenClaims, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ValidateToken",
	})
	log := zerowrap.FromCtx(ctx)

	if strings.TrimSpace(tokenString) == "" {
		return nil, domain.ErrMissingToken
	}

	claims, err := s.parseTokenClaims(tokenString)
	if err != nil {
		log.Debug().Err(err).Msg("failed to parse token")
		return nil, err
	}

	tokenClaims := buildTokenClaims(claims)
	if tokenClaims.Subject == "" {
		log.Debug().Msg("token has no subject")
		return nil, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}

	log.Debug().Str("subject", tokenClaims.Subject).Msg("token validated")
	return tokenClaims, nil
}

func (s *Service) parseTokenClaims(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.TokenSecret, nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func buildTokenClaims(claims jwt.MapClaims) *domain.TokenClaims {
	return &domain.TokenClaims{
		Subject: getStringClaim(claims, "sub"),
		Issuer:  getStringClaim(claims, "iss"),
		Groups:  getStringsClaim(claims, "groups"),
		Roles:   getStringsClaim(claims, "roles"),
	}
}

func getStringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func getStringsClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			values = append(values, s)
		}
	}
	return values
}
