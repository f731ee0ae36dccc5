package auth

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/toolshed/internal/domain"
)

var testSecret = []byte("test-secret-with-enough-entropy-for-hs256")

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestService_ValidateToken(t *testing.T) {
	svc := NewService(Config{Enabled: true, TokenSecret: testSecret})
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		wantErr error
		want    *domain.TokenClaims
	}{
		{
			name: "valid token with groups",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, jwt.MapClaims{
					"sub": "ci-bot", "iss": DefaultIssuer, "exp": future,
					"groups": []string{"uploaders"}, "roles": []string{"bot"},
				})
			},
			want: &domain.TokenClaims{Subject: "ci-bot", Issuer: DefaultIssuer, Groups: []string{"uploaders"}, Roles: []string{"bot"}},
		},
		{
			name:    "empty token",
			token:   func(t *testing.T) string { return "" },
			wantErr: domain.ErrMissingToken,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return signToken(t, []byte("another-secret"), jwt.MapClaims{"sub": "x", "iss": DefaultIssuer, "exp": future})
			},
			wantErr: domain.ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, jwt.MapClaims{"sub": "x", "iss": "someone-else", "exp": future})
			},
			wantErr: domain.ErrInvalidToken,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, jwt.MapClaims{"sub": "x", "iss": DefaultIssuer, "exp": time.Now().Add(-time.Hour).Unix()})
			},
			wantErr: domain.ErrInvalidToken,
		},
		{
			name: "no expiry",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, jwt.MapClaims{"sub": "x", "iss": DefaultIssuer})
			},
			wantErr: domain.ErrInvalidToken,
		},
		{
			name: "no subject",
			token: func(t *testing.T) string {
				return signToken(t, testSecret, jwt.MapClaims{"iss": DefaultIssuer, "exp": future})
			},
			wantErr: domain.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.ValidateToken(testContext(), tt.token(t))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, claims)
		})
	}
}

func TestService_Anonymous(t *testing.T) {
	svc := NewService(Config{AnonymousClaims: []domain.Claim{{Type: domain.ClaimTypeGroup, Value: "anonymous"}}})

	p := svc.Anonymous()

	assert.Empty(t, p.Subject)
	assert.True(t, p.HasClaim(domain.Claim{Type: domain.ClaimTypeGroup, Value: "anonymous"}))
	assert.False(t, svc.IsEnabled())
}
