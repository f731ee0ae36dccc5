// Package domain contains pure business types without external dependencies.
package domain

import (
	"fmt"
	"strings"
)

// Claim types understood by namespace ACLs.
const (
	ClaimTypeSubject = "sub"
	ClaimTypeGroup   = "group"
	ClaimTypeRole    = "role"
)

// Claim is a typed assertion about a principal.
type Claim struct {
	Type  string
	Value string
}

// ParseClaim parses "type:value" (e.g. "group:tool-admins").
func ParseClaim(s string) (Claim, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Claim{}, fmt.Errorf("%w: invalid claim %q", ErrInvalidConfig, s)
	}
	return Claim{Type: parts[0], Value: parts[1]}, nil
}

// String returns the claim as "type:value".
func (c Claim) String() string {
	return c.Type + ":" + c.Value
}

// Principal is the authenticated identity checked against ACL grants.
type Principal struct {
	Subject string
	Claims  []Claim
}

// NewPrincipal builds a principal with a subject claim followed by extra claims.
func NewPrincipal(subject string, claims ...Claim) *Principal {
	all := make([]Claim, 0, len(claims)+1)
	if subject != "" {
		all = append(all, Claim{Type: ClaimTypeSubject, Value: subject})
	}
	all = append(all, claims...)
	return &Principal{Subject: subject, Claims: all}
}

// HasClaim reports whether the principal holds the claim. A claim value of "*"
// matches any value of the same type.
func (p *Principal) HasClaim(c Claim) bool {
	if p == nil {
		return false
	}
	for _, held := range p.Claims {
		if held.Type != c.Type {
			continue
		}
		if c.Value == "*" || held.Value == c.Value {
			return true
		}
	}
	return false
}

// TokenClaims represents the JWT claims accepted by the API.
type TokenClaims struct {
	Subject string   `json:"sub"`
	Groups  []string `json:"groups,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Issuer  string   `json:"iss"`
}

// Principal converts token claims into a principal.
func (c TokenClaims) Principal() *Principal {
	claims := make([]Claim, 0, len(c.Groups)+len(c.Roles))
	for _, g := range c.Groups {
		claims = append(claims, Claim{Type: ClaimTypeGroup, Value: g})
	}
	for _, r := range c.Roles {
		claims = append(claims, Claim{Type: ClaimTypeRole, Value: r})
	}
	return NewPrincipal(c.Subject, claims...)
}
