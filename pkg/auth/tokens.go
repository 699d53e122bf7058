// Package auth reads bearer tokens for the clinical API from the external
// authentication collaborator. Tokens are fetched per call and never cached.
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrAuthenticationRequired is returned when no valid token is available
// for the requested role. It is raised before any network call.
var ErrAuthenticationRequired = errors.New("authentication required")

// Role is the account kind a call is made as.
type Role string

const (
	RoleDoctor Role = "doctor"
	RoleAdmin  Role = "admin"
)

// TokenProvider returns the bearer token to use for a role.
type TokenProvider interface {
	Token(ctx context.Context, role Role) (string, error)
}

// Tokens is a TokenProvider backed by one oauth2.TokenSource per role.
type Tokens struct {
	sources map[Role]oauth2.TokenSource
}

// NewTokens creates a provider from per-role token sources.
func NewTokens(sources map[Role]oauth2.TokenSource) *Tokens {
	copied := make(map[Role]oauth2.TokenSource, len(sources))
	for role, source := range sources {
		if source != nil {
			copied[role] = source
		}
	}

	return &Tokens{sources: copied}
}

// StaticTokens creates a provider from fixed access tokens. Empty tokens
// leave the role unauthenticated.
func StaticTokens(doctorToken, adminToken string) *Tokens {
	sources := make(map[Role]oauth2.TokenSource, 2)

	if doctorToken != "" {
		sources[RoleDoctor] = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: doctorToken, TokenType: "Bearer"})
	}

	if adminToken != "" {
		sources[RoleAdmin] = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: adminToken, TokenType: "Bearer"})
	}

	return NewTokens(sources)
}

// Token returns the current access token for role.
func (t *Tokens) Token(ctx context.Context, role Role) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	source, ok := t.sources[role]
	if !ok {
		return "", fmt.Errorf("%w: no token source for role %s", ErrAuthenticationRequired, role)
	}

	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthenticationRequired, err)
	}

	if token == nil || !token.Valid() {
		return "", fmt.Errorf("%w: token for role %s is missing or expired", ErrAuthenticationRequired, role)
	}

	return token.AccessToken, nil
}

// IsAuthenticationRequired reports whether err means no usable token was available.
func IsAuthenticationRequired(err error) bool {
	return errors.Is(err, ErrAuthenticationRequired)
}
