package auth

import (
	"errors"
	"strings"
)

// Caller is an authenticated party as seen by the call services.
type Caller struct {
	ID   string
	Role string
}

var ErrInvalidCredential = errors.New("auth: invalid credential")

// Resolver turns a raw credential into a Caller.
type Resolver interface {
	ResolveCaller(credential string) (Caller, error)
}

// ResolveCaller verifies a bearer access token (with or without the "Bearer " prefix).
func (m *Manager) ResolveCaller(credential string) (Caller, error) {
	tok := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), bearerPrefix))
	if tok == "" {
		return Caller{}, ErrInvalidCredential
	}
	claims, err := m.Verify(tok, m.now())
	if err != nil {
		return Caller{}, ErrInvalidCredential
	}
	return Caller{ID: claims.UserID, Role: claims.Role}, nil
}
