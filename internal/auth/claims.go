package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

// TokenTypeAccess is the only token type this service issues.
const TokenTypeAccess TokenType = "access"

// Claims carry the caller's id and the side of a call the bearer may take
// (requester or provider), or operator.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
