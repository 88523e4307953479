package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired is returned by Inspect for tokens past their exp claim.
var ErrExpired = errors.New("token expired")

// TokenInfo is what the client can read out of a backend-issued JWT
// without the signing key. Verification is the backend's job; the client
// only uses this to skip a round trip for obviously stale credentials.
type TokenInfo struct {
	UserID    string
	ExpiresAt time.Time
}

// Inspect parses a JWT without verifying its signature and returns the
// subject and expiry. Returns ErrExpired if the token is already past
// its expiry at the time of the call.
func Inspect(token string) (*TokenInfo, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	info := &TokenInfo{}
	if sub, err := claims.GetSubject(); err == nil {
		info.UserID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
		if time.Now().After(exp.Time) {
			return info, ErrExpired
		}
	}
	return info, nil
}
