// Package auth issues and validates the bearer tokens guarding the HTTP
// API. Auth is optional: an empty secret disables it entirely.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims carried by an API bearer token.
type Claims struct {
	Subject string `json:"sub_name,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and validates HS256 tokens.
type Manager struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewManager creates an auth manager. An empty secret yields a disabled
// manager; Enabled reports false and validation always fails.
func NewManager(secret string) *Manager {
	return &Manager{
		secret:   []byte(secret),
		tokenTTL: 24 * time.Hour,
	}
}

// Enabled reports whether a signing secret is configured.
func (m *Manager) Enabled() bool {
	return len(m.secret) > 0
}

// IssueToken creates a signed token for the given subject.
func (m *Manager) IssueToken(subject string) (string, error) {
	if !m.Enabled() {
		return "", fmt.Errorf("auth is disabled")
	}

	now := time.Now()
	claims := &Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "crewmesh",
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and verifies a token, returning its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	if !m.Enabled() {
		return nil, fmt.Errorf("auth is disabled")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
