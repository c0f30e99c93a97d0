// Package jwt issues and verifies the bearer tokens guarding the read API.
package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every token.
const Issuer = "instantiate"

// ErrEmptySecret reports a missing signing secret.
var ErrEmptySecret = errors.New("jwt secret is empty")

// Claims defines JWT payload.
type Claims struct {
	// ProjectID scopes the token to one project; empty means every project.
	ProjectID string `json:"project_id,omitempty"`
	jwtlib.RegisteredClaims
}

// GenerateToken issues an HS256 token for subject. A zero ttl yields a token without expiry.
func GenerateToken(subject, projectID, secret string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := Claims{
		ProjectID: projectID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  subject,
			IssuedAt: jwtlib.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwtlib.NewNumericDate(now.Add(ttl))
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token, secret string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
