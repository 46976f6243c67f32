// Package auth issues and verifies bearer session tokens and resolves the
// caller identity for protected routes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"booknet/internal/identity"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the registered JWT claims plus the display name.
type Claims struct {
	FullName string `json:"fullName"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and parses HS256 tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer with the given signing secret and lifetime.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for id.
func (t *TokenIssuer) Issue(id identity.Identity) (string, error) {
	now := t.now()
	claims := Claims{
		FullName: id.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies raw and returns the identity it carries.
func (t *TokenIssuer) Parse(raw string) (identity.Identity, error) {
	claims := &Claims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return identity.Identity{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(t.now()) {
		return identity.Identity{}, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return identity.Identity{}, ErrInvalidToken
	}
	return identity.Identity{UserID: userID, FullName: claims.FullName}, nil
}
