// Package identity resolves bearer tokens to authenticated principals. The
// core only needs an opaque bidder/buyer reference; token issuance belongs
// to the identity service that fronts the store.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrUnauthenticated is returned for missing, malformed or expired tokens.
var ErrUnauthenticated = errors.New("identity: invalid or missing credentials")

// Principal is an authenticated caller.
type Principal struct {
	ID string
}

// Provider resolves a bearer token into a principal.
type Provider interface {
	Resolve(token string) (*Principal, error)
}

// JWTProvider validates HS256-signed tokens whose subject claim carries the
// principal id.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider creates a provider for the shared signing secret.
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Resolve parses and verifies the token, returning the subject as the
// principal.
func (p *JWTProvider) Resolve(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthenticated
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthenticated
	}
	return &Principal{ID: sub}, nil
}

// Mint signs a token for the subject, valid for ttl. Used by operational
// tooling and tests; the production issuer lives outside this core.
func Mint(secret, subject string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
