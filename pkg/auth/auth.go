// Package auth checks the permissions carried by bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permissions on the conversion settings.
const (
	PermissionReadConfig  = "configuration:read:gotenberg"
	PermissionWriteConfig = "configuration:write:gotenberg"
)

var (
	// ErrNoToken is returned when a request carries no bearer token.
	ErrNoToken = errors.New("no bearer token")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrDisabled is returned when no signing secret is configured.
	ErrDisabled = errors.New("token authentication disabled")
)

// Claims are the claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions"`
}

// Has reports whether the claims grant permission.
func (c *Claims) Has(permission string) bool {
	return c != nil && slices.Contains(c.Permissions, permission)
}

// Authenticator verifies HS256 tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an authenticator for secret. With an empty secret
// every token is rejected.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// GenerateToken signs a token granting permissions to subject.
func (a *Authenticator) GenerateToken(subject string, permissions []string, validity time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrDisabled
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		Permissions: permissions,
	})
	return token.SignedString(a.secret)
}

// Verify parses tokenString and returns its claims.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrDisabled
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// FromRequest verifies the bearer token of r.
func (a *Authenticator) FromRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return nil, ErrNoToken
	}
	return a.Verify(tokenString)
}
