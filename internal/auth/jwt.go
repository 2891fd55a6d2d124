// Package auth verifies bearer credentials and turns them into principals.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"roadside/internal/domain"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiringSoon = errors.New("token expires too soon")
)

// Claims is the token payload: subject and role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for the principal. Used by tests and local tooling;
// issuing credentials for end users lives outside this service.
func (v *Verifier) Issue(p domain.Principal, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses the token and returns the principal it names. When
// rejectWithin is positive, tokens expiring within that window are refused.
func (v *Verifier) Verify(token string, rejectWithin time.Duration) (domain.Principal, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return domain.Principal{}, ErrMissingToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return domain.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role := domain.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return domain.Principal{}, ErrInvalidToken
	}
	if rejectWithin > 0 && claims.ExpiresAt.Time.Sub(v.now()) < rejectWithin {
		return domain.Principal{}, ErrExpiringSoon
	}
	return domain.Principal{ID: claims.Subject, Role: role, Active: true}, nil
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the "token" query parameter for browser websockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
