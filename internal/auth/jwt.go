// Package auth issues and verifies the HS256 session tokens that scope API
// requests to a ledger user.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

const defaultTokenDuration = 24 * time.Hour

var (
	ErrInvalidToken = fmt.Errorf("%w: invalid session token", core.ErrUnauthenticated)
	ErrExpiredToken = fmt.Errorf("%w: session token expired", core.ErrUnauthenticated)
	ErrMissingToken = fmt.Errorf("%w: missing bearer token", core.ErrUnauthenticated)
)

// Claims identify the session user. Tokens minted elsewhere may carry the
// user in either sub or user_id.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// User returns user_id, falling back to sub.
func (c Claims) User() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

type Manager struct {
	secret []byte
	now    func() time.Time
}

func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for userID valid for ttl (24h when ttl <= 0).
func (m *Manager) Issue(userID string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", core.ErrValidation)
	}
	if ttl <= 0 {
		ttl = defaultTokenDuration
	}
	now := m.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate verifies tokenString and returns the user it was issued for.
func (m *Manager) Validate(tokenString string) (string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.User() == "" {
		return "", ErrInvalidToken
	}
	return claims.User(), nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// Middleware scopes the request context to the token's user. onError writes
// the rejection; it receives an error wrapping core.ErrUnauthenticated.
func (m *Manager) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := BearerToken(r)
			if err == nil {
				var user string
				if user, err = m.Validate(raw); err == nil {
					next.ServeHTTP(w, r.WithContext(ledger.WithUser(r.Context(), user)))
					return
				}
			}
			onError(w, r, err)
		})
	}
}
