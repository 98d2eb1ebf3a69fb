package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneta/internal/core"
	"moneta/internal/ledger"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestIssueAndValidate(t *testing.T) {
	m := NewManager(secret)
	token, err := m.Issue("alice", time.Hour)
	require.NoError(t, err)

	user, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestIssueRequiresUser(t *testing.T) {
	_, err := NewManager(secret).Issue("  ", time.Hour)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestValidateRejects(t *testing.T) {
	m := NewManager(secret)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }
	expired, err := m.Issue("alice", time.Minute)
	require.NoError(t, err)

	other, err := NewManager("another-secret-another-secret-xx").Issue("alice", time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	m.now = func() time.Time { return start.Add(time.Hour) }

	_, err = m.Validate(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	for _, tok := range []string{other, unsigned, "garbage"} {
		_, err = m.Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestValidateAcceptsSubOnly(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "bob",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)

	user, err := NewManager(secret).Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestMiddleware(t *testing.T) {
	m := NewManager(secret)
	token, err := m.Issue("alice", time.Hour)
	require.NoError(t, err)

	var gotErr error
	h := m.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := ledger.UserFromContext(r.Context())
		require.NoError(t, err)
		_, _ = w.Write([]byte(user))
	}))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + token, http.StatusOK, "alice"},
		{"lowercase scheme", "bearer " + token, http.StatusOK, "alice"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotErr = nil
			req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.body, rr.Body.String())
			if tt.status == http.StatusUnauthorized {
				assert.True(t, errors.Is(gotErr, core.ErrUnauthenticated))
			}
		})
	}
}
