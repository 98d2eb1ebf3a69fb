package ledger

import (
	"context"
	"strings"

	"moneta/internal/core"
)

type userKey struct{}

// WithUser scopes ctx to the ledger partition of userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, strings.TrimSpace(userID))
}

// UserFromContext returns the session user, or core.ErrUnauthenticated.
func UserFromContext(ctx context.Context) (string, error) {
	id, _ := ctx.Value(userKey{}).(string)
	if id == "" {
		return "", core.ErrUnauthenticated
	}
	return id, nil
}
