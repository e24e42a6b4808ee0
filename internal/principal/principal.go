// Package principal carries the authenticated caller through a request context.
// Downstream handlers read it once and pass the user ID explicitly into service calls.
package principal

import (
	"context"

	userdomain "gogrow/backend/internal/user/domain"
)

// Principal is the identity established by the session gate for the current request.
type Principal struct {
	UserID    string
	SessionID string
}

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal and true if set; otherwise the zero value, false.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// UserLookup resolves the user behind a principal.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*userdomain.User, error)
}
