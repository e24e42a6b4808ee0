package repository

import (
	"context"
	"time"

	"gogrow/backend/internal/session/domain"
	userdomain "gogrow/backend/internal/user/domain"
)

// Repository defines persistence for sessions.
// Lookups return nil, nil when no row matches.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// GetByTokenHashWithUser returns the session and its owning user in one round trip.
	GetByTokenHashWithUser(ctx context.Context, tokenHash string) (*domain.Session, *userdomain.User, error)
	// Revoke sets revoked_at on an active session. Revoking twice keeps the first timestamp.
	Revoke(ctx context.Context, id string, at time.Time) error
	// Touch moves last_active_at forward to at. It never moves backwards.
	Touch(ctx context.Context, id string, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) error
}
