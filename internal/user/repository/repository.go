package repository

import (
	"context"
	"time"

	"gogrow/backend/internal/user/domain"
)

// Repository defines persistence for users.
// Lookups return nil, nil when no row matches; deleted users are still returned.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	// Create inserts u. Returns domain.ErrPhoneInUse if the phone is already taken.
	Create(ctx context.Context, u *domain.User) error
	// Update writes name, email, phone and modified_at. Returns domain.ErrPhoneInUse on a phone conflict.
	Update(ctx context.Context, u *domain.User) error
	// SoftDelete sets deleted_at and revokes every active session of the user atomically.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
