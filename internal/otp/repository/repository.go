package repository

import (
	"context"
	"time"

	"gogrow/backend/internal/otp/domain"
)

// Repository defines persistence for OTP challenges.
type Repository interface {
	// Create persists a new challenge. The challenge must have ID set.
	Create(ctx context.Context, c *domain.Challenge) error
	// GetLatestUnconsumed returns the most recently created unconsumed challenge for phone, or nil if none.
	GetLatestUnconsumed(ctx context.Context, phone string) (*domain.Challenge, error)
	// IncrementAttempts adds one failed attempt to an unconsumed challenge with fewer than
	// maxAttempts attempts. It reports whether the attempt was recorded.
	IncrementAttempts(ctx context.Context, id string, maxAttempts int) (bool, error)
	// Consume marks the challenge consumed at now if it is still unconsumed, unexpired and has
	// fewer than maxAttempts attempts. It reports whether this call performed the transition.
	Consume(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error)
}
