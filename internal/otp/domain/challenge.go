package domain

import "time"

// State is the derived lifecycle state of a challenge.
type State string

const (
	StateCreated           State = "CREATED"
	StateConsumed          State = "CONSUMED"
	StateExpired           State = "EXPIRED"
	StateAttemptsExhausted State = "ATTEMPTS_EXHAUSTED"
)

// Challenge represents an issued OTP (stored in otp_challenges table).
// Only the digest of the code is kept.
type Challenge struct {
	ID          string
	PhoneNumber string
	OTPHash     string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	Attempts    int
}

// IsConsumed reports whether the challenge has been used for a successful login.
func (c *Challenge) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// IsExpired reports whether now is past ExpiresAt. The expiry instant itself is still valid.
func (c *Challenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// State derives the lifecycle state at now. Consumption wins over expiry, and expiry over attempts.
func (c *Challenge) State(now time.Time, maxAttempts int) State {
	switch {
	case c.IsConsumed():
		return StateConsumed
	case c.IsExpired(now):
		return StateExpired
	case c.Attempts >= maxAttempts:
		return StateAttemptsExhausted
	default:
		return StateCreated
	}
}
