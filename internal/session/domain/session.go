package domain

import "time"

// Session is a bearer-token login session. Only the digest of the token is stored.
type Session struct {
	ID           string
	UserID       string
	TokenHash    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	RevokedAt    *time.Time // nil when not revoked
}

// IsActive reports whether the session has not been revoked.
func (s *Session) IsActive() bool {
	return s.RevokedAt == nil
}

// IsIdle reports whether the session has been inactive longer than window at now.
func (s *Session) IsIdle(now time.Time, window time.Duration) bool {
	return s.LastActiveAt.Before(now.Add(-window))
}
