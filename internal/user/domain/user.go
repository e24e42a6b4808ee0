package domain

import (
	"errors"
	"time"
)

// ErrPhoneInUse is returned when another user already owns the phone number.
var ErrPhoneInUse = errors.New("phone number already in use")

// User is the core user entity. A user is identified by a normalized phone number.
type User struct {
	ID         string
	Name       string // optional; empty when unset
	Email      string // optional; stored lowercased, empty when unset
	Phone      string
	CreatedAt  time.Time
	ModifiedAt time.Time
	DeletedAt  *time.Time // nil while active
}

// IsDeleted reports whether the user has been soft deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Phone == "" {
		return errors.New("phone is required")
	}
	return nil
}
