package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"

	"gogrow/backend/internal/db"
	"gogrow/backend/internal/session/domain"
	userdomain "gogrow/backend/internal/user/domain"
)

var _ Repository = (*PostgresRepository)(nil)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a session repository that uses the given db.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, token_hash, created_at, last_active_at) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.UserID, s.TokenHash, s.CreatedAt, s.LastActiveAt)
	return oops.Code("SESSION_CREATE_FAILED").With("session_id", s.ID).Wrap(err)
}

// GetByTokenHash returns the session for tokenHash, or nil if not found.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var (
		s         domain.Session
		revokedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, created_at, last_active_at, revoked_at FROM auth_sessions WHERE token_hash = $1`,
		tokenHash).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.LastActiveAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}
	s.RevokedAt = nullTimePtr(revokedAt)
	return &s, nil
}

const selectSessionWithUser = `
SELECT s.id, s.user_id, s.token_hash, s.created_at, s.last_active_at, s.revoked_at,
       u.id, COALESCE(u.name, ''), COALESCE(u.email, ''), u.phone, u.created_at, u.modified_at, u.deleted_at
FROM auth_sessions s
JOIN users u ON u.id = s.user_id
WHERE s.token_hash = $1`

// GetByTokenHashWithUser returns the session and its user, or nil, nil if not found.
func (r *PostgresRepository) GetByTokenHashWithUser(ctx context.Context, tokenHash string) (*domain.Session, *userdomain.User, error) {
	var (
		s                    domain.Session
		u                    userdomain.User
		revokedAt, deletedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectSessionWithUser, tokenHash).Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.LastActiveAt, &revokedAt,
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.CreatedAt, &u.ModifiedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, oops.Code("SESSION_LOOKUP_FAILED").Wrap(err)
	}
	s.RevokedAt = nullTimePtr(revokedAt)
	u.DeletedAt = nullTimePtr(deletedAt)
	return &s, &u, nil
}

// Revoke marks the session revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return oops.Code("SESSION_REVOKE_FAILED").With("session_id", id).Wrap(err)
}

// Touch records activity on an active session.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_sessions SET last_active_at = GREATEST(last_active_at, $2) WHERE id = $1 AND revoked_at IS NULL`, id, at)
	return oops.Code("SESSION_TOUCH_FAILED").With("session_id", id).Wrap(err)
}

// RevokeAllByUser revokes every active session of userID.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at)
	return oops.Code("SESSION_REVOKE_FAILED").With("user_id", userID).Wrap(err)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
