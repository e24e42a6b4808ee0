package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"gogrow/backend/internal/db"
	sessionrepo "gogrow/backend/internal/session/repository"
	"gogrow/backend/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

const userColumns = `id, COALESCE(name, ''), COALESCE(email, ''), phone, created_at, modified_at, deleted_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u         domain.User
		deletedAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.CreatedAt, &u.ModifiedAt, &deletedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

// GetByID returns the user for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, oops.Code("USER_LOOKUP_FAILED").With("user_id", id).Wrap(err)
	}
	return u, nil
}

// GetByPhone returns the user owning phone, or nil if not found.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, oops.Code("USER_LOOKUP_FAILED").Wrap(err)
	}
	return u, nil
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return oops.Code("USER_INVALID").Wrap(err)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, phone, created_at, modified_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, nullString(u.Name), nullString(u.Email), u.Phone, u.CreatedAt, u.ModifiedAt)
	if isUniqueViolation(err) {
		return domain.ErrPhoneInUse
	}
	return oops.Code("USER_CREATE_FAILED").With("user_id", u.ID).Wrap(err)
}

// Update writes the mutable profile fields of u.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, phone = $4, modified_at = $5 WHERE id = $1`,
		u.ID, nullString(u.Name), nullString(u.Email), u.Phone, u.ModifiedAt)
	if isUniqueViolation(err) {
		return domain.ErrPhoneInUse
	}
	return oops.Code("USER_UPDATE_FAILED").With("user_id", u.ID).Wrap(err)
}

// SoftDelete marks the user deleted and revokes all of their active sessions in one transaction.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET deleted_at = $2, modified_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at); err != nil {
			return err
		}
		return sessionrepo.NewPostgresRepository(tx).RevokeAllByUser(ctx, id, at)
	})
	return oops.Code("USER_DELETE_FAILED").With("user_id", id).Wrap(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
