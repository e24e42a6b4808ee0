package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"

	"gogrow/backend/internal/db"
	"gogrow/backend/internal/otp/domain"
)

var _ Repository = (*PostgresRepository)(nil)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

const insertChallenge = `
INSERT INTO otp_challenges (id, phone_number, otp_hash, created_at, expires_at, attempts)
VALUES ($1, $2, $3, $4, $5, $6)`

// Create persists the challenge.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, insertChallenge,
		c.ID, c.PhoneNumber, c.OTPHash, c.CreatedAt, c.ExpiresAt, c.Attempts)
	return oops.Code("OTP_CREATE_FAILED").With("challenge_id", c.ID).Wrap(err)
}

const selectLatestUnconsumed = `
SELECT id, phone_number, otp_hash, created_at, expires_at, consumed_at, attempts
FROM otp_challenges
WHERE phone_number = $1 AND consumed_at IS NULL
ORDER BY created_at DESC
LIMIT 1`

// GetLatestUnconsumed returns the newest unconsumed challenge for phone, or nil if not found.
func (r *PostgresRepository) GetLatestUnconsumed(ctx context.Context, phone string) (*domain.Challenge, error) {
	var (
		c          domain.Challenge
		consumedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectLatestUnconsumed, phone).Scan(
		&c.ID, &c.PhoneNumber, &c.OTPHash, &c.CreatedAt, &c.ExpiresAt, &consumedAt, &c.Attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, oops.Code("OTP_LOOKUP_FAILED").Wrap(err)
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		c.ConsumedAt = &t
	}
	return &c, nil
}

const incrementAttempts = `
UPDATE otp_challenges SET attempts = attempts + 1
WHERE id = $1 AND consumed_at IS NULL AND attempts < $2`

// IncrementAttempts records one failed attempt while attempts is below maxAttempts. It reports
// whether a slot was claimed; false means the challenge is exhausted or already consumed.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id string, maxAttempts int) (bool, error) {
	res, err := r.db.ExecContext(ctx, incrementAttempts, id, maxAttempts)
	if err != nil {
		return false, oops.Code("OTP_ATTEMPT_UPDATE_FAILED").With("challenge_id", id).Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.Code("OTP_ATTEMPT_UPDATE_FAILED").With("challenge_id", id).Wrap(err)
	}
	return n == 1, nil
}

const consumeChallenge = `
UPDATE otp_challenges SET consumed_at = $2
WHERE id = $1 AND consumed_at IS NULL AND attempts < $3 AND expires_at >= $2`

// Consume performs the consume-if-unconsumed transition in a single statement.
func (r *PostgresRepository) Consume(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error) {
	res, err := r.db.ExecContext(ctx, consumeChallenge, id, now, maxAttempts)
	if err != nil {
		return false, oops.Code("OTP_CONSUME_FAILED").With("challenge_id", id).Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.Code("OTP_CONSUME_FAILED").With("challenge_id", id).Wrap(err)
	}
	return n == 1, nil
}
