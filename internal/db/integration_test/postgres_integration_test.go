//go:build integration

// Package integration_test runs the Postgres repositories against a real database started with
// testcontainers. Run with: go test -tags integration ./internal/db/integration_test/...
package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	auditdomain "gogrow/backend/internal/audit/domain"
	auditrepo "gogrow/backend/internal/audit/repository"
	"gogrow/backend/internal/db"
	"gogrow/backend/internal/db/migrate"
	otpdomain "gogrow/backend/internal/otp/domain"
	otprepo "gogrow/backend/internal/otp/repository"
	"gogrow/backend/internal/security"
	sessiondomain "gogrow/backend/internal/session/domain"
	sessionrepo "gogrow/backend/internal/session/repository"
	userdomain "gogrow/backend/internal/user/domain"
	userrepo "gogrow/backend/internal/user/repository"
)

var (
	conn *sql.DB
	dsn  string
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gogrow_test"),
		postgres.WithUsername("gogrow"),
		postgres.WithPassword("gogrow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "start postgres:", err)
		return 1
	}
	defer func() { _ = container.Terminate(ctx) }()

	dsn, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintln(os.Stderr, "connection string:", err)
		return 1
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		return 1
	}
	conn, err = db.Open(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		return 1
	}
	defer conn.Close()
	return m.Run()
}

// Postgres keeps microseconds.
func ts() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func uniquePhone() string {
	return fmt.Sprintf("+1415%07d", uuid.New().ID()%10_000_000)
}

func createUser(t *testing.T, users *userrepo.PostgresRepository) *userdomain.User {
	t.Helper()
	now := ts()
	u := &userdomain.User{ID: uuid.New().String(), Phone: uniquePhone(), CreatedAt: now, ModifiedAt: now}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func TestUserRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	u := createUser(t, users)

	got, err := users.GetByPhone(ctx, u.Phone)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Empty(t, got.Name)
	assert.Empty(t, got.Email)

	missing, err := users.GetByID(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Nil(t, missing)

	dup := &userdomain.User{ID: uuid.New().String(), Phone: u.Phone, CreatedAt: ts(), ModifiedAt: ts()}
	assert.ErrorIs(t, users.Create(ctx, dup), userdomain.ErrPhoneInUse)

	got.Name = "Ada"
	got.Email = "ada@example.com"
	got.ModifiedAt = ts()
	require.NoError(t, users.Update(ctx, got))
	again, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Name)
	assert.Equal(t, "ada@example.com", again.Email)

	other := createUser(t, users)
	other.Phone = u.Phone
	assert.ErrorIs(t, users.Update(ctx, other), userdomain.ErrPhoneInUse)
}

func TestSessionRepository_TouchRevokeAndCascade(t *testing.T) {
	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	u := createUser(t, users)

	start := ts()
	s1 := &sessiondomain.Session{ID: uuid.New().String(), UserID: u.ID, TokenHash: security.Digest(uuid.New().String()), CreatedAt: start, LastActiveAt: start}
	s2 := &sessiondomain.Session{ID: uuid.New().String(), UserID: u.ID, TokenHash: security.Digest(uuid.New().String()), CreatedAt: start, LastActiveAt: start}
	require.NoError(t, sessions.Create(ctx, s1))
	require.NoError(t, sessions.Create(ctx, s2))

	later := start.Add(time.Hour)
	require.NoError(t, sessions.Touch(ctx, s1.ID, later))
	require.NoError(t, sessions.Touch(ctx, s1.ID, start))
	got, gotUser, err := sessions.GetByTokenHashWithUser(ctx, s1.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, gotUser)
	assert.True(t, got.LastActiveAt.Equal(later), "lastActiveAt = %v, want %v", got.LastActiveAt, later)
	assert.Equal(t, u.ID, gotUser.ID)

	revokedAt := start.Add(2 * time.Hour)
	require.NoError(t, sessions.Revoke(ctx, s1.ID, revokedAt))
	require.NoError(t, sessions.Revoke(ctx, s1.ID, revokedAt.Add(time.Hour)))
	got, err = sessions.GetByTokenHash(ctx, s1.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(revokedAt))

	deletedAt := start.Add(3 * time.Hour)
	require.NoError(t, users.SoftDelete(ctx, u.ID, deletedAt))
	got, gotUser, err = sessions.GetByTokenHashWithUser(ctx, s2.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(deletedAt))
	assert.True(t, gotUser.IsDeleted())

	none, _, err := sessions.GetByTokenHashWithUser(ctx, security.Digest("no-such-token"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestChallengeRepository_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	challenges := otprepo.NewPostgresRepository(conn)
	phone := uniquePhone()
	now := ts()

	older := &otpdomain.Challenge{ID: uuid.New().String(), PhoneNumber: phone, OTPHash: security.DigestOTP(phone, "111111"), CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(4 * time.Minute)}
	newer := &otpdomain.Challenge{ID: uuid.New().String(), PhoneNumber: phone, OTPHash: security.DigestOTP(phone, "222222"), CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, challenges.Create(ctx, older))
	require.NoError(t, challenges.Create(ctx, newer))

	latest, err := challenges.GetLatestUnconsumed(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)

	recorded, err := challenges.IncrementAttempts(ctx, newer.ID, 5)
	require.NoError(t, err)
	assert.True(t, recorded)
	latest, err = challenges.GetLatestUnconsumed(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Attempts)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := challenges.Consume(ctx, newer.ID, now, 5)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	latest, err = challenges.GetLatestUnconsumed(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, older.ID, latest.ID)

	ok, err := challenges.Consume(ctx, older.ID, now.Add(10*time.Minute), 5)
	require.NoError(t, err)
	assert.False(t, ok, "expired challenge must not be consumed")
}

func TestAuditRepository_ListByUser(t *testing.T) {
	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	audits := auditrepo.NewPostgresRepository(conn)
	u := createUser(t, users)

	base := ts()
	for i, action := range []string{"login", "logout"} {
		require.NoError(t, audits.Create(ctx, &auditdomain.AuditLog{
			ID:        uuid.New().String(),
			UserID:    u.ID,
			Action:    action,
			Resource:  "session",
			IP:        "10.0.0.1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	entries, err := audits.ListByUser(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "logout", entries[0].Action)
}

func TestChallengeRepository_IncrementAttemptsStopsAtLimit(t *testing.T) {
	ctx := context.Background()
	challenges := otprepo.NewPostgresRepository(conn)
	phone := uniquePhone()
	now := ts()
	c := &otpdomain.Challenge{ID: uuid.New().String(), PhoneNumber: phone, OTPHash: security.DigestOTP(phone, "333333"), CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, challenges.Create(ctx, c))

	var recorded atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := challenges.IncrementAttempts(ctx, c.ID, 5)
			if err == nil && ok {
				recorded.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), recorded.Load())

	latest, err := challenges.GetLatestUnconsumed(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 5, latest.Attempts)

	ok, err := challenges.Consume(ctx, c.ID, now, 5)
	require.NoError(t, err)
	assert.False(t, ok, "exhausted challenge must not be consumed")
}

func TestMigrate_UpAtLatestVersionSucceeds(t *testing.T) {
	require.NoError(t, migrate.Run(dsn, "up"))
}
