// seed inserts development users and prints a bearer token for each, so protected routes can be
// exercised without SMS delivery. Idempotent: existing users are reused.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"gogrow/backend/internal/config"
	"gogrow/backend/internal/db"
	"gogrow/backend/internal/security"
	sessiondomain "gogrow/backend/internal/session/domain"
	sessionrepo "gogrow/backend/internal/session/repository"
	userdomain "gogrow/backend/internal/user/domain"
	userrepo "gogrow/backend/internal/user/repository"
)

type devUser struct {
	Phone string
	Name  string
	Email string
}

var devUsers = []devUser{
	{Phone: "+14155550100", Name: "Dev User", Email: "dev@example.com"},
	{Phone: "+14155550101", Name: "Member User", Email: "member@example.com"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("seed refuses to run with APP_ENV=production")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	sessions := sessionrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	for _, du := range devUsers {
		u, err := ensureUser(ctx, users, du)
		if err != nil {
			log.Fatalf("seed user %s: %v", du.Email, err)
		}
		token, err := openSession(ctx, sessions, u.ID)
		if err != nil {
			log.Fatalf("seed session %s: %v", du.Email, err)
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\tBearer %s\n", u.Phone, u.ID, token)
	}
}

func ensureUser(ctx context.Context, users *userrepo.PostgresRepository, du devUser) (*userdomain.User, error) {
	existing, err := users.GetByPhone(ctx, du.Phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.IsDeleted() {
			return nil, fmt.Errorf("user %s is soft deleted", existing.ID)
		}
		return existing, nil
	}
	now := time.Now().UTC()
	u := &userdomain.User{
		ID:         uuid.New().String(),
		Name:       du.Name,
		Email:      du.Email,
		Phone:      du.Phone,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func openSession(ctx context.Context, sessions *sessionrepo.PostgresRepository, userID string) (string, error) {
	token, err := security.GenerateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if err := sessions.Create(ctx, &sessiondomain.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		TokenHash:    security.Digest(token),
		CreatedAt:    now,
		LastActiveAt: now,
	}); err != nil {
		return "", err
	}
	return token, nil
}
