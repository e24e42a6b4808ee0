package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gogrow/backend/internal/audit"
	"gogrow/backend/internal/principal"
	"gogrow/backend/internal/security"
	sessiondomain "gogrow/backend/internal/session/domain"
	"gogrow/backend/internal/telemetry"
	userdomain "gogrow/backend/internal/user/domain"
)

// Rejection reasons. Use errors.Is on the error returned by Authenticate.
var (
	ErrMissingToken    = errors.New("missing bearer token")
	ErrInvalidToken    = errors.New("invalid bearer token")
	ErrSessionNotFound = errors.New("session not found")
	ErrUserDeleted     = errors.New("user account is deleted")
	ErrSessionExpired  = errors.New("session expired")
)

// Rejection is returned when the request carries no usable session.
// Message is safe to send to the client.
type Rejection struct {
	Reason  error
	Message string
}

func (r *Rejection) Error() string { return r.Message }
func (r *Rejection) Unwrap() error { return r.Reason }

func reject(reason error, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

// SessionStore is the minimal session repository needed by the gate.
type SessionStore interface {
	GetByTokenHashWithUser(ctx context.Context, tokenHash string) (*sessiondomain.Session, *userdomain.User, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
}

// Gate authenticates bearer tokens against stored sessions.
type Gate struct {
	sessions       SessionStore
	inactivityDays int
	audit          audit.AuditLogger
	log            *zap.Logger
	tracer         trace.Tracer
	now            func() time.Time
}

// NewGate returns a Gate that expires sessions idle for more than inactivityDays.
// auditLogger and logger may be nil.
func NewGate(sessions SessionStore, inactivityDays int, auditLogger audit.AuditLogger, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		sessions:       sessions,
		inactivityDays: inactivityDays,
		audit:          auditLogger,
		log:            logger,
		tracer:         otel.Tracer("gogrow/backend/session"),
		now:            time.Now,
	}
}

// ParseBearer extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively and separated from the credential by whitespace.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", reject(ErrMissingToken, "Missing bearer token.")
	}
	i := strings.IndexFunc(header, unicode.IsSpace)
	if i < 0 || !strings.EqualFold(header[:i], "Bearer") {
		return "", reject(ErrMissingToken, "Missing bearer token.")
	}
	token := strings.TrimSpace(header[i:])
	if token == "" {
		return "", reject(ErrInvalidToken, "Invalid bearer token.")
	}
	return token, nil
}

// Authenticate resolves the Authorization header into a principal.
// It returns a *Rejection for unusable credentials and a plain error for store failures.
// Sessions of deleted users and idle sessions are revoked before rejection.
func (g *Gate) Authenticate(ctx context.Context, authorization string) (principal.Principal, error) {
	ctx, span := g.tracer.Start(ctx, "session.Authenticate")
	defer span.End()

	p, outcome, err := g.authenticate(ctx, authorization)
	telemetry.SessionAuthentications.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if err != nil {
		var rej *Rejection
		if !errors.As(err, &rej) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session store failure")
			g.log.Error("session authentication failed", zap.Error(err))
		}
		return principal.Principal{}, err
	}
	return p, nil
}

func (g *Gate) authenticate(ctx context.Context, authorization string) (principal.Principal, string, error) {
	token, err := ParseBearer(authorization)
	if err != nil {
		return principal.Principal{}, "malformed", err
	}

	now := g.now()
	sess, user, err := g.sessions.GetByTokenHashWithUser(ctx, security.Digest(token))
	if err != nil {
		return principal.Principal{}, "error", fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil || user == nil || !sess.IsActive() {
		return principal.Principal{}, "not_found", reject(ErrSessionNotFound, "Session not found.")
	}

	if user.IsDeleted() {
		if err := g.revoke(ctx, sess, now, "user_deleted"); err != nil {
			return principal.Principal{}, "error", err
		}
		return principal.Principal{}, "user_deleted", reject(ErrUserDeleted, "User account is deleted.")
	}

	if sess.IsIdle(now, time.Duration(g.inactivityDays)*24*time.Hour) {
		if err := g.revoke(ctx, sess, now, "inactivity"); err != nil {
			return principal.Principal{}, "error", err
		}
		return principal.Principal{}, "expired", reject(ErrSessionExpired,
			fmt.Sprintf("Session expired after %d days of inactivity.", g.inactivityDays))
	}

	if err := g.sessions.Touch(ctx, sess.ID, now); err != nil {
		return principal.Principal{}, "error", fmt.Errorf("touch session: %w", err)
	}
	return principal.Principal{UserID: sess.UserID, SessionID: sess.ID}, "ok", nil
}

func (g *Gate) revoke(ctx context.Context, sess *sessiondomain.Session, now time.Time, reason string) error {
	if err := g.sessions.Revoke(ctx, sess.ID, now); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	telemetry.SessionsRevoked.WithLabelValues(reason).Inc()
	if g.audit != nil {
		g.audit.LogEvent(ctx, sess.UserID, audit.ActionSessionRevoked, audit.ResourceSession,
			fmt.Sprintf(`{"session_id":%q,"reason":%q}`, sess.ID, reason))
	}
	return nil
}
