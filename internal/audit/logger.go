// Package audit records security-relevant events. Writes are best-effort and never fail the caller.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gogrow/backend/internal/audit/domain"
	auditrepo "gogrow/backend/internal/audit/repository"
)

// Actions recorded by the auth flows.
const (
	ActionOTPRequested    = "otp_requested"
	ActionOTPVerifyFailed = "otp_verify_failed"
	ActionLogin           = "login"
	ActionLogout          = "logout"
	ActionSessionRevoked  = "session_revoked"
	ActionAccountDeleted  = "account_deleted"
	ActionProfileUpdated  = "profile_updated"
)

// Resources the actions apply to.
const (
	ResourceOTP     = "otp"
	ResourceSession = "session"
	ResourceUser    = "user"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Mirror receives every entry after it has been persisted (or failed to persist).
type Mirror interface {
	Mirror(ctx context.Context, entry *domain.AuditLog)
}

// AuditLogger writes a single audit event with explicit action/resource.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository, an optional IP extractor and an optional mirror.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	mirror      Mirror
	log         *zap.Logger
	now         func() time.Time
}

// NewLogger returns a Logger persisting to repo. ipExtractor, mirror and log may be nil;
// a nil ipExtractor records IP as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, mirror Mirror, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, mirror: mirror, log: log, now: time.Now}
}

// LogEvent writes one audit log entry. Errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("resource", resource),
			zap.Error(err),
		)
	}
	if l.mirror != nil {
		l.mirror.Mirror(ctx, entry)
	}
}
