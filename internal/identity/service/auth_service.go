package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"gogrow/backend/internal/audit"
	"gogrow/backend/internal/logging"
	"gogrow/backend/internal/otp"
	otpdomain "gogrow/backend/internal/otp/domain"
	"gogrow/backend/internal/principal"
	"gogrow/backend/internal/security"
	sessiondomain "gogrow/backend/internal/session/domain"
	"gogrow/backend/internal/telemetry"
	userdomain "gogrow/backend/internal/user/domain"
)

// Sentinel errors for auth service; handler maps them to HTTP status codes and client messages.
var (
	ErrInvalidPhone        = errors.New("invalid phone number")
	ErrInvalidOTPFormat    = errors.New("otp must be 6 digits")
	ErrInvalidEmail        = errors.New("invalid email format")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrOTPNotFound         = errors.New("otp not found")
	ErrOTPExpired          = errors.New("otp expired")
	ErrOTPAttemptsExceeded = errors.New("maximum otp attempts reached")
	ErrInvalidOTP          = errors.New("invalid otp")
	ErrAccountDeleted      = errors.New("user account is deleted")
	ErrUserNotFound        = errors.New("user not found")
	ErrPhoneInUse          = userdomain.ErrPhoneInUse
	ErrOTPDeliveryFailed   = errors.New("otp delivery failed")
)

const (
	// TokenType is the scheme clients must use in the Authorization header.
	TokenType = "Bearer"

	MessageOTPGenerated = "OTP generated successfully."
)

var (
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{7,14}$`)
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)
)

// Config holds the tunables of the OTP and session lifecycle.
type Config struct {
	OTPExpiry             time.Duration
	OTPMaxAttempts        int
	SessionInactivityDays int
	// OTPReturnToClient echoes the plaintext OTP in RequestOTP results. Development only.
	OTPReturnToClient bool
}

// OTPIssued is the outcome of RequestOTP. OTP is empty unless Config.OTPReturnToClient is set.
type OTPIssued struct {
	Message   string
	ExpiresAt time.Time
	OTP       string
}

// LoginResult is the outcome of a successful VerifyOTP. AccessToken is only ever returned here.
type LoginResult struct {
	AccessToken           string
	TokenType             string
	SessionInactivityDays int
	User                  *userdomain.User
}

// UpdateUserInput carries optional profile changes. Nil fields are left untouched.
type UpdateUserInput struct {
	Name  *string
	Email *string
	Phone *string
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByPhone(ctx context.Context, phone string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	Update(ctx context.Context, u *userdomain.User) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.Session, error)
	Revoke(ctx context.Context, id string, at time.Time) error
}

// ChallengeRepo is the minimal OTP challenge repository needed by the auth service.
type ChallengeRepo interface {
	Create(ctx context.Context, c *otpdomain.Challenge) error
	GetLatestUnconsumed(ctx context.Context, phone string) (*otpdomain.Challenge, error)
	IncrementAttempts(ctx context.Context, id string, maxAttempts int) (bool, error)
	Consume(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error)
}

var _ principal.UserLookup = (*AuthService)(nil)

// OTPSender delivers a freshly issued OTP to the phone number.
type OTPSender interface {
	SendOTP(ctx context.Context, phone, otp string) error
}

// AuthService implements phone OTP login, logout and the caller's own profile operations.
type AuthService struct {
	users      UserRepo
	sessions   SessionRepo
	challenges ChallengeRepo
	sender     OTPSender
	audit      audit.AuditLogger
	log        *zap.Logger
	tracer     trace.Tracer
	cfg        Config
	now        func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. sender, auditLogger and logger
// may be nil; without a sender issued OTPs are not delivered.
func NewAuthService(
	users UserRepo,
	sessions SessionRepo,
	challenges ChallengeRepo,
	sender OTPSender,
	auditLogger audit.AuditLogger,
	logger *zap.Logger,
	cfg Config,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      users,
		sessions:   sessions,
		challenges: challenges,
		sender:     sender,
		audit:      auditLogger,
		log:        logger,
		tracer:     otel.Tracer("gogrow/backend/identity"),
		cfg:        cfg,
		now:        time.Now,
	}
}

// NormalizePhone trims the input, removes spaces and validates the international format.
func NormalizePhone(raw string) (string, error) {
	phone := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// RequestOTP issues a fresh challenge for the phone number. Earlier unconsumed challenges are
// superseded, not deleted. The OTP is sent by SMS unless it is echoed back to the client.
func (s *AuthService) RequestOTP(ctx context.Context, rawPhone string) (*OTPIssued, error) {
	ctx, span := s.tracer.Start(ctx, "identity.RequestOTP")
	defer span.End()

	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	code, err := otp.GenerateOTP()
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("generate otp: %w", err))
	}
	now := s.now().UTC()
	challenge := &otpdomain.Challenge{
		ID:          uuid.New().String(),
		PhoneNumber: phone,
		OTPHash:     security.DigestOTP(phone, code),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.OTPExpiry),
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, s.fail(span, err)
	}
	if s.sender != nil && !s.cfg.OTPReturnToClient {
		if err := s.sender.SendOTP(ctx, phone, code); err != nil {
			return nil, s.fail(span, fmt.Errorf("%w: %w", ErrOTPDeliveryFailed, err))
		}
	}
	telemetry.OTPRequests.Inc()
	s.log.Info("otp issued", zap.String("phone", logging.MaskPhone(phone)), zap.String("challenge_id", challenge.ID))
	s.logEvent(ctx, "", audit.ActionOTPRequested, audit.ResourceOTP, fmt.Sprintf(`{"challenge_id":%q}`, challenge.ID))

	issued := &OTPIssued{Message: MessageOTPGenerated, ExpiresAt: challenge.ExpiresAt}
	if s.cfg.OTPReturnToClient {
		issued.OTP = code
	}
	return issued, nil
}

// VerifyOTP checks the code against the latest unconsumed challenge. On success the challenge is
// consumed, the user is created on first login and a new session token is returned.
func (s *AuthService) VerifyOTP(ctx context.Context, rawPhone, code string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.VerifyOTP")
	defer span.End()

	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if !otp.ValidFormat(code) {
		return nil, ErrInvalidOTPFormat
	}

	now := s.now().UTC()
	challenge, err := s.challenges.GetLatestUnconsumed(ctx, phone)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if challenge == nil {
		return nil, s.verifyFailed(ctx, "not_found", ErrOTPNotFound)
	}
	if err := s.rejectUnusable(ctx, challenge, now); err != nil {
		return nil, err
	}
	if !security.DigestEqual(phone+":"+code, challenge.OTPHash) {
		// The read above may be stale; only a claimed attempt slot earns an "invalid" answer.
		recorded, err := s.challenges.IncrementAttempts(ctx, challenge.ID, s.cfg.OTPMaxAttempts)
		if err != nil {
			return nil, s.fail(span, err)
		}
		if !recorded {
			return nil, s.verifyFailed(ctx, "exhausted", ErrOTPAttemptsExceeded)
		}
		return nil, s.verifyFailed(ctx, "invalid", ErrInvalidOTP)
	}

	consumed, err := s.challenges.Consume(ctx, challenge.ID, now, s.cfg.OTPMaxAttempts)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !consumed {
		return nil, s.lostConsume(ctx, span, phone, challenge.ID, now)
	}

	user, err := s.findOrCreateUser(ctx, phone, now)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if user.IsDeleted() {
		return nil, s.verifyFailed(ctx, "account_deleted", ErrAccountDeleted)
	}

	token, err := security.GenerateToken()
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("generate token: %w", err))
	}
	sess := &sessiondomain.Session{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		TokenHash:    security.Digest(token),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, s.fail(span, err)
	}

	telemetry.OTPVerifications.WithLabelValues("success").Inc()
	s.log.Info("login succeeded", zap.String("user_id", user.ID), zap.String("session_id", sess.ID))
	s.logEvent(ctx, user.ID, audit.ActionLogin, audit.ResourceSession, fmt.Sprintf(`{"session_id":%q}`, sess.ID))

	return &LoginResult{
		AccessToken:           token,
		TokenType:             TokenType,
		SessionInactivityDays: s.cfg.SessionInactivityDays,
		User:                  user,
	}, nil
}

// findOrCreateUser returns the user owning phone, deleted or not, creating one when absent.
func (s *AuthService) findOrCreateUser(ctx context.Context, phone string, now time.Time) (*userdomain.User, error) {
	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	user = &userdomain.User{
		ID:         uuid.New().String(),
		Phone:      phone,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	err = s.users.Create(ctx, user)
	if errors.Is(err, userdomain.ErrPhoneInUse) {
		// Concurrent first login for the same phone won the insert.
		existing, err := s.users.GetByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("user for phone vanished after conflict")
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Logout revokes the session bound to rawToken. Unknown and already revoked tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	ctx, span := s.tracer.Start(ctx, "identity.Logout")
	defer span.End()

	sess, err := s.sessions.GetByTokenHash(ctx, security.Digest(rawToken))
	if err != nil {
		return s.fail(span, err)
	}
	if sess == nil || !sess.IsActive() {
		return nil
	}
	if err := s.sessions.Revoke(ctx, sess.ID, s.now().UTC()); err != nil {
		return s.fail(span, err)
	}
	telemetry.SessionsRevoked.WithLabelValues("logout").Inc()
	s.logEvent(ctx, sess.UserID, audit.ActionLogout, audit.ResourceSession, fmt.Sprintf(`{"session_id":%q}`, sess.ID))
	return nil
}

// GetUser returns the active user with userID. Missing and deleted users yield ErrUserNotFound.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*userdomain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.IsDeleted() {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateUser applies in to the active user. Blank name or email clears the field.
func (s *AuthService) UpdateUser(ctx context.Context, userID string, in UpdateUserInput) (*userdomain.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		user.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if email != "" && !emailPattern.MatchString(email) {
			return nil, ErrInvalidEmail
		}
		user.Email = email
	}
	if in.Phone != nil {
		phone, err := NormalizePhone(*in.Phone)
		if err != nil {
			return nil, err
		}
		existing, err := s.users.GetByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != user.ID {
			return nil, ErrPhoneInUse
		}
		user.Phone = phone
	}

	user.ModifiedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.logEvent(ctx, user.ID, audit.ActionProfileUpdated, audit.ResourceUser, "")
	return user, nil
}

// SoftDeleteUser marks the active user deleted and revokes all of their sessions.
func (s *AuthService) SoftDeleteUser(ctx context.Context, userID string) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := s.users.SoftDelete(ctx, userID, s.now().UTC()); err != nil {
		return err
	}
	telemetry.SessionsRevoked.WithLabelValues("account_deleted").Inc()
	s.log.Info("user soft deleted", zap.String("user_id", userID))
	s.logEvent(ctx, userID, audit.ActionAccountDeleted, audit.ResourceUser, "")
	return nil
}

// rejectUnusable maps an expired or exhausted challenge to its verify error.
func (s *AuthService) rejectUnusable(ctx context.Context, c *otpdomain.Challenge, now time.Time) error {
	switch c.State(now, s.cfg.OTPMaxAttempts) {
	case otpdomain.StateConsumed:
		return s.verifyFailed(ctx, "not_found", ErrOTPNotFound)
	case otpdomain.StateExpired:
		return s.verifyFailed(ctx, "expired", ErrOTPExpired)
	case otpdomain.StateAttemptsExhausted:
		return s.verifyFailed(ctx, "exhausted", ErrOTPAttemptsExceeded)
	}
	return nil
}

// lostConsume classifies a correct code whose conditional consume matched no row: another
// verify consumed the challenge, or concurrent failures exhausted it, or it expired.
func (s *AuthService) lostConsume(ctx context.Context, span trace.Span, phone, challengeID string, now time.Time) error {
	current, err := s.challenges.GetLatestUnconsumed(ctx, phone)
	if err != nil {
		return s.fail(span, err)
	}
	if current != nil && current.ID == challengeID {
		if err := s.rejectUnusable(ctx, current, now); err != nil {
			return err
		}
	}
	return s.verifyFailed(ctx, "lost_race", ErrOTPNotFound)
}

func (s *AuthService) verifyFailed(ctx context.Context, outcome string, err error) error {
	telemetry.OTPVerifications.WithLabelValues(outcome).Inc()
	s.logEvent(ctx, "", audit.ActionOTPVerifyFailed, audit.ResourceOTP, fmt.Sprintf(`{"reason":%q}`, outcome))
	return err
}

func (s *AuthService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *AuthService) logEvent(ctx context.Context, userID, action, resource, metadata string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, resource, metadata)
	}
}
