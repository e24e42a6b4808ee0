// Package memory is a process-local store implementing every repository interface.
// It is used when no DATABASE_URL is configured and by service tests.
// All views share one mutex so conditional updates are as atomic as their SQL counterparts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	auditdomain "gogrow/backend/internal/audit/domain"
	otpdomain "gogrow/backend/internal/otp/domain"
	sessiondomain "gogrow/backend/internal/session/domain"
	userdomain "gogrow/backend/internal/user/domain"
)

// Store holds all tables in memory.
type Store struct {
	mu         sync.Mutex
	users      map[string]*userdomain.User
	challenges map[string]*otpdomain.Challenge
	// challengeSeq orders challenges by insertion; it breaks CreatedAt ties.
	challengeSeq map[string]uint64
	nextSeq      uint64
	sessions     map[string]*sessiondomain.Session
	audit        []*auditdomain.AuditLog
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]*userdomain.User),
		challenges:   make(map[string]*otpdomain.Challenge),
		challengeSeq: make(map[string]uint64),
		sessions:     make(map[string]*sessiondomain.Session),
	}
}

// Users returns the user repository view.
func (s *Store) Users() *Users { return &Users{s: s} }

// Sessions returns the session repository view.
func (s *Store) Sessions() *Sessions { return &Sessions{s: s} }

// Challenges returns the OTP challenge repository view.
func (s *Store) Challenges() *Challenges { return &Challenges{s: s} }

// AuditLogs returns the audit log repository view.
func (s *Store) AuditLogs() *AuditLogs { return &AuditLogs{s: s} }

// PingContext always succeeds; it lets the store stand in for a database in health checks.
func (s *Store) PingContext(context.Context) error { return nil }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Users implements the user repository.
type Users struct{ s *Store }

func cloneUser(u *userdomain.User) *userdomain.User {
	c := *u
	c.DeletedAt = copyTime(u.DeletedAt)
	return &c
}

func (r *Users) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (r *Users) GetByPhone(ctx context.Context, phone string) (*userdomain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u := r.s.userByPhoneLocked(phone); u != nil {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (s *Store) userByPhoneLocked(phone string) *userdomain.User {
	for _, u := range s.users {
		if u.Phone == phone {
			return u
		}
	}
	return nil
}

func (r *Users) Create(ctx context.Context, u *userdomain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.userByPhoneLocked(u.Phone) != nil {
		return userdomain.ErrPhoneInUse
	}
	r.s.users[u.ID] = cloneUser(u)
	return nil
}

func (r *Users) Update(ctx context.Context, u *userdomain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.users[u.ID]
	if !ok {
		return nil
	}
	if other := r.s.userByPhoneLocked(u.Phone); other != nil && other.ID != u.ID {
		return userdomain.ErrPhoneInUse
	}
	existing.Name = u.Name
	existing.Email = u.Email
	existing.Phone = u.Phone
	existing.ModifiedAt = u.ModifiedAt
	return nil
}

func (r *Users) SoftDelete(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil
	}
	if u.DeletedAt == nil {
		u.DeletedAt = copyTime(&at)
		u.ModifiedAt = at
	}
	r.s.revokeAllLocked(id, at)
	return nil
}

// Sessions implements the session repository.
type Sessions struct{ s *Store }

func cloneSession(sess *sessiondomain.Session) *sessiondomain.Session {
	c := *sess
	c.RevokedAt = copyTime(sess.RevokedAt)
	return &c
}

func (r *Sessions) Create(ctx context.Context, sess *sessiondomain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *Store) sessionByHashLocked(tokenHash string) *sessiondomain.Session {
	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			return sess
		}
	}
	return nil
}

func (r *Sessions) GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess := r.s.sessionByHashLocked(tokenHash); sess != nil {
		return cloneSession(sess), nil
	}
	return nil, nil
}

func (r *Sessions) GetByTokenHashWithUser(ctx context.Context, tokenHash string) (*sessiondomain.Session, *userdomain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess := r.s.sessionByHashLocked(tokenHash)
	if sess == nil {
		return nil, nil, nil
	}
	u, ok := r.s.users[sess.UserID]
	if !ok {
		return nil, nil, nil
	}
	return cloneSession(sess), cloneUser(u), nil
}

func (r *Sessions) Revoke(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.sessions[id]; ok && sess.RevokedAt == nil {
		sess.RevokedAt = copyTime(&at)
	}
	return nil
}

func (r *Sessions) Touch(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.sessions[id]; ok && sess.RevokedAt == nil && at.After(sess.LastActiveAt) {
		sess.LastActiveAt = at
	}
	return nil
}

func (r *Sessions) RevokeAllByUser(ctx context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.revokeAllLocked(userID, at)
	return nil
}

func (s *Store) revokeAllLocked(userID string, at time.Time) {
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = copyTime(&at)
		}
	}
}

// Challenges implements the OTP challenge repository.
type Challenges struct{ s *Store }

func cloneChallenge(c *otpdomain.Challenge) *otpdomain.Challenge {
	v := *c
	v.ConsumedAt = copyTime(c.ConsumedAt)
	return &v
}

func (r *Challenges) Create(ctx context.Context, c *otpdomain.Challenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.challengeSeq[c.ID]; !ok {
		r.s.nextSeq++
		r.s.challengeSeq[c.ID] = r.s.nextSeq
	}
	r.s.challenges[c.ID] = cloneChallenge(c)
	return nil
}

func (r *Challenges) GetLatestUnconsumed(ctx context.Context, phone string) (*otpdomain.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *otpdomain.Challenge
	for _, c := range r.s.challenges {
		if c.PhoneNumber != phone || c.ConsumedAt != nil {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) ||
			(c.CreatedAt.Equal(latest.CreatedAt) && r.s.challengeSeq[c.ID] > r.s.challengeSeq[latest.ID]) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneChallenge(latest), nil
}

func (r *Challenges) IncrementAttempts(ctx context.Context, id string, maxAttempts int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.challenges[id]
	if !ok || c.ConsumedAt != nil || c.Attempts >= maxAttempts {
		return false, nil
	}
	c.Attempts++
	return true, nil
}

func (r *Challenges) Consume(ctx context.Context, id string, now time.Time, maxAttempts int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.challenges[id]
	if !ok || c.ConsumedAt != nil || c.Attempts >= maxAttempts || now.After(c.ExpiresAt) {
		return false, nil
	}
	c.ConsumedAt = copyTime(&now)
	return true, nil
}

// AuditLogs implements the audit log repository.
type AuditLogs struct{ s *Store }

func (r *AuditLogs) Create(ctx context.Context, a *auditdomain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *a
	r.s.audit = append(r.s.audit, &c)
	return nil
}

func (r *AuditLogs) ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*auditdomain.AuditLog
	for _, a := range r.s.audit {
		if a.UserID == userID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
