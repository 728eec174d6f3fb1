// Package service implements the session state machine over the session store and the
// tiered cache: creation, verification, reuse detection, revocation and cleanup.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"session-lifecycle/backend/internal/cache"
	"session-lifecycle/backend/internal/metrics"
	"session-lifecycle/backend/internal/security"
	"session-lifecycle/backend/internal/session/domain"
	"session-lifecycle/backend/internal/session/repository"
)

const (
	// DefaultCacheCeiling caps how long a session stays cached.
	DefaultCacheCeiling = 24 * time.Hour
	// DefaultStoreTimeout bounds each session store call.
	DefaultStoreTimeout = 5 * time.Second

	cacheKeyPrefix = "session:"
)

var (
	// ErrStoreUnavailable wraps every session store failure. It is an infrastructure
	// error, never an authentication outcome.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrSessionNotFound is returned when a session does not exist or is not visible to the caller.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRotationConflict is returned by Rotate when the presented session was consumed concurrently.
	ErrRotationConflict = repository.ErrRotationConflict
)

// Cache is the subset of the tiered cache the service uses.
type Cache interface {
	Get(ctx context.Context, key string, dst any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string)
}

// NewSession describes a session to persist for a freshly issued refresh token.
type NewSession struct {
	UserID    string
	FamilyID  string
	RawToken  string
	ExpiresAt time.Time
	UserAgent string
	IPAddress string
}

// Service is the session lifecycle. It is safe for concurrent use; the store is the only
// source of truth and the cache is consulted first for lookups by token.
type Service struct {
	repo         repository.Repository
	cache        Cache
	cacheCeiling time.Duration
	storeTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithCacheCeiling caps cache ttl for session entries.
func WithCacheCeiling(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cacheCeiling = d
		}
	}
}

// WithStoreTimeout bounds each store call. A timeout is a hard failure.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a session service. A nil cache runs with a local-only tier.
func NewService(repo repository.Repository, c Cache, opts ...Option) *Service {
	if c == nil {
		c = cache.NewTiered(nil)
	}
	s := &Service{
		repo:         repo,
		cache:        c,
		cacheCeiling: DefaultCacheCeiling,
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TokenHash returns the lookup key stored for a raw refresh token.
func (s *Service) TokenHash(rawToken string) string {
	return security.HashToken(rawToken)
}

// CreateSession persists a new active session for rawToken and warms the cache.
func (s *Service) CreateSession(ctx context.Context, in NewSession) (*domain.Session, error) {
	sess := s.build(in)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.Create(sctx, sess); err != nil {
		return nil, storeErr(err)
	}
	s.cacheSession(ctx, sess)
	return sess, nil
}

// VerifyToken returns the session for rawToken if it is active, stamping last-used.
// A session found past expiry is revoked with reason "expired". Missing, revoked and
// expired sessions all yield (nil, nil).
func (s *Service) VerifyToken(ctx context.Context, rawToken string) (*domain.Session, error) {
	sess, err := s.lookup(ctx, security.HashToken(rawToken))
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.IsRevoked {
		return nil, nil
	}
	now := s.clock()
	if !sess.ExpiresAt.After(now) {
		if err := s.RevokeSession(ctx, sess.ID, domain.ReasonExpired); err != nil {
			return nil, err
		}
		return nil, nil
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.TouchLastUsed(sctx, sess.ID, now); err != nil {
		return nil, storeErr(err)
	}
	sess.LastUsedAt = &now
	s.cacheSession(ctx, sess)
	return sess, nil
}

// DetectReuse reports whether rawToken belongs to a session that was already used.
// An unknown token is not reuse on its own.
func (s *Service) DetectReuse(ctx context.Context, rawToken string) (bool, error) {
	sess, err := s.lookup(ctx, security.HashToken(rawToken))
	if err != nil || sess == nil {
		return false, err
	}
	return sess.LastUsedAt != nil, nil
}

// Rotate consumes old and persists its successor in one transaction. When old is no
// longer active at update time it returns ErrRotationConflict and persists nothing.
func (s *Service) Rotate(ctx context.Context, old *domain.Session, next NewSession) (*domain.Session, error) {
	sess := s.build(next)
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	err := s.repo.Rotate(sctx, old.ID, sess.CreatedAt, sess)
	s.cache.Delete(ctx, cacheKey(old.TokenHash))
	if errors.Is(err, repository.ErrRotationConflict) {
		return nil, err
	}
	if err != nil {
		return nil, storeErr(err)
	}
	s.metrics.Revoked(domain.ReasonRotated, 1)
	s.cacheSession(ctx, sess)
	return sess, nil
}

// RevokeSession revokes one session by id and evicts it. Revoking an unknown or
// already revoked session is a no-op.
func (s *Service) RevokeSession(ctx context.Context, sessionID, reason string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sess, err := s.repo.GetByID(sctx, sessionID)
	if err != nil {
		return storeErr(err)
	}
	if sess == nil {
		return nil
	}
	return s.revoke(ctx, sess, reason)
}

// RevokeByToken revokes the session owning rawToken, if any, and reports whether a
// live session was revoked.
func (s *Service) RevokeByToken(ctx context.Context, rawToken, reason string) (bool, error) {
	if rawToken == "" {
		return false, nil
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sess, err := s.repo.GetByTokenHash(sctx, security.HashToken(rawToken))
	if err != nil {
		return false, storeErr(err)
	}
	if sess == nil || sess.IsRevoked {
		return false, nil
	}
	if err := s.revoke(ctx, sess, reason); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeUserSession revokes sessionID on behalf of userID. It returns ErrSessionNotFound
// unless the session is an active session owned by userID.
func (s *Service) RevokeUserSession(ctx context.Context, userID, sessionID, reason string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sess, err := s.repo.GetByID(sctx, sessionID)
	if err != nil {
		return storeErr(err)
	}
	if sess == nil || sess.UserID != userID || !sess.IsActive(s.clock()) {
		return ErrSessionNotFound
	}
	return s.revoke(ctx, sess, reason)
}

func (s *Service) revoke(ctx context.Context, sess *domain.Session, reason string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	applied, err := s.repo.Revoke(sctx, sess.ID, reason, s.clock())
	if err != nil {
		return storeErr(err)
	}
	s.cache.Delete(ctx, cacheKey(sess.TokenHash))
	if applied {
		s.metrics.Revoked(reason, 1)
	}
	return nil
}

// RevokeFamilyTokens revokes every live session of familyID and evicts every cached
// member of the family. It returns how many sessions it revoked.
func (s *Service) RevokeFamilyTokens(ctx context.Context, familyID, reason string) (int, error) {
	return s.revokeScope(ctx, reason, func(ctx context.Context) ([]string, error) {
		return s.repo.ListTokenHashesByFamily(ctx, familyID)
	}, func(ctx context.Context, at time.Time) ([]string, error) {
		return s.repo.RevokeFamily(ctx, familyID, reason, at)
	})
}

// RevokeUserSessions revokes every live session of userID. It returns how many it revoked.
func (s *Service) RevokeUserSessions(ctx context.Context, userID, reason string) (int, error) {
	return s.revokeScope(ctx, reason, func(ctx context.Context) ([]string, error) {
		return s.repo.ListTokenHashesByUser(ctx, userID)
	}, func(ctx context.Context, at time.Time) ([]string, error) {
		return s.repo.RevokeUser(ctx, userID, reason, at)
	})
}

func (s *Service) revokeScope(
	ctx context.Context,
	reason string,
	list func(context.Context) ([]string, error),
	revoke func(context.Context, time.Time) ([]string, error),
) (int, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	known, err := list(sctx)
	if err != nil {
		return 0, storeErr(err)
	}
	revoked, err := revoke(sctx, s.clock())
	if err != nil {
		return 0, storeErr(err)
	}
	evicted := make(map[string]struct{}, len(known)+len(revoked))
	for _, h := range append(known, revoked...) {
		if _, ok := evicted[h]; ok {
			continue
		}
		evicted[h] = struct{}{}
		s.cache.Delete(ctx, cacheKey(h))
	}
	s.metrics.Revoked(reason, len(revoked))
	return len(revoked), nil
}

// GetUserSessions returns the user's active sessions, newest first.
func (s *Service) GetUserSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	list, err := s.repo.ListActiveByUser(sctx, userID, s.clock())
	if err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}

// CleanupExpiredSessions hard-deletes sessions past expiry and evicts them. It is
// idempotent and safe to run alongside normal traffic.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	hashes, err := s.repo.DeleteExpired(sctx, s.clock())
	if err != nil {
		return 0, storeErr(err)
	}
	for _, h := range hashes {
		s.cache.Delete(ctx, cacheKey(h))
	}
	s.metrics.CleanupDeleted(len(hashes))
	return len(hashes), nil
}

// lookup reads a session by token hash, cache first.
func (s *Service) lookup(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var cached domain.Session
	if s.cache.Get(ctx, cacheKey(tokenHash), &cached) {
		return &cached, nil
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sess, err := s.repo.GetByTokenHash(sctx, tokenHash)
	if err != nil {
		return nil, storeErr(err)
	}
	if sess != nil {
		s.cacheSession(ctx, sess)
	}
	return sess, nil
}

func (s *Service) build(in NewSession) *domain.Session {
	return &domain.Session{
		ID:        security.NewSessionID(),
		UserID:    in.UserID,
		FamilyID:  in.FamilyID,
		TokenHash: security.HashToken(in.RawToken),
		UserAgent: in.UserAgent,
		IPAddress: in.IPAddress,
		CreatedAt: s.clock(),
		ExpiresAt: in.ExpiresAt.UTC(),
	}
}

func (s *Service) cacheSession(ctx context.Context, sess *domain.Session) {
	if err := s.cache.Set(ctx, cacheKey(sess.TokenHash), sess, s.cacheTTL(sess)); err != nil {
		s.logger.Warn("session: cache encode failed", "session_id", sess.ID, "err", err)
	}
}

// cacheTTL is the time left until expiry, rounded up to whole seconds, capped by the
// ceiling and never below one second.
func (s *Service) cacheTTL(sess *domain.Session) time.Duration {
	secs := math.Ceil(sess.ExpiresAt.Sub(s.clock()).Seconds())
	ttl := time.Duration(secs) * time.Second
	if ttl > s.cacheCeiling {
		ttl = s.cacheCeiling
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// clock returns now in UTC at the store's microsecond precision.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func cacheKey(tokenHash string) string {
	return cacheKeyPrefix + tokenHash
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
