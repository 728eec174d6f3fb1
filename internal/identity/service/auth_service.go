package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"session-lifecycle/backend/internal/cache"
	identitydomain "session-lifecycle/backend/internal/identity/domain"
	"session-lifecycle/backend/internal/metrics"
	"session-lifecycle/backend/internal/security"
	sessiondomain "session-lifecycle/backend/internal/session/domain"
	sessionservice "session-lifecycle/backend/internal/session/service"
	"session-lifecycle/backend/internal/telemetry"
	userdomain "session-lifecycle/backend/internal/user/domain"
	userrepo "session-lifecycle/backend/internal/user/repository"
)

// Refresh rejection reasons. They are logged and counted, never shown to clients.
const (
	ReasonInvalidToken     = "invalid_token"
	ReasonReuseDetected    = "reuse_detected"
	ReasonSessionInvalid   = "session_invalid"
	ReasonRotationConflict = "rotation_conflict"

	userCacheTTL = 5 * time.Minute
	tracerName   = "session-lifecycle/identity"
)

// Sentinel errors for the auth service; the HTTP boundary maps them to status codes.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrUserNotFound           = errors.New("user not found")
	ErrUnauthenticated        = errors.New("unauthenticated")
	// ErrRefreshRejected is the single outcome of every refused refresh.
	ErrRefreshRejected = errors.New("refresh rejected")
	// ErrRefreshReuse marks a refusal caused by a replayed or concurrently consumed token.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
)

// ValidationError describes a malformed signup or login request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// RefreshError is a refused refresh with its internal reason code. It matches
// ErrRefreshRejected, and ErrRefreshReuse when the family was revoked.
type RefreshError struct {
	Reason string
}

func (e *RefreshError) Error() string { return "refresh rejected: " + e.Reason }

func (e *RefreshError) Is(target error) bool {
	switch target {
	case ErrRefreshRejected:
		return true
	case ErrRefreshReuse:
		return e.Reason == ReasonReuseDetected || e.Reason == ReasonRotationConflict
	}
	return false
}

// RefreshReason returns the reason code of a refused refresh, or "" for any other error.
func RefreshReason(err error) string {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// ClientMeta is request metadata stored on the session.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// AuthResult holds a freshly issued token pair and the session it belongs to.
type AuthResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	FamilyID         string
	User             *userdomain.User
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// IdentityRepo is the minimal identity repository needed by the auth service.
type IdentityRepo interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider identitydomain.IdentityProvider) (*identitydomain.Identity, error)
	Create(ctx context.Context, i *identitydomain.Identity) error
}

// Sessions is the session lifecycle the auth service drives.
type Sessions interface {
	CreateSession(ctx context.Context, in sessionservice.NewSession) (*sessiondomain.Session, error)
	VerifyToken(ctx context.Context, rawToken string) (*sessiondomain.Session, error)
	DetectReuse(ctx context.Context, rawToken string) (bool, error)
	Rotate(ctx context.Context, old *sessiondomain.Session, next sessionservice.NewSession) (*sessiondomain.Session, error)
	RevokeSession(ctx context.Context, sessionID, reason string) error
	RevokeByToken(ctx context.Context, rawToken, reason string) (bool, error)
	RevokeFamilyTokens(ctx context.Context, familyID, reason string) (int, error)
	RevokeUserSessions(ctx context.Context, userID, reason string) (int, error)
}

// AuthService implements signup, login, refresh rotation and logout.
type AuthService struct {
	users      UserRepo
	identities IdentityRepo
	sessions   Sessions
	hasher     *security.PasswordHasher
	tokens     *security.TokenIssuer
	userCache  *cache.Tiered
	tracer     trace.Tracer
	emitter    telemetry.EventEmitter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithUserCache caches profile lookups made by Me.
func WithUserCache(c *cache.Tiered) Option {
	return func(s *AuthService) { s.userCache = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *AuthService) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithEventEmitter sends security events (reuse, conflicts, logout-all) to emitter.
func WithEventEmitter(e telemetry.EventEmitter) Option {
	return func(s *AuthService) { s.emitter = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *AuthService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for user timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	users UserRepo,
	identities IdentityRepo,
	sessions Sessions,
	hasher *security.PasswordHasher,
	tokens *security.TokenIssuer,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		users:      users,
		identities: identities,
		sessions:   sessions,
		hasher:     hasher,
		tokens:     tokens,
		tracer:     otel.Tracer(tracerName),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Signup creates a user with a local password identity and starts a new session family.
func (s *AuthService) Signup(ctx context.Context, email, password, name string, meta ClientMeta) (*AuthResult, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		Status:    userdomain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	identity := &identitydomain.Identity{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Provider:     identitydomain.IdentityProviderLocal,
		ProviderID:   email,
		PasswordHash: hashed,
		CreatedAt:    now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, err
	}
	return s.startFamily(ctx, user, meta)
}

// Login authenticates with email and password and starts a new session family.
// Every credential failure is ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, meta ClientMeta) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	ident, err := s.identities.GetByUserAndProvider(ctx, user.ID, identitydomain.IdentityProviderLocal)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Verify(ident.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.startFamily(ctx, user, meta)
}

// Refresh exchanges a refresh token for a new pair in the same family.
//
// A token that verifies but was already used revokes its whole family. So does losing
// the rotation race to a concurrent request presenting the same token. Every refusal is
// a *RefreshError; any other error is an infrastructure failure.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, meta ClientMeta) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.refresh")
	defer func() {
		outcome := "success"
		switch {
		case RefreshReason(err) != "":
			outcome = RefreshReason(err)
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("auth.refresh.outcome", outcome))
		s.metrics.Rotation(outcome)
		span.End()
	}()

	claims, err := s.tokens.VerifyRefreshToken(rawRefresh)
	if err != nil {
		return nil, &RefreshError{Reason: ReasonInvalidToken}
	}
	span.SetAttributes(attribute.String("auth.family_id", claims.FamilyID))

	reused, err := s.sessions.DetectReuse(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}
	if reused {
		s.revokeFamily(ctx, claims, sessiondomain.ReasonTokenReuseDetected, ReasonReuseDetected, telemetry.EventRefreshReuse)
		return nil, &RefreshError{Reason: ReasonReuseDetected}
	}

	sess, err := s.sessions.VerifyToken(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.FamilyID != claims.FamilyID || sess.UserID != claims.UserID() {
		return nil, &RefreshError{Reason: ReasonSessionInvalid}
	}

	pair, err := s.issuePair(claims.UserID(), claims.Email, claims.FamilyID)
	if err != nil {
		s.failSafe(ctx, sess)
		return nil, err
	}
	next, err := s.sessions.Rotate(ctx, sess, sessionservice.NewSession{
		UserID:    sess.UserID,
		FamilyID:  sess.FamilyID,
		RawToken:  pair.RefreshToken,
		ExpiresAt: pair.RefreshExpiresAt,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	})
	if errors.Is(err, sessionservice.ErrRotationConflict) {
		s.revokeFamily(ctx, claims, sessiondomain.ReasonRotationConflict, ReasonRotationConflict, telemetry.EventRotationConflict)
		return nil, &RefreshError{Reason: ReasonRotationConflict}
	}
	if err != nil {
		s.failSafe(ctx, sess)
		return nil, err
	}
	pair.SessionID = next.ID
	pair.User = &userdomain.User{ID: claims.UserID(), Email: claims.Email}
	return pair, nil
}

// RejectRefresh revokes the presented refresh token after a refused refresh so it
// cannot be retried. Unknown tokens are ignored.
func (s *AuthService) RejectRefresh(ctx context.Context, rawRefresh string) error {
	_, err := s.sessions.RevokeByToken(ctx, rawRefresh, sessiondomain.ReasonInvalidRefreshAttempt)
	return err
}

// Logout revokes the session of the presented refresh token. Empty or unknown tokens are a no-op.
func (s *AuthService) Logout(ctx context.Context, rawRefresh string) error {
	_, err := s.sessions.RevokeByToken(ctx, rawRefresh, sessiondomain.ReasonUserLogout)
	return err
}

// LogoutAll revokes every session of userID and returns how many were live.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrUnauthenticated
	}
	n, err := s.sessions.RevokeUserSessions(ctx, userID, sessiondomain.ReasonUserLogoutAll)
	if err != nil {
		return 0, err
	}
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
		Type:    telemetry.EventAllSessionsLogout,
		UserID:  userID,
		Reason:  sessiondomain.ReasonUserLogoutAll,
		Revoked: n,
	})
	return n, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *AuthService) VerifyAccess(token string) (*security.AccessClaims, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.tokens.VerifyAccessToken(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// Me returns the profile of userID, cached for a few minutes when a user cache is set.
func (s *AuthService) Me(ctx context.Context, userID string) (*userdomain.User, error) {
	load := func(ctx context.Context) (*userdomain.User, error) {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, ErrUserNotFound
		}
		return u, nil
	}
	if s.userCache == nil {
		return load(ctx)
	}
	return cache.Wrap(ctx, s.userCache, "user:"+userID, userCacheTTL, load)
}

// AccessTTL and RefreshTTL size the cookies that carry the tokens.
func (s *AuthService) AccessTTL() time.Duration  { return s.tokens.AccessTTL() }
func (s *AuthService) RefreshTTL() time.Duration { return s.tokens.RefreshTTL() }

func (s *AuthService) startFamily(ctx context.Context, user *userdomain.User, meta ClientMeta) (*AuthResult, error) {
	pair, err := s.issuePair(user.ID, user.Email, security.NewFamilyID())
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.CreateSession(ctx, sessionservice.NewSession{
		UserID:    user.ID,
		FamilyID:  pair.FamilyID,
		RawToken:  pair.RefreshToken,
		ExpiresAt: pair.RefreshExpiresAt,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	})
	if err != nil {
		return nil, err
	}
	pair.SessionID = sess.ID
	pair.User = user
	return pair, nil
}

func (s *AuthService) issuePair(userID, email, familyID string) (*AuthResult, error) {
	access, accessExp, err := s.tokens.IssueAccessToken(userID, email)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefreshToken(userID, email, familyID, security.NewJTI())
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &AuthResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		FamilyID:         familyID,
	}, nil
}

// revokeFamily ends every session of the token's family with sessionReason recorded on
// each row. Failure to revoke is logged; the refresh is refused either way.
func (s *AuthService) revokeFamily(ctx context.Context, claims *security.RefreshClaims, sessionReason, reason, eventType string) {
	n, err := s.sessions.RevokeFamilyTokens(ctx, claims.FamilyID, sessionReason)
	if err != nil {
		s.logger.Error("auth: family revoke failed", "family_id", claims.FamilyID, "reason", reason, "err", err)
	}
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
		Type:     eventType,
		UserID:   claims.UserID(),
		FamilyID: claims.FamilyID,
		Reason:   reason,
		Revoked:  n,
	})
}

// failSafe consumes the presented session when rotation could not complete, leaving
// the family without an active session rather than reusable.
func (s *AuthService) failSafe(ctx context.Context, sess *sessiondomain.Session) {
	if err := s.sessions.RevokeSession(context.WithoutCancel(ctx), sess.ID, sessiondomain.ReasonRotated); err != nil {
		s.logger.Error("auth: fail-safe revoke failed", "session_id", sess.ID, "err", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Message: "invalid format"}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return &ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}
	if len(password) > 72 {
		return &ValidationError{Field: "password", Message: "must be at most 72 bytes"}
	}
	var hasUpper, hasNumber bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasNumber = true
		}
	}
	if !hasUpper {
		return &ValidationError{Field: "password", Message: "must contain an uppercase letter"}
	}
	if !hasNumber {
		return &ValidationError{Field: "password", Message: "must contain a number"}
	}
	return nil
}

func validateName(name string) error {
	if n := len([]rune(name)); n < 2 || n > 100 {
		return &ValidationError{Field: "name", Message: "must be between 2 and 100 characters"}
	}
	return nil
}
