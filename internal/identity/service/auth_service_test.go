package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-lifecycle/backend/internal/cache"
	identitydomain "session-lifecycle/backend/internal/identity/domain"
	identityrepo "session-lifecycle/backend/internal/identity/repository"
	"session-lifecycle/backend/internal/security"
	sessiondomain "session-lifecycle/backend/internal/session/domain"
	sessionrepo "session-lifecycle/backend/internal/session/repository"
	sessionservice "session-lifecycle/backend/internal/session/service"
	"session-lifecycle/backend/internal/telemetry"
	userdomain "session-lifecycle/backend/internal/user/domain"
	userrepo "session-lifecycle/backend/internal/user/repository"
)

const testPassword = "Correct7Horse"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingUserRepo counts GetByID calls to observe the profile cache.
type countingUserRepo struct {
	*userrepo.MemoryRepository
	mu    sync.Mutex
	byIDs int
}

func (r *countingUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	r.byIDs++
	r.mu.Unlock()
	return r.MemoryRepository.GetByID(ctx, id)
}

// recordingEmitter captures emitted events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
	ch     chan struct{}
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{ch: make(chan struct{}, 32)}
}

func (e *recordingEmitter) Emit(_ context.Context, ev *telemetry.Event) error {
	e.mu.Lock()
	e.events = append(e.events, *ev)
	e.mu.Unlock()
	e.ch <- struct{}{}
	return nil
}

func (e *recordingEmitter) waitFor(t *testing.T) telemetry.Event {
	t.Helper()
	select {
	case <-e.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}

type fixture struct {
	users      *countingUserRepo
	identities *identityrepo.MemoryRepository
	sessRepo   *sessionrepo.MemoryRepository
	sessions   *sessionservice.Service
	emitter    *recordingEmitter
	clock      *testClock
	auth       *AuthService
}

func newFixture(t *testing.T, wrap func(Sessions) Sessions) *fixture {
	t.Helper()
	f := &fixture{
		users:      &countingUserRepo{MemoryRepository: userrepo.NewMemoryRepository()},
		identities: identityrepo.NewMemoryRepository(),
		sessRepo:   sessionrepo.NewMemoryRepository(),
		emitter:    newRecordingEmitter(),
		clock:      &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	tokens, err := security.NewTestTokenIssuer(f.clock.Now)
	require.NoError(t, err)
	f.sessions = sessionservice.NewService(f.sessRepo, cache.NewTiered(nil), sessionservice.WithClock(f.clock.Now))
	var sessions Sessions = f.sessions
	if wrap != nil {
		sessions = wrap(sessions)
	}
	f.auth = NewAuthService(f.users, f.identities, sessions, security.NewPasswordHasher(4), tokens,
		WithUserCache(cache.NewTiered(nil)),
		WithEventEmitter(f.emitter),
		WithClock(f.clock.Now),
	)
	return f
}

// seedUser stores a user with a local password identity directly.
func (f *fixture) seedUser(t *testing.T, id, email string) {
	t.Helper()
	ctx := context.Background()
	hash, err := security.NewPasswordHasher(4).Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, f.users.Create(ctx, &userdomain.User{ID: id, Email: email, Status: userdomain.UserStatusActive}))
	require.NoError(t, f.identities.Create(ctx, &identitydomain.Identity{
		ID: "ident-" + id, UserID: id, Provider: identitydomain.IdentityProviderLocal,
		ProviderID: email, PasswordHash: hash,
	}))
}

func (f *fixture) familySessions(t *testing.T, familyID string) []*sessiondomain.Session {
	t.Helper()
	hashes, err := f.sessRepo.ListTokenHashesByFamily(context.Background(), familyID)
	require.NoError(t, err)
	out := make([]*sessiondomain.Session, 0, len(hashes))
	for _, h := range hashes {
		s, err := f.sessRepo.GetByTokenHash(context.Background(), h)
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

var meta = ClientMeta{UserAgent: "Mozilla/5.0", IPAddress: "198.51.100.4"}

func TestSignup_CreatesUserAndSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.auth.Signup(ctx, "  Ana@Example.com ", testPassword, "Ana", meta)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", res.User.Email)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.NotEmpty(t, res.FamilyID)

	sess, err := f.sessRepo.GetByID(ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, res.User.ID, sess.UserID)
	assert.Equal(t, res.FamilyID, sess.FamilyID)
	assert.Equal(t, security.HashToken(res.RefreshToken), sess.TokenHash)
	assert.Equal(t, meta.UserAgent, sess.UserAgent)
	assert.Equal(t, res.RefreshExpiresAt.UTC(), sess.ExpiresAt)

	ident, err := f.identities.GetByUserAndProvider(ctx, res.User.ID, identitydomain.IdentityProviderLocal)
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.NotEqual(t, testPassword, ident.PasswordHash)

	_, err = f.auth.Signup(ctx, "ana@example.com", testPassword, "Ana Again", meta)
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
}

func TestSignup_Validation(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		name, email, password, userName, field string
	}{
		{"empty email", "", testPassword, "Ana", "email"},
		{"bad email", "not-an-email", testPassword, "Ana", "email"},
		{"short password", "a@example.com", "Ab1", "Ana", "password"},
		{"no uppercase", "a@example.com", "lowercase1", "Ana", "password"},
		{"no number", "a@example.com", "NoNumbersHere", "Ana", "password"},
		{"short name", "a@example.com", testPassword, "A", "name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.auth.Signup(context.Background(), tc.email, tc.password, tc.userName, meta)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()

	res, err := f.auth.Login(ctx, "SEVEN@example.com", testPassword, meta)
	require.NoError(t, err)
	assert.Equal(t, "7", res.User.ID)

	claims, err := f.auth.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.UserID())
	assert.Equal(t, "seven@example.com", claims.Email)

	for _, tc := range []struct{ email, password string }{
		{"seven@example.com", "Wrong7Password"},
		{"nobody@example.com", testPassword},
		{"", testPassword},
		{"seven@example.com", ""},
	} {
		_, err := f.auth.Login(ctx, tc.email, tc.password, meta)
		assert.ErrorIs(t, err, ErrInvalidCredentials, "login(%q)", tc.email)
	}
}

func TestLogin_DisabledUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.users.Create(ctx, &userdomain.User{ID: "u-off", Email: "off@example.com", Status: userdomain.UserStatusDisabled}))
	_, err := f.auth.Login(ctx, "off@example.com", testPassword, meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_EndToEndReplay(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()

	first, err := f.auth.Login(ctx, "seven@example.com", testPassword, meta)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	second, err := f.auth.Refresh(ctx, first.RefreshToken, meta)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.FamilyID, second.FamilyID)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	old, err := f.sessRepo.GetByID(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StateConsumed, old.State(f.clock.Now()))

	_, err = f.auth.Refresh(ctx, first.RefreshToken, meta)
	require.ErrorIs(t, err, ErrRefreshRejected)
	assert.ErrorIs(t, err, ErrRefreshReuse)
	assert.Equal(t, ReasonReuseDetected, RefreshReason(err))

	ev := f.emitter.waitFor(t)
	assert.Equal(t, telemetry.EventRefreshReuse, ev.Type)
	assert.Equal(t, first.FamilyID, ev.FamilyID)
	assert.Equal(t, 1, ev.Revoked)

	for _, s := range f.familySessions(t, first.FamilyID) {
		assert.True(t, s.IsRevoked, "session %s should be revoked", s.ID)
	}
	child, err := f.sessRepo.GetByID(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.ReasonTokenReuseDetected, child.RevokedReason)

	_, err = f.auth.Refresh(ctx, second.RefreshToken, meta)
	require.ErrorIs(t, err, ErrRefreshRejected)
	assert.NotErrorIs(t, err, ErrRefreshReuse)
	assert.Equal(t, ReasonSessionInvalid, RefreshReason(err))
}

func TestRefresh_InvalidToken(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()
	res, err := f.auth.Login(ctx, "seven@example.com", testPassword, meta)
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", res.AccessToken, res.RefreshToken + "x"} {
		_, err := f.auth.Refresh(ctx, tok, meta)
		require.ErrorIs(t, err, ErrRefreshRejected)
		assert.Equal(t, ReasonInvalidToken, RefreshReason(err))
	}

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.auth.Refresh(ctx, res.RefreshToken, meta)
	assert.Equal(t, ReasonInvalidToken, RefreshReason(err))
}

func TestRefresh_SessionInvalidAfterLogout(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()
	res, err := f.auth.Login(ctx, "seven@example.com", testPassword, meta)
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, res.RefreshToken))
	sess, err := f.sessRepo.GetByID(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.ReasonUserLogout, sess.RevokedReason)

	_, err = f.auth.Refresh(ctx, res.RefreshToken, meta)
	assert.Equal(t, ReasonSessionInvalid, RefreshReason(err))

	require.NoError(t, f.auth.Logout(ctx, ""))
	require.NoError(t, f.auth.Logout(ctx, "unknown"))
}

// conflictSessions loses every rotation race.
type conflictSessions struct {
	Sessions
}

func (conflictSessions) Rotate(context.Context, *sessiondomain.Session, sessionservice.NewSession) (*sessiondomain.Session, error) {
	return nil, sessionservice.ErrRotationConflict
}

func TestRefresh_RotationConflictRevokesFamily(t *testing.T) {
	f := newFixture(t, func(s Sessions) Sessions { return conflictSessions{s} })
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()
	res, err := f.auth.Login(ctx, "seven@example.com", testPassword, meta)
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, res.RefreshToken, meta)
	require.ErrorIs(t, err, ErrRefreshReuse)
	assert.Equal(t, ReasonRotationConflict, RefreshReason(err))
	assert.Equal(t, telemetry.EventRotationConflict, f.emitter.waitFor(t).Type)

	sess, err := f.sessRepo.GetByID(ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.IsRevoked)
	assert.Equal(t, sessiondomain.ReasonRotationConflict, sess.RevokedReason)
}

// brokenRotateSessions fails rotation with an infrastructure error.
type brokenRotateSessions struct {
	Sessions
}

func (brokenRotateSessions) Rotate(context.Context, *sessiondomain.Session, sessionservice.NewSession) (*sessiondomain.Session, error) {
	return nil, sessionservice.ErrStoreUnavailable
}

func TestRefresh_StoreFailureConsumesPresentedSession(t *testing.T) {
	f := newFixture(t, func(s Sessions) Sessions { return brokenRotateSessions{s} })
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()
	res, err := f.auth.Login(ctx, "seven@example.com", testPassword, meta)
	require.NoError(t, err)

	_, err = f.auth.Refresh(ctx, res.RefreshToken, meta)
	require.ErrorIs(t, err, sessionservice.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrRefreshRejected)

	sess, err := f.sessRepo.GetByID(ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.IsRevoked)
	assert.Equal(t, sessiondomain.ReasonRotated, sess.RevokedReason)
}

func TestRefresh_ConcurrentPresentationsMintAtMostOneChild(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()
	res, err := f.auth.Login(ctx, "seven@example.com", testPassword, meta)
	require.NoError(t, err)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auth.Refresh(ctx, res.RefreshToken, meta)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, successes, 1)
	for _, err := range failures {
		assert.ErrorIs(t, err, ErrRefreshRejected)
	}
	active := 0
	for _, s := range f.familySessions(t, res.FamilyID) {
		if s.IsActive(f.clock.Now()) {
			active++
		}
	}
	assert.LessOrEqual(t, active, 1)
}

func TestRejectRefresh(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()
	res, err := f.auth.Login(ctx, "seven@example.com", testPassword, meta)
	require.NoError(t, err)

	require.NoError(t, f.auth.RejectRefresh(ctx, res.RefreshToken))
	sess, err := f.sessRepo.GetByID(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.ReasonInvalidRefreshAttempt, sess.RevokedReason)
	require.NoError(t, f.auth.RejectRefresh(ctx, "not-a-token"))
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	f.seedUser(t, "8", "eight@example.com")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.auth.Login(ctx, "seven@example.com", testPassword, meta)
		require.NoError(t, err)
	}
	other, err := f.auth.Login(ctx, "eight@example.com", testPassword, meta)
	require.NoError(t, err)

	n, err := f.auth.LogoutAll(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	ev := f.emitter.waitFor(t)
	assert.Equal(t, telemetry.EventAllSessionsLogout, ev.Type)
	assert.Equal(t, 3, ev.Revoked)

	list, err := f.sessions.GetUserSessions(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.auth.Refresh(ctx, other.RefreshToken, meta)
	assert.NoError(t, err)

	_, err = f.auth.LogoutAll(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestVerifyAccess_RejectsRefreshToken(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	res, err := f.auth.Login(context.Background(), "seven@example.com", testPassword, meta)
	require.NoError(t, err)

	_, err = f.auth.VerifyAccess(res.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.auth.VerifyAccess("")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMe_CachesProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.seedUser(t, "7", "seven@example.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		u, err := f.auth.Me(ctx, "7")
		require.NoError(t, err)
		assert.Equal(t, "seven@example.com", u.Email)
	}
	assert.Equal(t, 1, f.users.byIDs)

	_, err := f.auth.Me(ctx, "missing")
	assert.True(t, errors.Is(err, ErrUserNotFound))
}
