package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-lifecycle/backend/internal/session/domain"
)

// testRepositoryContract runs the behavior every Repository implementation must share.
func testRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	base := time.Now().UTC().Truncate(time.Second)

	newSession := func(userID, familyID string, createdAt, expiresAt time.Time) *domain.Session {
		id := uuid.NewString()
		return &domain.Session{
			ID:        id,
			UserID:    userID,
			FamilyID:  familyID,
			TokenHash: "hash-" + id,
			UserAgent: "test-agent",
			CreatedAt: createdAt,
			ExpiresAt: expiresAt,
		}
	}

	t.Run("create and lookup", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		s := newSession("u1", "f1", base, base.Add(time.Hour))
		require.NoError(t, r.Create(ctx, s))

		byHash, err := r.GetByTokenHash(ctx, s.TokenHash)
		require.NoError(t, err)
		require.NotNil(t, byHash)
		assert.Equal(t, s.ID, byHash.ID)
		assert.Equal(t, "test-agent", byHash.UserAgent)
		assert.Empty(t, byHash.IPAddress)
		assert.Nil(t, byHash.LastUsedAt)
		assert.True(t, s.ExpiresAt.Equal(byHash.ExpiresAt))

		byID, err := r.GetByID(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, s.TokenHash, byID.TokenHash)

		missing, err := r.GetByTokenHash(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
		missing, err = r.GetByID(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("token hash is unique", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		s := newSession("u1", "f1", base, base.Add(time.Hour))
		require.NoError(t, r.Create(ctx, s))
		dup := newSession("u2", "f2", base, base.Add(time.Hour))
		dup.TokenHash = s.TokenHash
		assert.Error(t, r.Create(ctx, dup))
	})

	t.Run("revoke is conditional and terminal", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		s := newSession("u1", "f1", base, base.Add(time.Hour))
		require.NoError(t, r.Create(ctx, s))

		ok, err := r.Revoke(ctx, s.ID, domain.ReasonUserLogout, base)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = r.Revoke(ctx, s.ID, domain.ReasonExpired, base.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "second revoke must not apply")

		got, err := r.GetByID(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, got.IsRevoked)
		assert.Equal(t, domain.ReasonUserLogout, got.RevokedReason)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, got.RevokedAt.Equal(base))
	})

	t.Run("touch last used", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		s := newSession("u1", "f1", base, base.Add(time.Hour))
		require.NoError(t, r.Create(ctx, s))
		require.NoError(t, r.TouchLastUsed(ctx, s.ID, base.Add(time.Second)))
		got, err := r.GetByID(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastUsedAt)
		assert.True(t, got.LastUsedAt.Equal(base.Add(time.Second)))
	})

	t.Run("list active by user newest first", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		older := newSession("u1", "f1", base.Add(-2*time.Minute), base.Add(time.Hour))
		newer := newSession("u1", "f2", base.Add(-time.Minute), base.Add(time.Hour))
		revoked := newSession("u1", "f3", base, base.Add(time.Hour))
		expired := newSession("u1", "f4", base.Add(-2*time.Hour), base.Add(-time.Hour))
		other := newSession("u2", "f5", base, base.Add(time.Hour))
		for _, s := range []*domain.Session{older, newer, revoked, expired, other} {
			require.NoError(t, r.Create(ctx, s))
		}
		_, err := r.Revoke(ctx, revoked.ID, domain.ReasonUserLogout, base)
		require.NoError(t, err)

		list, err := r.ListActiveByUser(ctx, "u1", base)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)
	})

	t.Run("revoke family is scoped", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		a1 := newSession("u1", "fa", base, base.Add(time.Hour))
		a2 := newSession("u1", "fa", base, base.Add(time.Hour))
		b1 := newSession("u1", "fb", base, base.Add(time.Hour))
		for _, s := range []*domain.Session{a1, a2, b1} {
			require.NoError(t, r.Create(ctx, s))
		}
		_, err := r.Revoke(ctx, a1.ID, domain.ReasonRotated, base)
		require.NoError(t, err)

		hashes, err := r.RevokeFamily(ctx, "fa", domain.ReasonTokenReuseDetected, base)
		require.NoError(t, err)
		assert.Equal(t, []string{a2.TokenHash}, hashes, "already revoked rows are not rewritten")

		got, _ := r.GetByID(ctx, a1.ID)
		assert.Equal(t, domain.ReasonRotated, got.RevokedReason)
		got, _ = r.GetByID(ctx, b1.ID)
		assert.False(t, got.IsRevoked)

		all, err := r.ListTokenHashesByFamily(ctx, "fa")
		require.NoError(t, err)
		sort.Strings(all)
		want := []string{a1.TokenHash, a2.TokenHash}
		sort.Strings(want)
		assert.Equal(t, want, all)
	})

	t.Run("revoke user", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		s1 := newSession("u1", "f1", base, base.Add(time.Hour))
		s2 := newSession("u1", "f2", base, base.Add(time.Hour))
		s3 := newSession("u2", "f3", base, base.Add(time.Hour))
		for _, s := range []*domain.Session{s1, s2, s3} {
			require.NoError(t, r.Create(ctx, s))
		}
		hashes, err := r.RevokeUser(ctx, "u1", domain.ReasonUserLogoutAll, base)
		require.NoError(t, err)
		assert.Len(t, hashes, 2)
		byUser, err := r.ListTokenHashesByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, byUser, 2)
		got, _ := r.GetByID(ctx, s3.ID)
		assert.False(t, got.IsRevoked)
	})

	t.Run("rotate consumes once", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		old := newSession("u1", "f1", base, base.Add(time.Hour))
		require.NoError(t, r.Create(ctx, old))

		next := newSession("u1", "f1", base, base.Add(2*time.Hour))
		require.NoError(t, r.Rotate(ctx, old.ID, base, next))

		got, _ := r.GetByID(ctx, old.ID)
		assert.True(t, got.IsRevoked)
		assert.Equal(t, domain.ReasonRotated, got.RevokedReason)
		child, _ := r.GetByID(ctx, next.ID)
		require.NotNil(t, child)

		again := newSession("u1", "f1", base, base.Add(2*time.Hour))
		err := r.Rotate(ctx, old.ID, base, again)
		assert.True(t, errors.Is(err, ErrRotationConflict), "got %v", err)
		missing, _ := r.GetByID(ctx, again.ID)
		assert.Nil(t, missing, "losing rotation must not insert")
	})

	t.Run("concurrent rotate has one winner", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		old := newSession("u1", "f1", base, base.Add(time.Hour))
		require.NoError(t, r.Create(ctx, old))

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = r.Rotate(ctx, old.ID, base, newSession("u1", "f1", base, base.Add(time.Hour)))
			}(i)
		}
		wg.Wait()
		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrRotationConflict)
			}
		}
		assert.Equal(t, 1, wins)
		list, err := r.ListActiveByUser(ctx, "u1", base)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("delete expired", func(t *testing.T) {
		ctx := context.Background()
		r := newRepo(t)
		expired := newSession("u1", "f1", base.Add(-2*time.Hour), base.Add(-time.Hour))
		live := newSession("u1", "f2", base, base.Add(time.Hour))
		require.NoError(t, r.Create(ctx, expired))
		require.NoError(t, r.Create(ctx, live))

		hashes, err := r.DeleteExpired(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, []string{expired.TokenHash}, hashes)

		hashes, err = r.DeleteExpired(ctx, base)
		require.NoError(t, err)
		assert.Empty(t, hashes)

		got, _ := r.GetByID(ctx, live.ID)
		assert.NotNil(t, got)
	})
}

func TestMemoryRepository(t *testing.T) {
	testRepositoryContract(t, func(*testing.T) Repository { return NewMemoryRepository() })
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	s := &domain.Session{ID: "s1", UserID: "u1", FamilyID: "f1", TokenHash: "h1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, r.Create(ctx, s))

	got, _ := r.GetByID(ctx, "s1")
	got.IsRevoked = true
	again, _ := r.GetByID(ctx, "s1")
	assert.False(t, again.IsRevoked)
}
