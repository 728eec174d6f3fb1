package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-lifecycle/backend/internal/audit/domain"
	auditrepo "session-lifecycle/backend/internal/audit/repository"
	"session-lifecycle/backend/internal/telemetry"
)

type failingRepo struct{ err error }

func (f failingRepo) Create(context.Context, *domain.AuditLog) error { return f.err }

func (f failingRepo) ListByUser(context.Context, string, int) ([]*domain.AuditLog, error) {
	return nil, f.err
}

func TestLogger_Emit_PersistsEvent(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	err := l.Emit(context.Background(), &telemetry.Event{
		Type:      telemetry.EventRefreshReuse,
		UserID:    "7",
		SessionID: "s-1",
		FamilyID:  "fam-1",
		Reason:    "reuse_detected",
		Revoked:   2,
		At:        at,
	})
	require.NoError(t, err)

	list, err := repo.ListByUser(context.Background(), "7", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, telemetry.EventRefreshReuse, got.Action)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, "fam-1", got.FamilyID)
	assert.Equal(t, "reuse_detected", got.Reason)
	assert.Equal(t, 2, got.Revoked)
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}

func TestLogger_Emit_StampsMissingTime(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	require.NoError(t, l.Emit(context.Background(), &telemetry.Event{Type: telemetry.EventAllSessionsLogout, UserID: "u"}))
	list, err := repo.ListByUser(context.Background(), "u", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fixed, list[0].CreatedAt)
}

func TestLogger_Emit_Errors(t *testing.T) {
	assert.Error(t, NewLogger(auditrepo.NewMemoryRepository()).Emit(context.Background(), nil))

	boom := errors.New("insert failed")
	err := NewLogger(failingRepo{err: boom}).Emit(context.Background(), &telemetry.Event{Type: "x"})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, NewLogger(nil).Emit(context.Background(), &telemetry.Event{Type: "x"}))
}
