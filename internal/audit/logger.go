// Package audit persists security events so they survive collector outages and can be shown to users.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"session-lifecycle/backend/internal/audit/domain"
	auditrepo "session-lifecycle/backend/internal/audit/repository"
	"session-lifecycle/backend/internal/telemetry"
)

// Logger is a telemetry.EventEmitter that writes each event to the audit repository.
type Logger struct {
	repo auditrepo.Repository
	now  func() time.Time
}

// NewLogger returns an audit logger that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo, now: time.Now}
}

// Emit writes one audit entry. The event time is used when set.
func (l *Logger) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return errors.New("audit: nil event")
	}
	if l.repo == nil {
		return nil
	}
	at := event.At
	if at.IsZero() {
		at = l.now()
	}
	return l.repo.Create(ctx, &domain.AuditLog{
		ID:        uuid.NewString(),
		Action:    event.Type,
		UserID:    event.UserID,
		SessionID: event.SessionID,
		FamilyID:  event.FamilyID,
		Reason:    event.Reason,
		Revoked:   event.Revoked,
		CreatedAt: at.UTC(),
	})
}
