package telemetry

import (
	"context"
	"time"
)

// Security event types emitted by the auth flow.
const (
	EventRefreshReuse      = "auth.refresh.reuse_detected"
	EventRotationConflict  = "auth.refresh.rotation_conflict"
	EventFamilyRevoked     = "session.family_revoked"
	EventAllSessionsLogout = "session.logout_all"
)

// Event is a security-relevant occurrence in the session lifecycle.
type Event struct {
	Type      string
	UserID    string
	SessionID string
	FamilyID  string
	Reason    string
	Revoked   int
	At        time.Time
}

// EventEmitter emits events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
