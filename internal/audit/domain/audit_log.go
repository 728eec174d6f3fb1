package domain

import "time"

// AuditLog is a persisted security event from the session lifecycle.
type AuditLog struct {
	ID        string
	Action    string
	UserID    string
	SessionID string
	FamilyID  string
	Reason    string
	Revoked   int
	CreatedAt time.Time
}
