package repository

import (
	"context"

	"session-lifecycle/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns the user's newest entries first, at most limit of them (0 means no limit).
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error)
}
