package repository

import (
	"context"
	"sort"
	"sync"

	"session-lifecycle/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process for local development and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *a)
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for i := range r.entries {
		if r.entries[i].UserID == userID {
			a := r.entries[i]
			out = append(out, &a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
