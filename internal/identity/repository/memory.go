package repository

import (
	"context"
	"errors"
	"sync"

	"session-lifecycle/backend/internal/identity/domain"
)

// MemoryRepository is an in-process identity store for local development and tests.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]domain.Identity
}

// NewMemoryRepository returns an empty in-memory identity store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.Identity)}
}

func key(userID string, provider domain.IdentityProvider) string {
	return userID + "|" + string(provider)
}

func (r *MemoryRepository) GetByUserAndProvider(_ context.Context, userID string, provider domain.IdentityProvider) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.m[key(userID, provider)]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

func (r *MemoryRepository) Create(_ context.Context, i *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(i.UserID, i.Provider)
	if _, ok := r.m[k]; ok {
		return errors.New("identity already exists")
	}
	r.m[k] = *i
	return nil
}
