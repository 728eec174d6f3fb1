package repository

import (
	"context"
	"sync"

	"session-lifecycle/backend/internal/user/domain"
)

// MemoryRepository is an in-process user store for local development and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]domain.User
	byEmail map[string]string
}

// NewMemoryRepository returns an empty in-memory user store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]domain.User), byEmail: make(map[string]string)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	u := r.byID[id]
	return &u, nil
}

func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return ErrDuplicateEmail
	}
	r.byID[u.ID] = *u
	r.byEmail[u.Email] = u.ID
	return nil
}
