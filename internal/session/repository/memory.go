package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"session-lifecycle/backend/internal/session/domain"
)

// ErrDuplicateTokenHash is returned by MemoryRepository when a token hash is reused.
var ErrDuplicateTokenHash = errors.New("duplicate token hash")

// MemoryRepository is an in-process Repository for local development and tests.
// Stored sessions are copied in and out so callers never share state with the store.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Session
	byHash map[string]string
}

// NewMemoryRepository returns an empty in-memory session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*domain.Session),
		byHash: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(s)
}

func (r *MemoryRepository) insertLocked(s *domain.Session) error {
	if _, ok := r.byHash[s.TokenHash]; ok {
		return ErrDuplicateTokenHash
	}
	if _, ok := r.byID[s.ID]; ok {
		return errors.New("duplicate session id")
	}
	r.byID[s.ID] = copySession(s)
	r.byHash[s.TokenHash] = s.ID
	return nil
}

func (r *MemoryRepository) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[tokenHash]
	if !ok {
		return nil, nil
	}
	return copySession(r.byID[id]), nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (r *MemoryRepository) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.byID {
		if s.UserID == userID && !s.IsRevoked && s.ExpiresAt.After(now) {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Revoke(_ context.Context, id, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	return s.Revoke(reason, at), nil
}

func (r *MemoryRepository) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) ([]string, error) {
	return r.revokeWhere(func(s *domain.Session) bool { return s.FamilyID == familyID }, reason, at), nil
}

func (r *MemoryRepository) RevokeUser(_ context.Context, userID, reason string, at time.Time) ([]string, error) {
	return r.revokeWhere(func(s *domain.Session) bool { return s.UserID == userID }, reason, at), nil
}

func (r *MemoryRepository) revokeWhere(match func(*domain.Session) bool, reason string, at time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hashes []string
	for _, s := range r.byID {
		if match(s) && s.Revoke(reason, at) {
			hashes = append(hashes, s.TokenHash)
		}
	}
	return hashes
}

func (r *MemoryRepository) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		s.LastUsedAt = &at
	}
	return nil
}

func (r *MemoryRepository) ListTokenHashesByFamily(_ context.Context, familyID string) ([]string, error) {
	return r.hashesWhere(func(s *domain.Session) bool { return s.FamilyID == familyID }), nil
}

func (r *MemoryRepository) ListTokenHashesByUser(_ context.Context, userID string) ([]string, error) {
	return r.hashesWhere(func(s *domain.Session) bool { return s.UserID == userID }), nil
}

func (r *MemoryRepository) hashesWhere(match func(*domain.Session) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.byID {
		if match(s) {
			out = append(out, s.TokenHash)
		}
	}
	return out
}

func (r *MemoryRepository) Rotate(_ context.Context, oldID string, at time.Time, next *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byID[oldID]
	if !ok || old.IsRevoked || !old.ExpiresAt.After(at) {
		return ErrRotationConflict
	}
	if _, dup := r.byHash[next.TokenHash]; dup {
		return ErrDuplicateTokenHash
	}
	old.Revoke(domain.ReasonRotated, at)
	return r.insertLocked(next)
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hashes []string
	for id, s := range r.byID {
		if s.ExpiresAt.Before(now) {
			hashes = append(hashes, s.TokenHash)
			delete(r.byHash, s.TokenHash)
			delete(r.byID, id)
		}
	}
	return hashes, nil
}

func copySession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	if s.LastUsedAt != nil {
		t := *s.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}
