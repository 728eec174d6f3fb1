package repository

import (
	"context"
	"errors"
	"time"

	"session-lifecycle/backend/internal/session/domain"
)

// ErrRotationConflict is returned by Rotate when the presented session was no longer
// active at update time, i.e. another request already consumed or revoked it.
var ErrRotationConflict = errors.New("session is no longer active")

// Repository defines persistence for sessions. Lookups return (nil, nil) for a missing row.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// ListActiveByUser returns the user's non-revoked sessions expiring after now, newest first.
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error)
	// Revoke revokes the session if it is not already revoked and reports whether it did.
	Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error)
	// RevokeFamily revokes every non-revoked session of the family and returns their token hashes.
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) ([]string, error)
	// RevokeUser revokes every non-revoked session of the user and returns their token hashes.
	RevokeUser(ctx context.Context, userID, reason string, at time.Time) ([]string, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	ListTokenHashesByFamily(ctx context.Context, familyID string) ([]string, error)
	ListTokenHashesByUser(ctx context.Context, userID string) ([]string, error)
	// Rotate atomically revokes oldID with reason "rotated" and inserts next. It returns
	// ErrRotationConflict, inserting nothing, when oldID is not active at update time.
	Rotate(ctx context.Context, oldID string, at time.Time, next *domain.Session) error
	// DeleteExpired hard-deletes sessions with expires_at before now and returns their token hashes.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
}
