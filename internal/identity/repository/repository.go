package repository

import (
	"context"

	"session-lifecycle/backend/internal/identity/domain"
)

// Repository defines persistence for identities. Lookups return (nil, nil) for a missing row.
type Repository interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider domain.IdentityProvider) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
}
