package repository

import (
	"context"
	"errors"

	"session-lifecycle/backend/internal/user/domain"
)

// ErrDuplicateEmail is returned by Create when the email is already registered.
var ErrDuplicateEmail = errors.New("email already exists")

// Repository defines persistence for users. Lookups return (nil, nil) for a missing row.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
