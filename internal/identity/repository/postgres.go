package repository

import (
	"context"
	"database/sql"
	"errors"

	"session-lifecycle/backend/internal/identity/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUserAndProvider returns the user's identity for provider, or nil if not found.
func (r *PostgresRepository) GetByUserAndProvider(ctx context.Context, userID string, provider domain.IdentityProvider) (*domain.Identity, error) {
	var (
		i    domain.Identity
		p    string
		hash sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, user_id, provider, provider_id, password_hash, created_at
		FROM identities WHERE user_id = $1 AND provider = $2`, userID, string(provider)).
		Scan(&i.ID, &i.UserID, &p, &i.ProviderID, &hash, &i.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	i.Provider = domain.IdentityProvider(p)
	i.PasswordHash = hash.String
	return &i, nil
}

// Create persists i. The identity must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO identities (id, user_id, provider, provider_id, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, i.UserID, string(i.Provider), i.ProviderID,
		sql.NullString{String: i.PasswordHash, Valid: i.PasswordHash != ""}, i.CreatedAt)
	return err
}
