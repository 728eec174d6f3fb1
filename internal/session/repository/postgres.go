package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"session-lifecycle/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, family_id, token_hash, user_agent, ip_address,
	is_revoked, revoked_at, revoked_reason, created_at, expires_at, last_used_at`

// PostgresRepository is the Repository backed by the sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts s. The session must have ID and TokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	return insertSession(ctx, r.db, s)
}

func insertSession(ctx context.Context, q execer, s *domain.Session) error {
	_, err := q.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.UserID, s.FamilyID, s.TokenHash,
		nullString(s.UserAgent), nullString(s.IPAddress),
		s.IsRevoked, nullTime(s.RevokedAt), nullString(s.RevokedReason),
		s.CreatedAt, s.ExpiresAt, nullTime(s.LastUsedAt),
	)
	return err
}

// GetByTokenHash returns the session for tokenHash, or nil if not found.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash)
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListActiveByUser returns the user's active sessions, newest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND is_revoked = false AND expires_at > $2
		ORDER BY created_at DESC, id DESC`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Revoke revokes id unless it is already revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions
		SET is_revoked = true, revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND is_revoked = false`, id, at, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeFamily revokes all live sessions of familyID.
func (r *PostgresRepository) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) ([]string, error) {
	return r.queryHashes(ctx, `UPDATE sessions
		SET is_revoked = true, revoked_at = $2, revoked_reason = $3
		WHERE family_id = $1 AND is_revoked = false
		RETURNING token_hash`, familyID, at, reason)
}

// RevokeUser revokes all live sessions of userID.
func (r *PostgresRepository) RevokeUser(ctx context.Context, userID, reason string, at time.Time) ([]string, error) {
	return r.queryHashes(ctx, `UPDATE sessions
		SET is_revoked = true, revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND is_revoked = false
		RETURNING token_hash`, userID, at, reason)
}

// TouchLastUsed sets last_used_at for id.
func (r *PostgresRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

// ListTokenHashesByFamily returns every token hash of familyID, revoked or not.
func (r *PostgresRepository) ListTokenHashesByFamily(ctx context.Context, familyID string) ([]string, error) {
	return r.queryHashes(ctx, `SELECT token_hash FROM sessions WHERE family_id = $1`, familyID)
}

// ListTokenHashesByUser returns every token hash of userID, revoked or not.
func (r *PostgresRepository) ListTokenHashesByUser(ctx context.Context, userID string) ([]string, error) {
	return r.queryHashes(ctx, `SELECT token_hash FROM sessions WHERE user_id = $1`, userID)
}

// Rotate consumes oldID and inserts next in one transaction. The conditional update is
// the compare-and-swap: of two concurrent rotations of the same row only one matches.
func (r *PostgresRepository) Rotate(ctx context.Context, oldID string, at time.Time, next *domain.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE sessions
		SET is_revoked = true, revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND is_revoked = false AND expires_at > $2`, oldID, at, domain.ReasonRotated)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrRotationConflict
	}
	if err := insertSession(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteExpired removes sessions past expiry and returns their token hashes.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	return r.queryHashes(ctx, `DELETE FROM sessions WHERE expires_at < $1 RETURNING token_hash`, now)
}

func (r *PostgresRepository) queryHashes(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                            domain.Session
		userAgent, ipAddress, reason sql.NullString
		revokedAt, lastUsedAt        sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.FamilyID, &s.TokenHash, &userAgent, &ipAddress,
		&s.IsRevoked, &revokedAt, &reason, &s.CreatedAt, &s.ExpiresAt, &lastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	s.UserAgent = userAgent.String
	s.IPAddress = ipAddress.String
	s.RevokedReason = reason.String
	s.RevokedAt = nullTimeToPtr(revokedAt)
	s.LastUsedAt = nullTimeToPtr(lastUsedAt)
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
