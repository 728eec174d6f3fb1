package repository

import (
	"context"
	"database/sql"

	"session-lifecycle/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_logs
		(id, action, user_id, session_id, family_id, reason, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Action, nullString(a.UserID), nullString(a.SessionID), nullString(a.FamilyID),
		nullString(a.Reason), a.Revoked, a.CreatedAt,
	)
	return err
}

// ListByUser returns the user's audit logs, newest first. A limit of 0 returns all of them.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, action, user_id, session_id, family_id, reason, revoked, created_at
		FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT NULLIF($2::int, 0)`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a                     domain.AuditLog
			uid, sid, fid, reason sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Action, &uid, &sid, &fid, &reason, &a.Revoked, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID, a.SessionID, a.FamilyID, a.Reason = uid.String, sid.String, fid.String, reason.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
