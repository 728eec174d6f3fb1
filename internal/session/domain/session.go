package domain

import "time"

// Revocation reasons recorded on a session row.
const (
	ReasonRotated               = "rotated"
	ReasonUserLogout            = "user_logout"
	ReasonUserLogoutAll         = "user_logout_all"
	ReasonTokenReuseDetected    = "token_reuse_detected"
	ReasonRotationConflict      = "rotation_conflict"
	ReasonUserRevokedSession    = "user_revoked_session"
	ReasonInvalidRefreshAttempt = "invalid_refresh_attempt"
	ReasonExpired               = "expired"
)

// State is the lifecycle position of a session.
type State string

const (
	StateActive   State = "active"
	StateConsumed State = "consumed"
	StateRevoked  State = "revoked"
	StateExpired  State = "expired"
)

// Session is one refresh token record. The raw token is never stored; TokenHash is
// its SHA-256 digest. Sessions descending from one login share FamilyID.
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	FamilyID      string     `json:"family_id"`
	TokenHash     string     `json:"token_hash"`
	UserAgent     string     `json:"user_agent,omitempty"`
	IPAddress     string     `json:"ip_address,omitempty"`
	IsRevoked     bool       `json:"is_revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

// State derives the lifecycle state at now. A revoked row is terminal regardless of expiry.
func (s *Session) State(now time.Time) State {
	switch {
	case s.IsRevoked && s.RevokedReason == ReasonRotated:
		return StateConsumed
	case s.IsRevoked && s.RevokedReason == ReasonExpired:
		return StateExpired
	case s.IsRevoked:
		return StateRevoked
	case !s.ExpiresAt.After(now):
		return StateExpired
	default:
		return StateActive
	}
}

// IsActive reports whether the session is neither revoked nor past its expiry.
func (s *Session) IsActive(now time.Time) bool {
	return s.State(now) == StateActive
}

// Revoke marks the session revoked. It is a no-op on an already revoked session.
func (s *Session) Revoke(reason string, at time.Time) bool {
	if s.IsRevoked {
		return false
	}
	s.IsRevoked = true
	s.RevokedAt = &at
	s.RevokedReason = reason
	return true
}
