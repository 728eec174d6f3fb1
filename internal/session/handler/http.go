// Package handler exposes the caller's own sessions over HTTP.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"session-lifecycle/backend/internal/server/middleware"
	"session-lifecycle/backend/internal/session/domain"
	"session-lifecycle/backend/internal/session/service"
)

const unknownDevice = "Unknown device"

// SessionHandler serves /api/v1/sessions.
type SessionHandler struct {
	sessions *service.Service
	logger   *slog.Logger
}

// NewSessionHandler returns a SessionHandler. A nil logger uses slog.Default.
func NewSessionHandler(sessions *service.Service, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{sessions: sessions, logger: logger}
}

type sessionView struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	IPAddress  string    `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsCurrent  bool      `json:"is_current"`
}

type listResponse struct {
	Sessions []sessionView `json:"sessions"`
}

// List handles GET /: the caller's active sessions, newest first. The session owning
// the request's refresh cookie is flagged is_current.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	list, err := h.sessions.GetUserSessions(r.Context(), userID)
	if err != nil {
		h.logger.Error("session: list failed", "user_id", userID, "err", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	var current string
	if raw := middleware.CookieValue(r, middleware.RefreshCookie); raw != "" {
		current = h.sessions.TokenHash(raw)
	}
	out := listResponse{Sessions: make([]sessionView, 0, len(list))}
	for _, s := range list {
		out.Sessions = append(out.Sessions, view(s, current))
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

// Revoke handles DELETE /{id}. Sessions the caller does not own answer 404.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	err := h.sessions.RevokeUserSession(r.Context(), userID, id, domain.ReasonUserRevokedSession)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		middleware.WriteError(w, http.StatusNotFound, "session_not_found")
	case err != nil:
		h.logger.Error("session: revoke failed", "session_id", id, "err", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error")
	default:
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"message": "session revoked"})
	}
}

func view(s *domain.Session, currentHash string) sessionView {
	v := sessionView{
		ID:         s.ID,
		Device:     s.UserAgent,
		IPAddress:  s.IPAddress,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		IsCurrent:  currentHash != "" && s.TokenHash == currentHash,
	}
	if v.Device == "" {
		v.Device = unknownDevice
	}
	if v.IPAddress == "" {
		v.IPAddress = "N/A"
	}
	if s.LastUsedAt != nil {
		v.LastUsedAt = *s.LastUsedAt
	}
	return v
}
