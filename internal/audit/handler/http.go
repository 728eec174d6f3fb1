// Package handler exposes the caller's security activity over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	auditrepo "session-lifecycle/backend/internal/audit/repository"
	"session-lifecycle/backend/internal/server/middleware"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// AuditHandler serves /api/v1/activity.
type AuditHandler struct {
	repo   auditrepo.Repository
	logger *slog.Logger
}

// NewAuditHandler returns an AuditHandler. A nil logger uses slog.Default.
func NewAuditHandler(repo auditrepo.Repository, logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{repo: repo, logger: logger}
}

type eventView struct {
	Action    string    `json:"action"`
	SessionID string    `json:"session_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Revoked   int       `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

type listResponse struct {
	Events []eventView `json:"events"`
}

// List handles GET /: the caller's recent security events, newest first. ?limit caps the count.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = min(n, maxLimit)
	}
	list, err := h.repo.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("audit: list failed", "user_id", userID, "err", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	out := listResponse{Events: make([]eventView, 0, len(list))}
	for _, a := range list {
		out.Events = append(out.Events, eventView{
			Action:    a.Action,
			SessionID: a.SessionID,
			Reason:    a.Reason,
			Revoked:   a.Revoked,
			CreatedAt: a.CreatedAt,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}
