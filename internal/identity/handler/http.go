// Package handler exposes the auth service over HTTP with cookie-carried tokens.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"session-lifecycle/backend/internal/identity/service"
	"session-lifecycle/backend/internal/server/middleware"
	userdomain "session-lifecycle/backend/internal/user/domain"
)

const (
	maxBodyBytes = 1 << 16
	csrfTTL      = 24 * time.Hour
)

// AuthHandler serves /api/v1/auth.
type AuthHandler struct {
	auth    *service.AuthService
	cookies middleware.Cookies
	logger  *slog.Logger
}

// NewAuthHandler returns an AuthHandler. A nil logger uses slog.Default.
func NewAuthHandler(auth *service.AuthService, cookies middleware.Cookies, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, cookies: cookies, logger: logger}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	User *userdomain.User `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Signup handles POST /signup.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.auth.Signup(r.Context(), req.Email, req.Password, req.Name, clientMeta(r))
	if err != nil {
		var ve *service.ValidationError
		switch {
		case errors.As(err, &ve):
			middleware.WriteJSON(w, http.StatusBadRequest, middleware.ErrorResponse{Error: "validation_failed", Message: ve.Error()})
		case errors.Is(err, service.ErrEmailAlreadyRegistered):
			middleware.WriteError(w, http.StatusConflict, "email_already_registered")
		default:
			h.internal(w, r, "signup", err)
		}
		return
	}
	h.setTokens(w, res)
	middleware.WriteJSON(w, http.StatusCreated, userResponse{User: res.User})
}

// Login handles POST /login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.logger.Info("auth: login failed", "client_ip", middleware.ClientIP(r))
		middleware.WriteError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		h.internal(w, r, "login", err)
		return
	}
	h.setTokens(w, res)
	middleware.WriteJSON(w, http.StatusOK, userResponse{User: res.User})
}

// Logout handles POST /logout: revokes the presented session and clears cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), middleware.CookieValue(r, middleware.RefreshCookie)); err != nil {
		h.logger.Error("auth: logout revoke failed", "err", err)
	}
	h.cookies.Clear(w)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

// LogoutAll handles POST /logout-all for the authenticated user.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	if _, err := h.auth.LogoutAll(r.Context(), userID); err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			middleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.internal(w, r, "logout-all", err)
		return
	}
	h.cookies.Clear(w)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "all sessions revoked"})
}

// Refresh handles POST /refresh. Every failure clears both cookies; refusals answer a
// uniform 401 and only the log carries the reason.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := middleware.CookieValue(r, middleware.RefreshCookie)
	if raw == "" {
		h.cookies.Clear(w)
		middleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := h.auth.Refresh(r.Context(), raw, clientMeta(r))
	if err != nil {
		h.cookies.Clear(w)
		if !errors.Is(err, service.ErrRefreshRejected) {
			h.internal(w, r, "refresh", err)
			return
		}
		reason := service.RefreshReason(err)
		if errors.Is(err, service.ErrRefreshReuse) {
			h.logger.Warn("security: refresh token reuse", "reason", reason, "client_ip", middleware.ClientIP(r))
		} else {
			h.logger.Info("auth: refresh rejected", "reason", reason)
		}
		if rerr := h.auth.RejectRefresh(r.Context(), raw); rerr != nil {
			h.logger.Error("auth: reject refresh failed", "err", rerr)
		}
		middleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.setTokens(w, res)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "token refreshed"})
}

// Me handles GET /me. Unauthenticated callers get {"user": null}.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		middleware.WriteJSON(w, http.StatusOK, userResponse{})
		return
	}
	u, err := h.auth.Me(r.Context(), userID)
	if errors.Is(err, service.ErrUserNotFound) {
		middleware.WriteJSON(w, http.StatusOK, userResponse{})
		return
	}
	if err != nil {
		h.internal(w, r, "me", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, userResponse{User: u})
}

type csrfResponse struct {
	Token string `json:"csrf_token"`
}

// CSRFToken handles GET /csrf: issues a fresh double-submit token.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	tok, err := middleware.NewCSRFToken()
	if err != nil {
		h.internal(w, r, "csrf", err)
		return
	}
	h.cookies.SetCSRF(w, tok, csrfTTL)
	middleware.WriteJSON(w, http.StatusOK, csrfResponse{Token: tok})
}

func (h *AuthHandler) setTokens(w http.ResponseWriter, res *service.AuthResult) {
	h.cookies.SetTokens(w, res.AccessToken, h.auth.AccessTTL(), res.RefreshToken, h.auth.RefreshTTL())
}

func (h *AuthHandler) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("auth: "+op+" failed", "path", r.URL.Path, "err", err)
	middleware.WriteError(w, http.StatusInternalServerError, "internal_error")
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_body")
		return false
	}
	return true
}

func clientMeta(r *http.Request) service.ClientMeta {
	return service.ClientMeta{UserAgent: r.UserAgent(), IPAddress: middleware.ClientIP(r)}
}
