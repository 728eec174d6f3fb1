package middleware

import (
	"net/http"
	"strings"

	"session-lifecycle/backend/internal/security"
)

const bearerPrefix = "bearer "

// AccessVerifier validates access tokens.
type AccessVerifier interface {
	VerifyAccess(token string) (*security.AccessClaims, error)
}

// Authenticate sets the caller's identity in the request context when the request
// carries a valid access token, from the access_token cookie or a Bearer header.
// Requests without one pass through unauthenticated.
func Authenticate(v AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := CookieValue(r, AccessCookie)
			if token == "" {
				token = extractBearer(r)
			}
			if token != "" {
				if claims, err := v.VerifyAccess(token); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), claims.UserID(), claims.Email))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests that Authenticate did not identify with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUserID(r.Context()); !ok {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearer returns the Bearer token of the Authorization header, or "" if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
