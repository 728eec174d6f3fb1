package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
)

// CSRFHeader carries the echoed CSRF token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRF enforces double-submit: unsafe methods must send CSRFHeader equal to the
// csrf_token cookie. Safe methods pass through.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		cookie := CookieValue(r, CSRFCookie)
		header := r.Header.Get(CSRFHeader)
		if cookie == "" || header == "" || subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			WriteError(w, http.StatusForbidden, "invalid_csrf_token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewCSRFToken returns 32 random bytes, base64url encoded.
func NewCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
