package middleware

import (
	"net/http"
	"time"
)

// Cookie names shared by the auth and session handlers.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
	CSRFCookie    = "csrf_token"
)

// Cookies writes the auth cookies. Secure is set in production.
type Cookies struct {
	Secure bool
}

// SetTokens sets both token cookies, each living as long as its token.
func (c Cookies) SetTokens(w http.ResponseWriter, access string, accessTTL time.Duration, refresh string, refreshTTL time.Duration) {
	http.SetCookie(w, c.cookie(AccessCookie, access, accessTTL, true))
	http.SetCookie(w, c.cookie(RefreshCookie, refresh, refreshTTL, true))
}

// Clear expires both token cookies.
func (c Cookies) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ck := c.cookie(name, "", 0, true)
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}

// SetCSRF sets the CSRF cookie. It stays readable by scripts so they can echo it.
func (c Cookies) SetCSRF(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, c.cookie(CSRFCookie, token, ttl, false))
}

func (c Cookies) cookie(name, value string, ttl time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// CookieValue returns the named cookie's value, or "".
func CookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
