package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// CookieName is the HttpOnly cookie that carries the session token.
const CookieName = "token"

// ErrNoToken means the request carried neither the cookie nor a bearer token.
var ErrNoToken = errors.New("auth: no session token")

// TokenFromRequest reads the session token from the cookie, falling back to
// an "Authorization: Bearer" header for non-browser clients.
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok && token != "" {
			return token, nil
		}
	}
	return "", ErrNoToken
}

// SetTokenCookie stores the token in an HttpOnly cookie that expires with it.
func SetTokenCookie(w http.ResponseWriter, r *http.Request, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearTokenCookie expires the cookie in the browser.
func ClearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
