package auth

import (
	"net/http"
	"time"

	"meetline/internal/pkg/auth/jwt"
)

const (
	AccessCookieName  = "accessToken"
	RefreshCookieName = "refreshToken"
)

// SetAuthCookies wraps pair and sets both credential cookies.
func (m *Manager) SetAuthCookies(w http.ResponseWriter, pair Pair) error {
	access, err := m.Wrap(pair.Access)
	if err != nil {
		return err
	}
	refresh, err := m.Wrap(pair.Refresh)
	if err != nil {
		return err
	}

	m.SetAccessCookie(w, access)
	http.SetCookie(w, m.cookie(RefreshCookieName, refresh, jwt.RefreshExpiration))
	return nil
}

// SetAccessCookie sets an already wrapped access credential. The lifetime is
// the access credential lifetime on every path that calls it.
func (m *Manager) SetAccessCookie(w http.ResponseWriter, wrapped string) {
	http.SetCookie(w, m.cookie(AccessCookieName, wrapped, jwt.AccessExpiration))
}

// ClearAuthCookies expires both credential cookies.
func (m *Manager) ClearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		c := m.cookie(name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

// Revoke logs the subject out by clearing its cookies. Issued credentials stay
// cryptographically valid until their own expiry.
func (m *Manager) Revoke(w http.ResponseWriter) {
	m.ClearAuthCookies(w)
}

func (m *Manager) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		Expires:  m.now().Add(ttl),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	}
}
