package handlers

import (
	"net/http"
	"time"

	"github.com/eventpass/server/internal/middleware"
)

// CookieConfig controls the attributes of the session cookies
type CookieConfig struct {
	Secure       bool
	SameSiteNone bool
}

func (c CookieConfig) cookie(name, value string, expires time.Time) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if c.SameSiteNone {
		sameSite = http.SameSiteNoneMode
	}
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite,
	}
}

func (c CookieConfig) setAccess(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, c.cookie(middleware.AccessTokenCookie, token, expires))
}

func (c CookieConfig) setRefresh(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, c.cookie(middleware.RefreshTokenCookie, token, expires))
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	for _, name := range []string{middleware.AccessTokenCookie, middleware.RefreshTokenCookie} {
		ck := c.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}
