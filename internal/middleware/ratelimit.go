package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/eventpass/server/internal/ratelimit"
)

// RateLimitResponse is the body written when a limit is exceeded
type RateLimitResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
	Remaining  int    `json:"remaining"`
}

// RateLimitMiddleware counts every request against keyFunc(r) and answers 429 once the
// limit is exceeded
func RateLimitMiddleware(limiter ratelimit.Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(r.Context(), keyFunc(r))
			SetRateLimitHeaders(w, res)
			if !res.Allowed {
				WriteRateLimited(w, res, "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for res
func SetRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	if res.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
}

// WriteRateLimited writes the 429 response for a denied check
func WriteRateLimited(w http.ResponseWriter, res ratelimit.Result, message string) {
	retryAfter := res.RetryAfter(time.Now())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(RateLimitResponse{
		Success:    false,
		Error:      message,
		RetryAfter: retryAfter,
		Remaining:  res.Remaining,
	})
}

// ClientIP returns the host part of RemoteAddr. Forwarding headers are only honoured through
// TrustedRealIP, which rewrites RemoteAddr for requests arriving from a trusted proxy.
func ClientIP(r *http.Request) string {
	return hostOnly(r.RemoteAddr)
}

// GetIPKey extracts IP address from request for rate limiting
func GetIPKey(r *http.Request) string {
	return "ip:" + ClientIP(r)
}
