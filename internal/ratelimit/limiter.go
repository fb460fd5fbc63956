// Package ratelimit counts attempts per key in fixed windows backed by a shared counter store.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Result is the outcome of a single Check
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns whole seconds until the window resets, never negative
func (r Result) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Limiter counts one attempt for key and reports whether it is within the limit.
// Implementations never return errors; store failures are logged and the request is allowed.
type Limiter interface {
	Check(ctx context.Context, key string) Result
}

// Config sets the limit and window of a limiter
type Config struct {
	Limit  int
	Window time.Duration
	Prefix string
}

func (c Config) normalized() Config {
	if c.Limit < 1 {
		c.Limit = 1
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Prefix == "" {
		c.Prefix = "rl"
	}
	return c
}

func remaining(limit int, count int64) int {
	r := int64(limit) - count
	if r < 0 {
		return 0
	}
	return int(r)
}

// ExceededError is returned by callers that treat a denied Check as terminal
type ExceededError struct {
	Result Result
}

func (e *ExceededError) Error() string {
	return "rate limit exceeded"
}
