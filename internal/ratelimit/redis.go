package ratelimit

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the key and starts its window on the first hit.
// Returns { count, pttl_ms } atomically so concurrent requests never lose an increment.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window_ms = tonumber(ARGV[1])

	local count = redis.call('INCR', key)
	if count == 1 then
		redis.call('PEXPIRE', key, window_ms)
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		redis.call('PEXPIRE', key, window_ms)
		ttl = window_ms
	end

	return { count, ttl }
`)

// RedisLimiter is a fixed-window limiter stored in Redis
type RedisLimiter struct {
	rdb redis.Scripter
	cfg Config
	now func() time.Time
}

// NewRedisLimiter creates a limiter that keeps its counters in rdb
func NewRedisLimiter(rdb redis.Scripter, cfg Config) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, cfg: cfg.normalized(), now: time.Now}
}

// Check counts one attempt for key
func (l *RedisLimiter) Check(ctx context.Context, key string) Result {
	now := l.now()
	fullKey := l.cfg.Prefix + ":" + key

	vals, err := fixedWindowScript.Run(ctx, l.rdb, []string{fullKey}, l.cfg.Window.Milliseconds()).Result()
	if err != nil {
		log.Printf("ratelimit: redis error for key=%s: %v", fullKey, err)
		return l.failOpen(now)
	}

	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 2 {
		log.Printf("ratelimit: unexpected script result for key=%s: %#v", fullKey, vals)
		return l.failOpen(now)
	}
	count := asInt64(arr[0])
	ttl := time.Duration(asInt64(arr[1])) * time.Millisecond

	return Result{
		Allowed:   count <= int64(l.cfg.Limit),
		Limit:     l.cfg.Limit,
		Remaining: remaining(l.cfg.Limit, count),
		ResetAt:   now.Add(ttl),
	}
}

func (l *RedisLimiter) failOpen(now time.Time) Result {
	return Result{Allowed: true, Limit: l.cfg.Limit, Remaining: l.cfg.Limit, ResetAt: now.Add(l.cfg.Window)}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// RedisOptions are the connection settings for NewRedisClient
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// NewRedisClient connects and pings Redis. It returns an error when the server is unreachable so
// callers can fall back to the in-process limiter.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	var tlsConf *tls.Config
	if opts.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      opts.Addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: tlsConf,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}
