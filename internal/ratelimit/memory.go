package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter is a fixed-window limiter for a single process. It is used when Redis is unavailable.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	cfg     Config
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryLimiter creates an in-process limiter and starts its cleanup goroutine
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		cfg:     cfg.normalized(),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Check counts one attempt for key
func (l *MemoryLimiter) Check(_ context.Context, key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(l.cfg.Window)}
		l.windows[key] = w
	}
	w.count++

	return Result{
		Allowed:   w.count <= int64(l.cfg.Limit),
		Limit:     l.cfg.Limit,
		Remaining: remaining(l.cfg.Limit, w.count),
		ResetAt:   w.resetAt,
	}
}

// Close stops the cleanup goroutine
func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// cleanup periodically removes expired windows to prevent memory leaks
func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(l.cfg.Window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.windows {
				if now.After(w.resetAt) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
