package jobs

import (
	"context"
	"log"
	"time"

	"github.com/eventpass/server/internal/config"
)

// SessionSweeper deletes expired or revoked sessions
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// StartSessionSweepJob runs sweeper on every tick until ctx is done
func StartSessionSweepJob(ctx context.Context, cfg *config.Config, sweeper SessionSweeper) {
	if sweeper == nil {
		log.Printf("session sweep job disabled: sweeper not configured")
		return
	}
	interval := cfg.SessionSweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.SessionSweepTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				n, err := sweeper.SweepExpired(tickCtx)
				cancel()
				if err != nil {
					log.Printf("session sweep job error: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("session sweep job removed %d sessions", n)
				}
			}
		}
	}()
}
