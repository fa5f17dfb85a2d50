package session

import (
	"context"
	"log/slog"
	"time"
)

const ttlWorkerInterval = 5 * time.Minute

// StartTTLWorker runs a background goroutine that periodically deletes
// sessions idle for longer than ttl. A zero interval selects the default.
func StartTTLWorker(ctx context.Context, m *Manager, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = ttlWorkerInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, m, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, m *Manager, ttl time.Duration) {
	removed, err := m.Expire(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to expire sessions", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("TTL worker removed idle sessions", "count", removed)
	}
}
