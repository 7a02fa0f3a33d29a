package server

import (
	"context"
	"time"

	"github.com/ssd-technologies/arbiter/internal/notify"
)

// deliveredRetention is how long delivered events stay in the outbox.
const deliveredRetention = 24 * time.Hour

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context, n *notify.Notifier, notifyInterval time.Duration) {
	if n != nil {
		go n.Run(ctx, notifyInterval)
	}
	go s.runOutboxPrune(ctx)
	go s.runLimiterCleanup(ctx)
}

// --- Outbox Prune Worker ---

// runOutboxPrune periodically deletes delivered events (every hour).
func (s *Server) runOutboxPrune(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Hour):
			n := s.pruneDelivered(ctx)
			if n > 0 {
				s.log.Info().Int64("events", n).Msg("pruned delivered events")
			}
		}
	}
}

// pruneDelivered removes events delivered before the retention cutoff and
// returns how many were removed.
func (s *Server) pruneDelivered(ctx context.Context) int64 {
	n, err := s.db.PruneDelivered(ctx, s.now().Add(-deliveredRetention))
	if err != nil {
		s.log.Error().Err(err).Msg("prune delivered events")
		return 0
	}
	return n
}

// --- Limiter Cleanup Worker ---

// runLimiterCleanup drops expired rate-limit windows (every minute).
func (s *Server) runLimiterCleanup(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
			s.cleanupLimiters()
		}
	}
}

// cleanupLimiters returns the number of windows dropped.
func (s *Server) cleanupLimiters() int {
	return s.ips.visitors.Cleanup() + s.tiers.cleanup()
}
