// Package housekeeping removes refresh sessions that can no longer be used.
// Expired rows are already rejected at reissue time; sweeping only keeps the
// table small.
package housekeeping

import (
	"context"
	"log/slog"
	"time"

	"github.com/Skotchmaster/member_auth/internal/metrics"
)

type ExpiredSessionDeleter interface {
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

type Sweeper struct {
	sessions ExpiredSessionDeleter
	logger   *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

func NewSweeper(sessions ExpiredSessionDeleter, logger *slog.Logger, m *metrics.Collector) *Sweeper {
	return &Sweeper{sessions: sessions, logger: logger, metrics: m, now: time.Now}
}

// Start sweeps once immediately, then every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("session_sweeper_started", "interval", interval.String())
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session_sweeper_stopped")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Sweeper) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("session_sweep_failed", "error", err)
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.metrics.RecordSwept(n)
	if n > 0 {
		s.logger.Info("expired_sessions_swept", "count", n)
	}
	return n, nil
}
