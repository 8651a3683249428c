package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Pruner drops conversation memory older than a cutoff.
type Pruner interface {
	PruneMessages(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically prunes stale memory and beats the health heartbeat.
// With a zero TTL (Redis expires memory itself) it only beats.
type Sweeper struct {
	Pruner    Pruner
	TTL       time.Duration
	Interval  time.Duration
	Clock     clockwork.Clock
	Log       *slog.Logger
	Heartbeat func()
}

func NewSweeper(p Pruner, ttl time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		Pruner:   p,
		TTL:      ttl,
		Interval: 30 * time.Second,
		Clock:    clockwork.NewRealClock(),
		Log:      log,
	}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := s.Clock.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Log.Info("memory sweeper started", "ttl", s.TTL, "interval", s.Interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if s.Heartbeat != nil {
		s.Heartbeat()
	}
	if s.TTL <= 0 {
		return
	}
	cutoff := s.Clock.Now().Add(-s.TTL)
	n, err := s.Pruner.PruneMessages(ctx, cutoff)
	if err != nil {
		s.Log.Warn("failed to prune conversation memory", "error", err)
		return
	}
	if n > 0 {
		s.Log.Info("pruned conversation memory", "messages", n, "cutoff", cutoff)
	}
}
