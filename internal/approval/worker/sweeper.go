package worker

import (
	"context"
	"log/slog"
	"time"
)

// Expirer flips lapsed requests to expired.
type Expirer interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically expires approval requests whose deadline has passed,
// so stale requests do not wait for the next caller to notice.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewSweeper(expirer Expirer, interval time.Duration, batch int, logger *slog.Logger) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{expirer: expirer, interval: interval, batch: batch, logger: logger}
}

// Run sweeps every interval until ctx is cancelled. Sweep failures are logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepOnce drains lapsed requests in batches until a batch comes back short.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.expirer.SweepExpired(ctx, s.batch)
		total += n
		if err != nil {
			s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err, "expired", total)
			return total
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.InfoContext(ctx, "expiry sweep completed", "expired", total)
	}
	return total
}
