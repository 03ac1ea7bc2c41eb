package consumer

import (
	"context"
	"log/slog"
	"time"
)

// DelayedQueue moves due retries back to their queues.
type DelayedQueue interface {
	PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error)
}

// Promoter periodically releases delayed envelopes.
type Promoter struct {
	queue    DelayedQueue
	interval time.Duration
	batch    int64
	logger   *slog.Logger
}

func NewPromoter(queue DelayedQueue, interval time.Duration, logger *slog.Logger) *Promoter {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{queue: queue, interval: interval, batch: 100, logger: logger}
}

func (p *Promoter) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := p.PromoteOnce(ctx, now); err != nil && ctx.Err() == nil {
				p.logger.Error("failed to promote delayed jobs", "error", err)
			}
		}
	}
}

// PromoteOnce drains everything due at now.
func (p *Promoter) PromoteOnce(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		n, err := p.queue.PromoteDue(ctx, now, p.batch)
		total += n
		if err != nil || int64(n) < p.batch {
			if total > 0 {
				p.logger.Debug("promoted delayed jobs", "count", total)
			}
			return total, err
		}
	}
}
