package consumer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"search-sync/gateway"
)

// DeliverySource reads and acknowledges queue deliveries.
type DeliverySource interface {
	Read(ctx context.Context, queue, consumer string, count int64, block time.Duration) ([]gateway.Delivery, error)
	ClaimStale(ctx context.Context, queue, consumer string, minIdle time.Duration, count int64) ([]gateway.Delivery, error)
	Touch(ctx context.Context, queue, consumer, messageID string) error
	Ack(ctx context.Context, queue, messageID string) error
}

// Worker consumes one queue and hands every delivery to the dispatcher.
type Worker struct {
	queue      string
	source     DeliverySource
	dispatcher *Dispatcher
	config     Config
	logger     *slog.Logger
}

func NewWorker(queue string, source DeliverySource, dispatcher *Dispatcher, config Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:      queue,
		source:     source,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.With("queue", queue, "consumer", config.ConsumerName),
	}
}

// Run works the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		default:
		}

		if paused, wait := w.dispatcher.Paused(w.queue); paused {
			w.logger.Warn("queue paused by exception breaker", "resume_in", wait)
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("error processing queue", "error", err)
			sleep(ctx, time.Second)
		}
	}
}

// Poll processes stale deliveries first, then at most one new one, and
// returns how many deliveries it handled.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	stale, err := w.source.ClaimStale(ctx, w.queue, w.config.ConsumerName, w.config.ClaimIdleTime, w.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(stale) > 0 {
		w.logger.Info("claimed stale deliveries", "count", len(stale))
		return w.process(ctx, stale), nil
	}

	// One delivery per read so throttled work stays in the stream for others.
	fresh, err := w.source.Read(ctx, w.queue, w.config.ConsumerName, 1, w.config.BlockTimeout)
	if err != nil {
		return 0, err
	}
	return w.process(ctx, fresh), nil
}

func (w *Worker) process(ctx context.Context, deliveries []gateway.Delivery) int {
	n := 0
	for i, d := range deliveries {
		if ctx.Err() != nil {
			break
		}
		n++
		if d.Err != nil {
			w.logger.Error("dropping undecodable delivery", "message_id", d.MessageID, "error", d.Err)
			w.ack(ctx, d)
			continue
		}

		stop := w.keepAlive(ctx, deliveries[i:])
		outcome, err := w.dispatcher.Dispatch(ctx, d.Envelope)
		stop()
		if err != nil {
			// Left pending; ClaimStale hands it out again.
			w.logger.Error("delivery not moved on", "message_id", d.MessageID, "outcome", outcome, "error", err)
			continue
		}
		w.ack(ctx, d)
	}
	return n
}

// keepAlive touches the pending deliveries every third of ClaimIdleTime
// until the returned func is called, so a job that outlives the claim idle
// time is not handed to a second worker while it still runs.
func (w *Worker) keepAlive(ctx context.Context, pending []gateway.Delivery) func() {
	interval := w.config.ClaimIdleTime / 3
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, d := range pending {
					if err := w.source.Touch(ctx, w.queue, w.config.ConsumerName, d.MessageID); err != nil && ctx.Err() == nil {
						w.logger.Warn("failed to extend delivery ownership", "message_id", d.MessageID, "error", err)
					}
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (w *Worker) ack(ctx context.Context, d gateway.Delivery) {
	if err := w.source.Ack(context.WithoutCancel(ctx), w.queue, d.MessageID); err != nil {
		w.logger.Error("failed to acknowledge message", "message_id", d.MessageID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
