package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"search-sync/domain"
	"search-sync/logger"
	"search-sync/utils/breaker"
	otelmetrics "search-sync/utils/otel"
	"search-sync/utils/ratelimit"
)

// Handler runs one job.
type Handler interface {
	Handle(ctx context.Context, job domain.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job domain.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job domain.Job) error { return f(ctx, job) }

// Requeuer is the queue surface the dispatcher needs to move work on.
type Requeuer interface {
	Publish(ctx context.Context, env domain.Envelope) error
	Schedule(ctx context.Context, env domain.Envelope, at time.Time) error
	DeadLetter(ctx context.Context, queue string, env domain.Envelope, reason string) error
}

// Throttle decides whether a queue may start another job.
type Throttle interface {
	Allow(ctx context.Context, queue string) (ratelimit.Decision, error)
}

// Outcome is what Dispatch did with an envelope.
type Outcome string

const (
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeAdvanced      Outcome = "advanced"
	OutcomeRetrying      Outcome = "retrying"
	OutcomeFailed        Outcome = "failed"
	OutcomeRejected      Outcome = "rejected"
	OutcomeThrottled     Outcome = "throttled"
	OutcomeUndeliverable Outcome = "undeliverable"
)

// Dispatcher runs envelopes under their job policy: timeout, retries with
// backoff, the exception breaker, rate limits and chain progression.
type Dispatcher struct {
	queue   Requeuer
	breaker *breaker.ExceptionBreaker
	limiter Throttle
	tracer  trace.Tracer
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[domain.JobType]Handler
}

// NewDispatcher creates a dispatcher. brk and limiter may be nil.
func NewDispatcher(queue Requeuer, brk *breaker.ExceptionBreaker, limiter Throttle) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		breaker:  brk,
		limiter:  limiter,
		tracer:   otel.Tracer("search-sync"),
		now:      time.Now,
		handlers: make(map[domain.JobType]Handler),
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) Register(t domain.JobType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

func (d *Dispatcher) handler(t domain.JobType) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[t]
	return h, ok
}

// Paused reports whether the breaker holds queue closed, and for how long.
func (d *Dispatcher) Paused(queue string) (bool, time.Duration) {
	if d.breaker == nil {
		return false, 0
	}
	ok, wait := d.breaker.Allow(queue)
	return !ok, wait
}

// Dispatch runs the current unit of env. A returned error means the envelope
// could not be moved on and must stay unacknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, env domain.Envelope) (Outcome, error) {
	queue := env.Queue()
	job, ok := env.Unit()
	if !ok {
		return OutcomeUndeliverable, d.queue.DeadLetter(ctx, queue, env, "envelope carries no job")
	}

	chainID := ""
	if env.Chain != nil {
		chainID = env.Chain.ID
	}
	ctx = logger.WithJob(ctx, job.ID, string(job.Type), chainID)
	log := logger.FromContext(ctx)

	if paused, wait := d.Paused(queue); paused {
		otelmetrics.Metrics.Throttled(ctx, queue, "breaker")
		return OutcomeThrottled, d.queue.Schedule(ctx, env, d.now().Add(wait))
	}
	if d.limiter != nil {
		dec, err := d.limiter.Allow(ctx, queue)
		if err != nil {
			log.Warn("rate limiter unavailable, admitting job", "error", err)
		}
		if !dec.Allowed && err == nil {
			otelmetrics.Metrics.Throttled(ctx, queue, dec.Scope)
			log.Debug("job throttled", "scope", dec.Scope, "retry_after", dec.RetryAfter)
			return OutcomeThrottled, d.queue.Schedule(ctx, env, d.now().Add(dec.RetryAfter))
		}
	}

	h, ok := d.handler(job.Type)
	if !ok {
		log.Error("no handler for job type")
		return OutcomeUndeliverable, d.queue.DeadLetter(ctx, queue, env, fmt.Sprintf("no handler for %s", job.Type))
	}

	err := d.run(ctx, h, job)
	switch {
	case err == nil:
		return d.succeed(ctx, env)
	case errors.Is(err, domain.ErrReindexInFlight) && env.Chain == nil:
		log.Info("job rejected", "reason", err.Error())
		return OutcomeRejected, nil
	default:
		return d.fail(ctx, queue, env, job, err)
	}
}

func (d *Dispatcher) run(ctx context.Context, h Handler, job domain.Job) (err error) {
	policy := domain.PolicyFor(job.Type)
	ctx, span := d.tracer.Start(ctx, "job "+string(job.Type), trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.queue", policy.Queue),
		attribute.Int("job.attempt", job.Attempt+1),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = domain.Permanent(fmt.Errorf("job panicked: %v", r))
		}
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		otelmetrics.Metrics.ObserveJob(ctx, string(job.Type), status, time.Since(start))
	}()

	return h.Handle(ctx, job)
}

func (d *Dispatcher) succeed(ctx context.Context, env domain.Envelope) (Outcome, error) {
	if env.Chain == nil {
		return OutcomeSucceeded, nil
	}
	next := *env.Chain
	if !next.Advance() {
		logger.FromContext(ctx).Info("chain completed", "steps", len(next.Steps))
		return OutcomeSucceeded, nil
	}
	if err := d.queue.Publish(ctx, domain.Envelope{Chain: &next}); err != nil {
		return OutcomeAdvanced, fmt.Errorf("advance chain %s: %w", next.ID, err)
	}
	return OutcomeAdvanced, nil
}

func (d *Dispatcher) fail(ctx context.Context, queue string, env domain.Envelope, job domain.Job, cause error) (Outcome, error) {
	log := logger.FromContext(ctx)
	policy := domain.PolicyFor(job.Type)

	if d.breaker != nil && d.breaker.Record(queue) {
		log.Warn("exception breaker tripped, pausing queue", "queue", queue)
	}

	attempt := job.Attempt + 1
	if domain.IsRetryable(cause) && attempt < policy.Tries {
		delay := policy.Delay(attempt)
		log.Warn("job failed, retrying", "attempt", attempt, "max_tries", policy.Tries, "delay", delay, "error", cause)
		if err := d.queue.Schedule(ctx, env.WithAttempt(attempt), d.now().Add(delay)); err != nil {
			return OutcomeRetrying, fmt.Errorf("schedule retry: %w", err)
		}
		return OutcomeRetrying, nil
	}

	log.Error("job failed", "attempt", attempt, "error", cause)
	if err := d.queue.DeadLetter(ctx, queue, env, cause.Error()); err != nil {
		return OutcomeFailed, fmt.Errorf("dead-letter: %w", err)
	}
	if env.Chain != nil && env.Chain.OnFailure != nil {
		onFailure := *env.Chain.OnFailure
		if err := d.queue.Publish(ctx, domain.Envelope{Job: &onFailure}); err != nil {
			return OutcomeFailed, fmt.Errorf("publish failure handler of chain %s: %w", env.Chain.ID, err)
		}
	}
	return OutcomeFailed, nil
}
