package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"search-sync/domain"
	"search-sync/driver"
)

// QueueDelayed names the delayed set in dead-letter keys.
const QueueDelayed = "delayed"

const (
	streamPrefix    = "search-sync:queue:"
	delayedSetKey   = "search-sync:queue:delayed"
	envelopeField   = "envelope"
	deadReasonField = "reason"
)

// StreamKey is the Redis stream carrying queue.
func StreamKey(queue string) string {
	return streamPrefix + queue
}

// DeadLetterKey is the stream collecting terminal failures of queue.
func DeadLetterKey(queue string) string {
	return StreamKey(queue) + ":dead"
}

// DelayedSetKey is the sorted set holding envelopes scheduled for later.
func DelayedSetKey() string {
	return delayedSetKey
}

// StreamDriver is the Redis Streams surface used by the queue.
type StreamDriver interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Add(ctx context.Context, stream string, values map[string]any) (string, error)
	Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]driver.StreamMessage, error)
	ClaimIdle(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]driver.StreamMessage, error)
	Touch(ctx context.Context, stream, group, consumer string, ids ...string) error
	Ack(ctx context.Context, stream, group, id string) error
	Schedule(ctx context.Context, set, member string, at time.Time) error
	PopDue(ctx context.Context, set string, now time.Time, limit int64) ([]string, error)
}

// Delivery is one envelope read from a queue. Err is set when the entry
// could not be decoded; it must still be acknowledged.
type Delivery struct {
	MessageID string
	Queue     string
	Envelope  domain.Envelope
	Err       error
}

// JobQueueGateway implements port.JobQueue over Redis Streams. A chain is a
// single message routed to the queue of its current step.
type JobQueueGateway struct {
	driver StreamDriver
	group  string
}

func NewJobQueueGateway(driver StreamDriver, group string) *JobQueueGateway {
	return &JobQueueGateway{driver: driver, group: group}
}

// EnsureGroups creates the consumer group on every queue stream.
func (g *JobQueueGateway) EnsureGroups(ctx context.Context, queues ...string) error {
	for _, q := range queues {
		if err := g.driver.EnsureGroup(ctx, StreamKey(q), g.group); err != nil {
			return &domain.RepositoryError{Op: "EnsureGroups", Err: q + ": " + err.Error()}
		}
	}
	return nil
}

func (g *JobQueueGateway) Enqueue(ctx context.Context, job domain.Job) error {
	return g.Publish(ctx, domain.Envelope{Job: &job})
}

func (g *JobQueueGateway) SubmitChain(ctx context.Context, chain domain.Chain) error {
	if _, ok := chain.Current(); !ok {
		return errors.New("chain has no step to run")
	}
	return g.Publish(ctx, domain.Envelope{Chain: &chain})
}

// Publish sends env to the queue of its current unit.
func (g *JobQueueGateway) Publish(ctx context.Context, env domain.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if _, err := g.driver.Add(ctx, StreamKey(env.Queue()), map[string]any{envelopeField: string(body)}); err != nil {
		return &domain.RepositoryError{Op: "Publish", Err: err.Error()}
	}
	return nil
}

// Schedule publishes env once at has passed.
func (g *JobQueueGateway) Schedule(ctx context.Context, env domain.Envelope, at time.Time) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := g.driver.Schedule(ctx, delayedSetKey, string(body), at); err != nil {
		return &domain.RepositoryError{Op: "Schedule", Err: err.Error()}
	}
	return nil
}

// PromoteDue moves up to limit scheduled envelopes that are due into their
// queues and returns how many moved. Popped members are never dropped: an
// undecodable one goes to the delayed dead-letter stream, and when a publish
// fails every member not yet published is scheduled again.
func (g *JobQueueGateway) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	members, err := g.driver.PopDue(ctx, delayedSetKey, now, limit)
	if err != nil {
		return 0, &domain.RepositoryError{Op: "PromoteDue", Err: err.Error()}
	}

	moved := 0
	var errs []error
	for i, m := range members {
		var env domain.Envelope
		if err := json.Unmarshal([]byte(m), &env); err != nil {
			errs = append(errs, fmt.Errorf("decode delayed envelope: %w", err))
			if _, dlErr := g.driver.Add(ctx, DeadLetterKey(QueueDelayed), map[string]any{
				envelopeField:   m,
				deadReasonField: err.Error(),
			}); dlErr != nil {
				errs = append(errs, g.reschedule(ctx, members[i:i+1], now))
			}
			continue
		}
		if err := g.Publish(ctx, env); err != nil {
			errs = append(errs, err, g.reschedule(ctx, members[i:], now))
			return moved, errors.Join(errs...)
		}
		moved++
	}
	return moved, errors.Join(errs...)
}

func (g *JobQueueGateway) reschedule(ctx context.Context, members []string, at time.Time) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, m := range members {
		if err := g.driver.Schedule(ctx, delayedSetKey, m, at); err != nil {
			errs = append(errs, &domain.RepositoryError{Op: "PromoteDue", Err: "reschedule: " + err.Error()})
		}
	}
	return errors.Join(errs...)
}

// DeadLetter records env and reason on the queue's dead-letter stream.
func (g *JobQueueGateway) DeadLetter(ctx context.Context, queue string, env domain.Envelope, reason string) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = g.driver.Add(ctx, DeadLetterKey(queue), map[string]any{
		envelopeField:   string(body),
		deadReasonField: reason,
	})
	if err != nil {
		return &domain.RepositoryError{Op: "DeadLetter", Err: err.Error()}
	}
	return nil
}

// Read returns new deliveries on queue for consumer.
func (g *JobQueueGateway) Read(ctx context.Context, queue, consumer string, count int64, block time.Duration) ([]Delivery, error) {
	msgs, err := g.driver.Read(ctx, StreamKey(queue), g.group, consumer, count, block)
	if err != nil {
		return nil, &domain.RepositoryError{Op: "Read", Err: err.Error()}
	}
	return toDeliveries(queue, msgs), nil
}

// ClaimStale takes over deliveries left unacknowledged for minIdle, such as
// those of a worker that died mid-job.
func (g *JobQueueGateway) ClaimStale(ctx context.Context, queue, consumer string, minIdle time.Duration, count int64) ([]Delivery, error) {
	msgs, err := g.driver.ClaimIdle(ctx, StreamKey(queue), g.group, consumer, minIdle, count)
	if err != nil {
		return nil, &domain.RepositoryError{Op: "ClaimStale", Err: err.Error()}
	}
	return toDeliveries(queue, msgs), nil
}

// Touch resets the idle time of a delivery consumer is still working on, so
// ClaimStale does not hand it to another worker.
func (g *JobQueueGateway) Touch(ctx context.Context, queue, consumer, messageID string) error {
	if err := g.driver.Touch(ctx, StreamKey(queue), g.group, consumer, messageID); err != nil {
		return &domain.RepositoryError{Op: "Touch", Err: err.Error()}
	}
	return nil
}

func (g *JobQueueGateway) Ack(ctx context.Context, queue, messageID string) error {
	if err := g.driver.Ack(ctx, StreamKey(queue), g.group, messageID); err != nil {
		return &domain.RepositoryError{Op: "Ack", Err: err.Error()}
	}
	return nil
}

func toDeliveries(queue string, msgs []driver.StreamMessage) []Delivery {
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		d := Delivery{MessageID: m.ID, Queue: queue}
		raw, ok := m.Values[envelopeField]
		if !ok {
			d.Err = fmt.Errorf("message %s has no %s field", m.ID, envelopeField)
		} else if err := json.Unmarshal([]byte(raw), &d.Envelope); err != nil {
			d.Err = fmt.Errorf("decode message %s: %w", m.ID, err)
		}
		out = append(out, d)
	}
	return out
}
