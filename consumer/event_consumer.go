package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"search-sync/domain"
	"search-sync/driver"
)

// Event represents a record change event from the event stream.
type Event struct {
	// MessageID is the Redis Stream message ID.
	MessageID string
	EventID   string
	EventType string
	// Source is the service that produced the event.
	Source    string
	CreatedAt time.Time
	Payload   json.RawMessage
	Metadata  map[string]string
}

// EventHandler processes events from the stream.
type EventHandler interface {
	HandleEvent(ctx context.Context, event Event) error
}

// EventStream is the Redis Streams surface the event consumer reads.
type EventStream interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]driver.StreamMessage, error)
	Ack(ctx context.Context, stream, group, id string) error
}

// EventConsumer turns record change events into index and delete jobs.
type EventConsumer struct {
	stream  EventStream
	config  Config
	handler EventHandler
	logger  *slog.Logger
}

func NewEventConsumer(stream EventStream, config Config, handler EventHandler, logger *slog.Logger) *EventConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventConsumer{
		stream:  stream,
		config:  config,
		handler: handler,
		logger:  logger,
	}
}

// IsEnabled returns true if the consumer is enabled.
func (c *EventConsumer) IsEnabled() bool {
	return c.config.EventsEnabled
}

// Run consumes events until ctx is cancelled.
func (c *EventConsumer) Run(ctx context.Context) error {
	if !c.config.EventsEnabled {
		c.logger.Info("event consumer disabled, not starting")
		return nil
	}
	if err := c.stream.EnsureGroup(ctx, c.config.EventStreamKey, c.config.GroupName); err != nil {
		return err
	}

	c.logger.Info("starting event consumer",
		"stream", c.config.EventStreamKey,
		"group", c.config.GroupName,
		"consumer", c.config.ConsumerName,
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event consumer context cancelled, stopping")
			return nil
		default:
			if _, err := c.ReadAndProcess(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("error processing events", "error", err)
				sleep(ctx, time.Second)
			}
		}
	}
}

// ReadAndProcess reads one batch and returns how many events were acknowledged.
func (c *EventConsumer) ReadAndProcess(ctx context.Context) (int, error) {
	msgs, err := c.stream.Read(ctx, c.config.EventStreamKey, c.config.GroupName, c.config.ConsumerName, c.config.BatchSize, c.config.BlockTimeout)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, msg := range msgs {
		event := parseEvent(msg)

		if err := c.handler.HandleEvent(ctx, event); err != nil {
			c.logger.Error("failed to process event",
				"message_id", msg.ID,
				"event_type", event.EventType,
				"error", err,
			)
			// Transient failures stay pending and are retried.
			if !errors.Is(err, domain.ErrPermanent) {
				continue
			}
		}

		if err := c.stream.Ack(ctx, c.config.EventStreamKey, c.config.GroupName, msg.ID); err != nil {
			c.logger.Error("failed to acknowledge message",
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}
		acked++
	}
	return acked, nil
}

func parseEvent(msg driver.StreamMessage) Event {
	event := Event{
		MessageID: msg.ID,
		EventID:   msg.Values["event_id"],
		EventType: msg.Values["event_type"],
		Source:    msg.Values["source"],
		Metadata:  make(map[string]string),
	}
	if v := msg.Values["created_at"]; v != "" {
		event.CreatedAt, _ = time.Parse(time.RFC3339, v)
	}
	if v := msg.Values["payload"]; v != "" {
		event.Payload = json.RawMessage(v)
	}
	if v := msg.Values["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &event.Metadata)
	}
	return event
}
