package driver

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamMessage is one entry read from a stream.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// RedisStreamDriver carries jobs over Redis Streams, with a sorted set for
// delayed delivery.
type RedisStreamDriver struct {
	client *redis.Client
}

func NewRedisStreamDriver(client *redis.Client) *RedisStreamDriver {
	return &RedisStreamDriver{client: client}
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (d *RedisStreamDriver) EnsureGroup(ctx context.Context, stream, group string) error {
	err := d.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	return nil
}

// Add appends values to stream and returns the entry ID.
func (d *RedisStreamDriver) Add(ctx context.Context, stream string, values map[string]any) (string, error) {
	return d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
}

// Read returns up to count new entries for consumer, blocking up to block.
// A negative block returns immediately; zero blocks until an entry arrives.
func (d *RedisStreamDriver) Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []StreamMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, toStreamMessage(m))
		}
	}
	return out, nil
}

// ClaimIdle takes over entries another consumer read but never acknowledged.
func (d *RedisStreamDriver) ClaimIdle(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	msgs, _, err := d.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]StreamMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toStreamMessage(m))
	}
	return out, nil
}

// Touch re-claims ids for consumer without delivering them again, which
// resets their idle time. XCLAIM JUSTID leaves the delivery count alone.
func (d *RedisStreamDriver) Touch(ctx context.Context, stream, group, consumer string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return d.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  0,
		Messages: ids,
	}).Err()
}

func (d *RedisStreamDriver) Ack(ctx context.Context, stream, group, id string) error {
	return d.client.XAck(ctx, stream, group, id).Err()
}

func (d *RedisStreamDriver) Len(ctx context.Context, stream string) (int64, error) {
	return d.client.XLen(ctx, stream).Result()
}

// Schedule stores member in the delayed set, due at.
func (d *RedisStreamDriver) Schedule(ctx context.Context, set, member string, at time.Time) error {
	return d.client.ZAdd(ctx, set, redis.Z{Score: float64(at.UnixMilli()), Member: member}).Err()
}

// PopDue removes and returns up to limit members due by now. A member is only
// returned to the caller whose ZREM removed it.
func (d *RedisStreamDriver) PopDue(ctx context.Context, set string, now time.Time, limit int64) ([]string, error) {
	members, err := d.client.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	var due []string
	for _, m := range members {
		removed, err := d.client.ZRem(ctx, set, m).Result()
		if err != nil {
			return due, err
		}
		if removed == 1 {
			due = append(due, m)
		}
	}
	return due, nil
}

func toStreamMessage(m redis.XMessage) StreamMessage {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}
	return StreamMessage{ID: m.ID, Values: values}
}
