package driver

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes every key when the first one still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", unpack(KEYS))
end
return -1
`)

// RedisDriver holds the coordination keys: epochs, locks and window counters.
type RedisDriver struct {
	client *redis.Client
}

func NewRedisDriver(client *redis.Client) *RedisDriver {
	return &RedisDriver{client: client}
}

// NewRedisDriverWithURL creates a driver from a redis:// URL.
func NewRedisDriverWithURL(url string) (*RedisDriver, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, &DriverError{Op: "NewRedisDriverWithURL", Err: "failed to parse redis URL: " + err.Error()}
	}
	return &RedisDriver{client: redis.NewClient(opts)}, nil
}

// Client exposes the underlying client so the stream driver can share the pool.
func (d *RedisDriver) Client() *redis.Client {
	return d.client
}

func (d *RedisDriver) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *RedisDriver) Close() error {
	return d.client.Close()
}

// Get returns the value at key and whether it exists.
func (d *RedisDriver) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// MGet returns values for keys; missing keys are "".
func (d *RedisDriver) MGet(ctx context.Context, keys ...string) ([]string, error) {
	vals, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}

// Set stores value without expiry.
func (d *RedisDriver) Set(ctx context.Context, key, value string) error {
	return d.client.Set(ctx, key, value, 0).Err()
}

// Del removes keys; missing keys are ignored.
func (d *RedisDriver) Del(ctx context.Context, keys ...string) error {
	return d.client.Del(ctx, keys...).Err()
}

// SetNX stores value with ttl only when key is absent.
func (d *RedisDriver) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, key, value, ttl).Result()
}

// DelIfEquals deletes key, along with any also keys, when the value of key
// is value. The check and the delete are atomic.
func (d *RedisDriver) DelIfEquals(ctx context.Context, key, value string, also ...string) (bool, error) {
	keys := append([]string{key}, also...)
	n, err := releaseScript.Run(ctx, d.client, keys, value).Int64()
	if err != nil {
		return false, err
	}
	return n >= 1, nil
}

// IncrWindow increments a counter that expires window after its first hit.
func (d *RedisDriver) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := d.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := d.client.Expire(ctx, key, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}
