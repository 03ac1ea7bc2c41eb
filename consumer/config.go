// Package consumer runs the job workers and the record event consumer.
package consumer

import (
	"os"
	"strconv"
	"time"

	"search-sync/domain"
)

// Config holds worker and event consumer configuration.
type Config struct {
	// GroupName is the consumer group shared by all workers.
	GroupName string
	// ConsumerName is this process's name within the group.
	ConsumerName string
	// Queues are the job queues this process works.
	Queues []string
	// BatchSize bounds how many stale deliveries are claimed at once.
	BatchSize int64
	// BlockTimeout is how long a read waits for new messages.
	BlockTimeout time.Duration
	// ClaimIdleTime is how long a delivery may go untouched before another
	// worker takes it over. A running job touches its delivery every third
	// of this, so only deliveries of dead workers go idle.
	ClaimIdleTime time.Duration
	// PromoteInterval is how often delayed retries are moved back to their queues.
	PromoteInterval time.Duration
	// EventStreamKey is the stream the record event consumer reads.
	EventStreamKey string
	// EventsEnabled turns the record event consumer on.
	EventsEnabled bool
}

func DefaultConfig() Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return Config{
		GroupName:       "search-sync-workers",
		ConsumerName:    "search-sync-" + host,
		Queues:          []string{domain.QueueDocuments, domain.QueueBulk, domain.QueueReindex},
		BatchSize:       10,
		BlockTimeout:    5 * time.Second,
		ClaimIdleTime:   time.Minute,
		PromoteInterval: time.Second,
		EventStreamKey:  "search-sync:events",
		EventsEnabled:   false,
	}
}

// ConfigFromEnv loads consumer configuration from environment variables.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("CONSUMER_GROUP"); v != "" {
		cfg.GroupName = v
	}
	if v := os.Getenv("CONSUMER_NAME"); v != "" {
		cfg.ConsumerName = v
	}
	if v := os.Getenv("CONSUMER_BATCH_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("CONSUMER_BLOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BlockTimeout = d
		}
	}
	if v := os.Getenv("CONSUMER_CLAIM_IDLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ClaimIdleTime = d
		}
	}
	if v := os.Getenv("EVENTS_STREAM_KEY"); v != "" {
		cfg.EventStreamKey = v
	}
	if v := os.Getenv("EVENTS_ENABLED"); v != "" {
		cfg.EventsEnabled = v == "true" || v == "1"
	}

	return cfg
}
