package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/meilisearch/meilisearch-go"

	"search-sync/config"
	"search-sync/driver"
	"search-sync/gateway"
	"search-sync/logger"
)

// newRetryBackoff creates the exponential policy used while dependencies start.
func newRetryBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 15 * time.Second
	bo.Multiplier = 2
	return bo
}

// waitFor calls ping until it succeeds, ctx ends, or maxElapsed passes.
func waitFor(ctx context.Context, name string, maxElapsed time.Duration, ping func(ctx context.Context) error) error {
	bo := newRetryBackoff()
	deadline := time.Now().Add(maxElapsed)

	for attempt := 1; ; attempt++ {
		err := ping(ctx)
		if err == nil {
			if attempt > 1 {
				logger.FromContext(ctx).Info("dependency ready", "dependency", name, "attempts", attempt)
			}
			return nil
		}

		delay := bo.NextBackOff()
		if time.Now().Add(delay).After(deadline) {
			return fmt.Errorf("%s not ready after %d attempts: %w", name, attempt, err)
		}
		logger.FromContext(ctx).Warn("dependency not ready, retrying",
			"dependency", name, "attempt", attempt, "retry_in", delay, "err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// initDatabaseDriver connects to PostgreSQL.
func initDatabaseDriver(ctx context.Context, cfg *config.Config) (*driver.DatabaseDriver, error) {
	var db *driver.DatabaseDriver
	err := waitFor(ctx, "postgres", config.ConnectRetryMaxElapsed, func(ctx context.Context) error {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
		defer cancel()
		var err error
		db, err = driver.NewDatabaseDriverFromURL(connectCtx, cfg.Database.BuildPostgresURL())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	return db, nil
}

// initRedisDriver connects to Redis.
func initRedisDriver(ctx context.Context, cfg *config.Config) (*driver.RedisDriver, error) {
	rd, err := driver.NewRedisDriverWithURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	if err := waitFor(ctx, "redis", config.ConnectRetryMaxElapsed, rd.Ping); err != nil {
		_ = rd.Close()
		return nil, fmt.Errorf("redis init: %w", err)
	}
	return rd, nil
}

// initSearchDriver builds the driver selected by SEARCH_BACKEND and waits for
// the engine to answer.
func initSearchDriver(ctx context.Context, cfg *config.Config) (gateway.SearchDriver, func(), error) {
	noop := func() {}

	switch cfg.Search.Backend {
	case config.BackendElasticsearch:
		es := cfg.Search.Elasticsearch
		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: es.Addresses,
			Username:  es.Username,
			Password:  es.Password,
			APIKey:    es.APIKey,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("elasticsearch client: %w", err)
		}
		err = waitFor(ctx, "elasticsearch", config.ConnectRetryMaxElapsed, func(ctx context.Context) error {
			res, err := esapi.PingRequest{}.Do(ctx, client)
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.IsError() {
				return fmt.Errorf("ping: %s", res.Status())
			}
			return nil
		})
		if err != nil {
			return nil, noop, err
		}
		logger.FromContext(ctx).Info("Connected to Elasticsearch", "addresses", es.Addresses)
		return driver.NewElasticsearchDriver(client, es.Refresh), noop, nil

	case config.BackendMeilisearch:
		ms := cfg.Search.Meilisearch
		client := meilisearch.New(ms.Host, meilisearch.WithAPIKey(ms.APIKey))
		err := waitFor(ctx, "meilisearch", config.ConnectRetryMaxElapsed, func(context.Context) error {
			_, err := client.Health()
			return err
		})
		if err != nil {
			return nil, noop, err
		}
		logger.FromContext(ctx).Info("Connected to Meilisearch successfully", "host", ms.Host)
		return driver.NewMeilisearchDriver(client), noop, nil

	case config.BackendBleve:
		bd := driver.NewBleveDriver()
		logger.FromContext(ctx).Warn("using the embedded in-memory engine; the index is lost on restart")
		return bd, func() { _ = bd.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("unknown search backend %q", cfg.Search.Backend)
	}
}
