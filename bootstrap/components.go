package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"search-sync/config"
	"search-sync/consumer"
	"search-sync/domain"
	"search-sync/driver"
	"search-sync/gateway"
	"search-sync/logger"
	"search-sync/rest"
	"search-sync/tokenize"
	"search-sync/usecase"
	"search-sync/utils/breaker"
	"search-sync/utils/ratelimit"
)

// Components is the wired application graph shared by the serve and reindex
// commands.
type Components struct {
	Registry *domain.Registry
	Queue    *gateway.JobQueueGateway
	Backend  *gateway.SearchEngineGateway

	Indexer  *usecase.IndexDocumentUsecase
	Deleter  *usecase.DeleteDocumentUsecase
	Bulk     *usecase.BulkIndexUsecase
	Reindex  *usecase.ReindexUsecase
	Finalize *usecase.FinalizeReindexUsecase
	Abort    *usecase.AbortReindexUsecase
	Search   *usecase.SearchDocumentsUsecase

	Dispatcher *consumer.Dispatcher

	db     *driver.DatabaseDriver
	redis  *driver.RedisDriver
	stream *driver.RedisStreamDriver
	closes []func()
}

// NewRegistry returns the record types this service indexes.
func NewRegistry() *domain.Registry {
	return domain.NewRegistry(domain.NewArticleRecordType("articles", ""))
}

// Build connects every dependency named by cfg and wires the use cases.
func Build(ctx context.Context, cfg *config.Config, consumerCfg consumer.Config) (_ *Components, err error) {
	c := &Components{Registry: NewRegistry()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	// ── Drivers (infrastructure layer) ──
	c.db, err = initDatabaseDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.closes = append(c.closes, c.db.Close)

	c.redis, err = initRedisDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.closes = append(c.closes, func() { _ = c.redis.Close() })
	c.stream = driver.NewRedisStreamDriver(c.redis.Client())

	searchDriver, closeSearch, err := initSearchDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.closes = append(c.closes, closeSearch)

	tok, err := tokenize.InitTokenizer()
	if err != nil {
		// Tags are still indexed, only without Japanese segmentation.
		logger.FromContext(ctx).Error("Failed to initialize tokenizer", "err", err)
	}

	// ── Gateways (anti-corruption layer) ──
	c.Backend = gateway.NewSearchEngineGateway(searchDriver, cfg.Search.Timeout).WithBulkTimeout(cfg.Search.BulkTimeout)
	c.Queue = gateway.NewJobQueueGateway(c.stream, consumerCfg.GroupName)
	if err := c.Queue.EnsureGroups(ctx, consumerCfg.Queues...); err != nil {
		return nil, fmt.Errorf("ensure consumer groups: %w", err)
	}
	epochs := gateway.NewEpochStoreGateway(c.redis)
	locks := gateway.NewLockGateway(c.redis)
	counter := gateway.NewWindowCounterGateway(c.redis)

	sources := gateway.NewDocumentSourceGateway(c.Registry)
	if err := sources.Register(domain.ArticleRecordType, gateway.NewArticleSourceGateway(c.db, tok)); err != nil {
		return nil, err
	}

	// ── Use cases (application layer) ──
	c.Deleter = usecase.NewDeleteDocumentUsecase(c.Backend, epochs)
	c.Indexer = usecase.NewIndexDocumentUsecase(c.Registry, sources, c.Backend, epochs, c.Queue, c.Deleter)
	c.Bulk = usecase.NewBulkIndexUsecase(c.Registry, sources, c.Backend)
	c.Reindex = usecase.NewReindexUsecase(c.Registry, sources, c.Backend, epochs, locks, c.Queue, usecase.ReindexConfig{
		LockTTL:  cfg.Reindex.LockTTL,
		PageSize: cfg.Reindex.PageSize,
	})
	c.Finalize = usecase.NewFinalizeReindexUsecase(c.Backend, epochs, locks)
	c.Abort = usecase.NewAbortReindexUsecase(c.Backend, epochs, locks)
	c.Search = usecase.NewSearchDocumentsUsecase(c.Registry, c.Backend)

	// ── Job dispatch ──
	brk := breaker.NewExceptionBreaker(cfg.Breaker.Threshold, cfg.Breaker.Window, cfg.Breaker.Cooldown)
	limiter := ratelimit.NewLimiter(ratelimit.Limits{
		PerWorker: cfg.RateLimit.PerWorker,
		Aggregate: cfg.RateLimit.Aggregate,
	}, counter)

	c.Dispatcher = consumer.NewDispatcher(c.Queue, brk, limiter)
	c.Dispatcher.Register(domain.JobIndexDocument, c.Indexer)
	c.Dispatcher.Register(domain.JobDeleteDocument, c.Deleter)
	c.Dispatcher.Register(domain.JobBulkIndex, c.Bulk)
	c.Dispatcher.Register(domain.JobReindex, c.Reindex)
	c.Dispatcher.Register(domain.JobFinalizeReindex, c.Finalize)
	c.Dispatcher.Register(domain.JobAbortReindex, c.Abort)

	return c, nil
}

// Workers returns one worker per queue, sharing the dispatcher.
func (c *Components) Workers(consumerCfg consumer.Config, log *slog.Logger) []*consumer.Worker {
	workers := make([]*consumer.Worker, 0, len(consumerCfg.Queues))
	for _, q := range consumerCfg.Queues {
		workers = append(workers, consumer.NewWorker(q, c.Queue, c.Dispatcher, consumerCfg, log))
	}
	return workers
}

// EventConsumer turns upstream record events into jobs.
func (c *Components) EventConsumer(consumerCfg consumer.Config, log *slog.Logger) *consumer.EventConsumer {
	handler := consumer.NewRecordEventHandler(c.Registry, c.Queue, log)
	return consumer.NewEventConsumer(c.stream, consumerCfg, handler, log)
}

// HealthChecks checks the stateful dependencies.
func (c *Components) HealthChecks() map[string]rest.HealthCheck {
	return map[string]rest.HealthCheck{
		"postgres": c.db.Ping,
		"redis":    c.redis.Ping,
	}
}

// Close releases every connection in reverse order of opening.
func (c *Components) Close() {
	for i := len(c.closes) - 1; i >= 0; i-- {
		c.closes[i]()
	}
	c.closes = nil
}
