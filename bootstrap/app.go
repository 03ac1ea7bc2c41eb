package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"search-sync/config"
	"search-sync/consumer"
	"search-sync/internal/auth"
	"search-sync/logger"
	"search-sync/usecase"
	appOtel "search-sync/utils/otel"
)

// initObservability starts OpenTelemetry and the logger. A failed exporter
// setup falls back to stdout logging.
func initObservability(ctx context.Context) (appOtel.Config, appOtel.ShutdownFunc) {
	otelCfg := appOtel.ConfigFromEnv()
	otelShutdown, err := appOtel.InitProvider(ctx, otelCfg)
	if err != nil {
		fmt.Printf("Failed to initialize OpenTelemetry: %v\n", err)
		otelCfg.Enabled = false
		otelShutdown = func(context.Context) error { return nil }
	}

	logger.InitWithOTel(otelCfg.Enabled)
	return otelCfg, otelShutdown
}

func shutdownObservability(shutdown appOtel.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		fmt.Printf("Failed to shutdown OpenTelemetry: %v\n", err)
	}
}

// Run starts the queue workers, the delayed-job promoter, the event consumer
// and the HTTP server. It blocks until ctx is cancelled or one of them fails,
// then shuts everything down.
func Run(ctx context.Context) error {
	otelCfg, otelShutdown := initObservability(ctx)
	defer shutdownObservability(otelShutdown)

	logger.Logger.Info("Starting search-sync",
		"service", otelCfg.ServiceName,
		"otel_enabled", otelCfg.Enabled,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Error("Failed to load config", "err", err)
		return err
	}
	consumerCfg := consumer.ConfigFromEnv()

	c, err := Build(ctx, cfg, consumerCfg)
	if err != nil {
		logger.Logger.Error("Failed to initialize components", "err", err)
		return err
	}
	defer c.Close()

	server := newHTTPServer(c, cfg, otelCfg.Enabled)
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range c.Workers(consumerCfg, logger.Logger) {
		g.Go(func() error { return w.Run(gctx) })
	}

	promoter := consumer.NewPromoter(c.Queue, consumerCfg.PromoteInterval, logger.Logger)
	g.Go(func() error { return promoter.Run(gctx) })

	events := c.EventConsumer(consumerCfg, logger.Logger)
	if events.IsEnabled() {
		g.Go(func() error { return events.Run(gctx) })
	} else {
		logger.Logger.Info("Record event consumer disabled")
	}

	g.Go(func() error {
		logger.Logger.Info("http listen", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("http shutdown error", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Logger.Error("search-sync stopped", "err", err)
		return err
	}
	logger.Logger.Info("search-sync stopped")
	return nil
}

// RunReindex starts a rebuild of recordType and returns once its chain is
// queued. The running workers carry it out.
func RunReindex(ctx context.Context, recordType string) (*usecase.ReindexPlan, error) {
	_, otelShutdown := initObservability(ctx)
	defer shutdownObservability(otelShutdown)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	c, err := Build(ctx, cfg, consumer.ConfigFromEnv())
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return c.Reindex.Execute(logger.WithRecord(ctx, recordType, ""), recordType)
}

// IssueServiceToken mints a service token from SERVICE_SECRET.
func IssueServiceToken(caller string, permissions ...string) (string, error) {
	ac := config.NewAuthConfigFromEnv()
	client := auth.NewClient(auth.Config{
		ServiceName:   ac.ServiceName,
		ServiceSecret: ac.ServiceSecret,
		TokenTTL:      ac.TokenTTL,
	})
	return client.GenerateServiceToken(caller, permissions...)
}
