package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/davidbz/flow/internal/catalog"
	"github.com/davidbz/flow/internal/config"
	"github.com/davidbz/flow/internal/domain"
	"github.com/davidbz/flow/internal/http"
	"github.com/davidbz/flow/internal/http/middleware"
	"github.com/davidbz/flow/internal/observability"
	"github.com/davidbz/flow/internal/provider/echo"
	"github.com/davidbz/flow/internal/provider/openai"
	"github.com/davidbz/flow/internal/sse"
	"github.com/davidbz/flow/internal/usage"
	"github.com/davidbz/flow/internal/usage/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *http.Server, logger *zap.Logger) error {
		defer func() { _ = logger.Sync() }()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-signals:
			logger.Info("received signal", zap.String("signal", sig.String()))
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return server.Shutdown(ctx)
	})
	if err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	provide(container, "config", config.Load)
	provide(container, "config dependencies", config.ParseDependenciesConfig)

	// Observability
	provide(container, "logger", func(cfg *observability.LogConfig) (*zap.Logger, error) {
		logger, err := observability.InitLogger(cfg)
		if err != nil {
			return nil, err
		}
		zap.ReplaceGlobals(logger)
		return logger, nil
	})
	provide(container, "event bus", func(logger *zap.Logger) domain.EventPublisher {
		return observability.NewEventBus(logger)
	})

	// Model catalog: built-in models, then the optional catalog file.
	provide(container, "model catalog", func(cfg *config.CompletionConfig) (domain.ModelCatalog, error) {
		ctx := context.Background()
		models := domain.NewInMemoryModelCatalog()

		if err := openai.RegisterModels(ctx, models); err != nil {
			return nil, err
		}
		if err := echo.RegisterModels(ctx, models); err != nil {
			return nil, err
		}
		if err := catalog.RegisterFile(ctx, models, cfg.CatalogFile); err != nil {
			return nil, err
		}

		return models, nil
	})

	// Completion pipeline
	provide(container, "token estimator", func(cfg *config.CompletionConfig) domain.TokenEstimator {
		return domain.NewCharEstimator(cfg.CharsPerToken)
	})
	provide(container, "truncator", func(cfg *config.CompletionConfig, estimator domain.TokenEstimator) *domain.MessageTruncator {
		return domain.NewMessageTruncator(estimator, cfg.MessageOverhead)
	})
	provide(container, "payload builder", domain.NewPayloadBuilder)
	provide(container, "decoder factory", func() domain.DecoderFactory {
		return sse.Factory(sse.Options{})
	})
	provide(container, "transport", func(cfg *config.CompletionConfig, openaiCfg *openai.Config) (domain.Transport, error) {
		switch cfg.Transport {
		case config.TransportOpenAI:
			return openai.NewClient(*openaiCfg), nil
		case config.TransportEcho:
			return echo.NewTransport(), nil
		default:
			return nil, fmt.Errorf("unknown completion transport %q", cfg.Transport)
		}
	})
	provide(container, "cost calculator", func(models domain.ModelCatalog) domain.CostCalculator {
		return domain.NewCatalogCostCalculator(models)
	})

	// Usage: Redis when configured, otherwise in memory.
	provide(container, "usage store", func(cfg *config.UsageConfig, logger *zap.Logger) usage.Store {
		if cfg.RedisAddr == "" {
			logger.Info("usage kept in memory")
			return usage.NewMemoryStore()
		}

		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		logger.Info("usage kept in redis", zap.String("addr", cfg.RedisAddr))
		return redis.NewLedger(client, time.Duration(cfg.SessionTTL)*time.Second)
	})

	// Domain Services
	provide(container, "chat service", func(
		models domain.ModelCatalog,
		estimator domain.TokenEstimator,
		truncator *domain.MessageTruncator,
		builder *domain.PayloadBuilder,
		transport domain.Transport,
		newDecoder domain.DecoderFactory,
		costCalculator domain.CostCalculator,
		store usage.Store,
		events domain.EventPublisher,
	) (*domain.ChatService, error) {
		return domain.NewChatService(domain.ChatServiceConfig{
			Catalog:        models,
			Estimator:      estimator,
			Truncator:      truncator,
			Builder:        builder,
			Transport:      transport,
			NewDecoder:     newDecoder,
			CostCalculator: costCalculator,
			Recorder:       store,
			Events:         events,
		})
	})
	provide(container, "model lister", func(cfg *openai.Config) (http.ModelLister, error) {
		return openai.NewModelLister(*cfg)
	})

	// HTTP Layer
	provide(container, "middleware chain", middleware.BuildMiddlewareChain)
	provide(container, "HTTP handler", http.NewHandler)
	provide(container, "HTTP server", http.NewServer)

	return container
}

func provide(container *dig.Container, name string, constructor interface{}) {
	if err := container.Provide(constructor); err != nil {
		log.Fatalf("Failed to provide %s: %v", name, err)
	}
}
