package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"server/internal/adapter/repo"
	"server/internal/cache"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/providers/image"
	"server/internal/queue"
	"server/internal/signing"
	"server/internal/storage"
	"server/internal/usage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: redis connection failed")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	runner := infra.NewSQLRunner(pool, logger)
	jobs := repo.NewJobRepository(runner)
	promptJobs := repo.NewPromptJobRepository(runner)
	rows := repo.NewRowRepository(runner)
	models := repo.NewModelRepository(runner)

	signer, err := buildSigner(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure url signing")
	}

	provider, err := image.NewClient(image.ClientOptions{
		BaseURL: cfg.ImageProviderBaseURL,
		APIKey:  cfg.ImageProviderAPIKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure image provider")
	}

	aggregator := queue.NewRowStatusAggregator(jobs, rows, logger)
	dispatcher := queue.NewDispatcher(queue.DispatcherOptions{
		Jobs:        jobs,
		Provider:    provider,
		Signer:      signer,
		Aggregator:  aggregator,
		Logger:      logger,
		BatchSize:   cfg.DispatchBatchSize,
		Concurrency: cfg.DispatchConcurrency,
		SignedTTL:   cfg.SignedURLTTL,
	})

	var trigger queue.Trigger
	if redisClient != nil {
		trigger = queue.NewRedisTrigger(redisClient, logger)
	} else {
		trigger = queue.NewDirectTrigger(dispatcher, cfg.DispatchConcurrency, logger)
	}

	var counter usage.Counter = usage.NopCounter{}
	if redisClient != nil {
		counter = usage.NewRedisCounter(redisClient, logger)
	}

	service := queue.NewService(queue.ServiceOptions{
		Jobs:       jobs,
		PromptJobs: promptJobs,
		Rows:       rows,
		Models:     models,
		Signer:     signer,
		Trigger:    trigger,
		Usage:      counter,
		Logger:     logger,
		SignedTTL:  cfg.SignedURLTTL,
	})
	reaper := queue.NewReaper(jobs, promptJobs, aggregator, cfg.Timeouts, logger)

	app := &handlers.App{
		Service: service,
		Reaper:  reaper,
		Logger:  logger,
		Health:  healthCheck(pool, redisClient),
	}

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:             logger,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	logger.Info().Msg("api: stopped")
}

func buildSigner(cfg *infra.Config, redisClient *redis.Client, logger infra.Logger) (signing.Signer, error) {
	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		return nil, err
	}
	inner, err := signing.NewHMACSigner(cfg.StorageBaseURL, cfg.SigningSecret, store)
	if err != nil {
		return nil, err
	}
	var c cache.Cache
	if redisClient != nil {
		c = cache.NewRedis(redisClient, "jobqueue")
	} else {
		c = cache.NewMemory()
	}
	return signing.NewCachedSigner(inner, c, cfg.SignedURLCacheTTL), nil
}

func healthCheck(pool *pgxpool.Pool, redisClient *redis.Client) handlers.HealthChecker {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return err
			}
		}
		return nil
	}
}
