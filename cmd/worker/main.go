package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"server/internal/adapter/repo"
	"server/internal/cache"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/image"
	"server/internal/providers/prompt"
	"server/internal/queue"
	"server/internal/signing"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	runner := infra.NewSQLRunner(pool, logger)
	jobs := repo.NewJobRepository(runner)
	promptJobs := repo.NewPromptJobRepository(runner)
	rows := repo.NewRowRepository(runner)

	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	hmacSigner, err := signing.NewHMACSigner(cfg.StorageBaseURL, cfg.SigningSecret, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure url signing")
	}
	var signerCache cache.Cache
	if redisClient != nil {
		signerCache = cache.NewRedis(redisClient, "jobqueue")
	} else {
		signerCache = cache.NewMemory()
	}
	signer := signing.NewCachedSigner(hmacSigner, signerCache, cfg.SignedURLCacheTTL)

	imageProvider, err := image.NewClient(image.ClientOptions{
		BaseURL: cfg.ImageProviderBaseURL,
		APIKey:  cfg.ImageProviderAPIKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure image provider")
	}
	promptProvider := buildPromptProvider(cfg, logger)

	aggregator := queue.NewRowStatusAggregator(jobs, rows, logger)
	dispatcher := queue.NewDispatcher(queue.DispatcherOptions{
		Jobs:        jobs,
		Provider:    imageProvider,
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
	}

	processor := queue.NewPromptProcessor(promptJobs, jobs, promptProvider, aggregator, trigger, logger)
	reaper := queue.NewReaper(jobs, promptJobs, aggregator, cfg.Timeouts, logger)

	g, gctx := errgroup.WithContext(ctx)

	if redisClient != nil {
		redisTrigger := trigger.(*queue.RedisTrigger)
		g.Go(func() error {
			return redisTrigger.Consume(gctx, cfg.DispatchConcurrency, func(ctx context.Context, scope domain.JobScope) {
				if err := dispatcher.Dispatch(ctx, scope); err != nil {
					logger.Error().Err(err).Msg("worker: triggered dispatch failed")
				}
			})
		})
	}

	// Periodic dispatch catches jobs whose trigger was lost or dropped.
	g.Go(func() error {
		return runEvery(gctx, cfg.ProgressInterval*4, func(ctx context.Context) {
			if err := dispatcher.Dispatch(ctx, domain.JobScope{}); err != nil {
				logger.Error().Err(err).Msg("worker: periodic dispatch failed")
			}
		})
	})

	g.Go(func() error {
		return runEvery(gctx, cfg.ProgressInterval, func(ctx context.Context) {
			if err := dispatcher.Progress(ctx, domain.JobScope{}); err != nil {
				logger.Error().Err(err).Msg("worker: progress poll failed")
			}
		})
	})

	g.Go(func() error {
		return processor.Run(gctx, cfg.PromptPollInterval)
	})

	g.Go(func() error {
		return reaper.RunPeriodic(gctx, cfg.CleanupInterval)
	})

	logger.Info().Msg("worker: started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func buildPromptProvider(cfg *infra.Config, logger infra.Logger) prompt.Provider {
	static := prompt.NewStaticProvider()
	if cfg.PromptProvider == prompt.ProviderStatic || cfg.GeminiAPIKey == "" {
		if cfg.GeminiAPIKey == "" && cfg.PromptProvider != prompt.ProviderStatic {
			logger.Warn().Msg("worker: gemini api key missing, using static prompt provider")
		}
		return static
	}
	gemini, err := prompt.NewGeminiProvider(prompt.GeminiOptions{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiModel,
		BaseURL:  cfg.GeminiBaseURL,
		Fallback: static,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("worker: gemini provider unavailable, using static prompt provider")
		return static
	}
	return gemini
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
