// Package bootstrap assembles the generation pipeline shared by the API and
// the resume worker.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelgen/internal/adapter/repo"
	"modelgen/internal/generation"
	"modelgen/internal/infra"
	"modelgen/internal/infra/credentials"
	"modelgen/internal/metrics"
	"modelgen/internal/providers/prompt"
	"modelgen/internal/providers/tripo"
	"modelgen/internal/relocation"
	"modelgen/internal/storage"
	"modelgen/internal/tasklock"
	"modelgen/internal/workpool"
)

const minLockTTL = 15 * time.Second

// Services holds the wired components. Close releases them in reverse order.
type Services struct {
	Config       *infra.Config
	Logger       zerolog.Logger
	Metrics      *metrics.Collector
	SQL          *infra.SQLRunner
	Jobs         *repo.JobRepositoryPG
	Store        storage.ObjectStore
	StaticDir    string
	Provider     *tripo.Client
	Augmenter    prompt.Augmenter
	Orchestrator *generation.Orchestrator

	closers []func()
}

// New connects to the database, storage and lock backend and builds the
// orchestrator. Provider keys missing from the environment are read from
// integration_tokens.
func New(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (svc *Services, err error) {
	svc = &Services{Config: cfg, Logger: logger, Metrics: metrics.NewCollector("modelgen")}
	defer func() {
		if err != nil {
			svc.Close()
			svc = nil
		}
	}()

	if cfg.MigrateOnStart {
		if err := infra.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return svc, fmt.Errorf("bootstrap: migrations: %w", err)
		}
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return svc, fmt.Errorf("bootstrap: database: %w", err)
	}
	svc.closers = append(svc.closers, pool.Close)
	svc.SQL = infra.NewSQLRunner(pool, logger)
	svc.Jobs = repo.NewJobRepository(svc.SQL)

	if err := svc.initStore(ctx); err != nil {
		return svc, err
	}

	locker, err := svc.initLocker(ctx)
	if err != nil {
		return svc, err
	}

	workers := workpool.New(workpool.Config{
		Workers:      cfg.RelocateWorkers,
		QueueSize:    cfg.RelocateQueue,
		OnCallerRuns: svc.Metrics.CallerRuns,
	})
	svc.closers = append(svc.closers, workers.Close)

	relocator, err := relocation.New(relocation.Options{
		Store:    svc.Store,
		Runner:   workers,
		Logger:   infra.Component(logger, "relocation"),
		MaxBytes: 512 << 20,
	})
	if err != nil {
		return svc, fmt.Errorf("bootstrap: relocator: %w", err)
	}

	creds := credentials.NewStore(svc.SQL)
	tripoKey, err := creds.Resolve(ctx, credentials.ProviderTripo, cfg.TripoAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: failed to load tripo api key from store")
	}
	svc.Provider = tripo.NewClient(tripo.Options{
		APIKey:        tripoKey,
		BaseURL:       cfg.TripoBaseURL,
		Logger:        infra.Component(logger, "tripo"),
		SubmitTimeout: cfg.TripoSubmitTimeout,
		PollTimeout:   cfg.TripoPollTimeout,
	})
	if !svc.Provider.HasCredentials() {
		logger.Warn().Msg("bootstrap: tripo api key missing, submissions will be rejected")
	}

	openAIKey, err := creds.Resolve(ctx, credentials.ProviderOpenAI, cfg.OpenAIAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: failed to load openai api key from store")
	}
	promptLogger := infra.Component(logger, "prompt")
	svc.Augmenter = prompt.NewOpenAIAugmenter(prompt.OpenAIOptions{
		APIKey:  openAIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		OnFallback: func(reason string, err error) {
			promptLogger.Warn().Err(err).Str("reason", reason).Msg("prompt augmentation fell back to static hints")
		},
		OnWarning: func(reason, detail string) {
			promptLogger.Warn().Str("reason", reason).Str("detail", detail).Msg("prompt augmenter configuration")
		},
	})

	svc.Orchestrator, err = generation.New(generation.Options{
		Provider:          svc.Provider,
		Store:             svc.Jobs,
		Relocator:         relocator,
		Locker:            locker,
		Metrics:           svc.Metrics,
		Logger:            infra.Component(logger, "generation"),
		PollInterval:      cfg.PollInterval,
		MaxDuration:       cfg.PollMaxDuration,
		MaxMissingOutputs: cfg.PollMaxMissing,
		MaxPollFailures:   cfg.PollMaxFailures,
	})
	if err != nil {
		return svc, fmt.Errorf("bootstrap: orchestrator: %w", err)
	}
	return svc, nil
}

func (s *Services) initStore(ctx context.Context) error {
	cfg := s.Config
	switch cfg.StorageDriver {
	case "minio":
		store, err := storage.NewMinioStore(storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			return fmt.Errorf("bootstrap: minio: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("bootstrap: minio bucket: %w", err)
		}
		s.Store = store
	default:
		path := strings.TrimSpace(cfg.StoragePath)
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		store, err := storage.NewFileStore(path, cfg.StorageBaseURL)
		if err != nil {
			return fmt.Errorf("bootstrap: file store: %w", err)
		}
		s.Store = store
		s.StaticDir = store.BasePath()
	}
	s.Logger.Info().Str("driver", cfg.StorageDriver).Msg("bootstrap: object store ready")
	return nil
}

func (s *Services) initLocker(ctx context.Context) (tasklock.Locker, error) {
	client, err := infra.NewRedisClient(ctx, s.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: redis: %w", err)
	}
	if client == nil {
		s.Logger.Info().Msg("bootstrap: REDIS_URL not set, using in-process task lock")
		return tasklock.NewLocalLocker(), nil
	}
	s.closers = append(s.closers, func() { _ = client.Close() })
	// A lease must outlive one poll tick with room for a slow provider call.
	ttl := 3 * s.Config.PollInterval
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	locker, err := tasklock.NewRedisLocker(client, ttl, infra.Component(s.Logger, "tasklock"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: task lock: %w", err)
	}
	return locker, nil
}

// Close releases resources in reverse acquisition order.
func (s *Services) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
