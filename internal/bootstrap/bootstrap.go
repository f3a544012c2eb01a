package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/tomd/internal/config"
	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/kirillkom/tomd/internal/core/ports"
	"github.com/kirillkom/tomd/internal/core/registry"
	"github.com/kirillkom/tomd/internal/core/usecase"
	rediscache "github.com/kirillkom/tomd/internal/infrastructure/cache/redis"
	"github.com/kirillkom/tomd/internal/infrastructure/container"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/docling"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/html2text"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/mammoth"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/marker"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/markitdown"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/pandoc"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/remote"
	"github.com/kirillkom/tomd/internal/infrastructure/converter/unstructured"
	"github.com/kirillkom/tomd/internal/infrastructure/queue/inprocess"
	natsqueue "github.com/kirillkom/tomd/internal/infrastructure/queue/nats"
	"github.com/kirillkom/tomd/internal/infrastructure/repository/memory"
	"github.com/kirillkom/tomd/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/tomd/internal/infrastructure/resilience"
	"github.com/kirillkom/tomd/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/tomd/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/tomd/internal/infrastructure/storage/s3"
	"github.com/kirillkom/tomd/internal/observability/metrics"
)

const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendInProcess = "inprocess"
	BackendNATS      = "nats"
	BackendLocalFS   = "localfs"
	BackendS3        = "s3"
	BackendGCS       = "gcs"

	runtimeNone = "none"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Catalog    *registry.Registry
	Settings   *usecase.SettingsStore
	Files      *usecase.FileStoreUseCase
	Jobs       *usecase.JobQueryUseCase
	Dispatcher *usecase.ConversionDispatcher
	Janitor    *usecase.Janitor

	WorkerMetrics *metrics.WorkerMetrics

	pool         *inprocess.Pool
	nats         *natsqueue.Queue
	settingsRepo ports.SettingsRepository
	started      time.Time
	closers      []func()
}

// New wires the configured backends. Every process kind (api, worker, mcp)
// builds the same graph and decides which parts to run.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, workerMetrics *metrics.WorkerMetrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:        cfg,
		Logger:        logger,
		WorkerMetrics: workerMetrics,
		started:       time.Now(),
	}
	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	if cfg.QueueBackend == BackendNATS && cfg.JobStore != BackendPostgres {
		return errors.New("QUEUE_BACKEND=nats needs a shared job store, set JOB_STORE=postgres")
	}

	catalog, err := registry.Default()
	if err != nil {
		return fmt.Errorf("load converter catalog: %w", err)
	}
	a.Catalog = catalog

	fileRepo, jobRepo, err := a.openRepositories(ctx)
	if err != nil {
		return err
	}

	storage, err := a.openStorage(ctx)
	if err != nil {
		return err
	}

	executor := resilience.NewExecutor(withLogger(resilience.DefaultConfig(), a.Logger))

	a.pool = inprocess.NewPool(cfg.WorkerCount, cfg.QueueCapacity, a.Logger)
	a.closers = append(a.closers, a.pool.Close)
	var queue ports.JobQueue = a.pool
	if cfg.QueueBackend == BackendNATS {
		a.nats, err = natsqueue.New(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: resilience.NewExecutor(withLogger(resilience.PublishConfig(), a.Logger)),
			Logger:             a.Logger,
		})
		if err != nil {
			return fmt.Errorf("init message queue: %w", err)
		}
		a.closers = append(a.closers, a.nats.Close)
		queue = a.nats
	}

	cache, err := a.openPreviewCache(ctx)
	if err != nil {
		return err
	}

	var settingsOpts []usecase.SettingsOption
	if a.settingsRepo != nil {
		settingsOpts = append(settingsOpts, usecase.WithSettingsRepository(a.settingsRepo))
	}
	a.Settings = usecase.NewSettingsStore(domain.Settings{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
	}, settingsOpts...)

	engines := a.buildEngines(ctx, executor)

	opts := []usecase.DispatcherOption{
		usecase.WithJobTimeout(cfg.JobTimeout),
		usecase.WithLogger(a.Logger),
	}
	if a.WorkerMetrics != nil {
		opts = append(opts, usecase.WithObserver(a.WorkerMetrics))
		a.WorkerMetrics.TrackQueueDepth(a.pool.Depth)
	}

	a.Files = usecase.NewFileStoreUseCase(fileRepo, storage, cfg.MaxUploadSize, a.Logger)
	a.Jobs = usecase.NewJobQueryUseCase(jobRepo, storage, cache, cfg.PreviewLimit, a.Logger)
	a.Dispatcher = usecase.NewConversionDispatcher(fileRepo, jobRepo, storage, catalog, engines, a.Settings, queue, opts...)
	a.Janitor = usecase.NewJanitor(fileRepo, jobRepo, storage, cfg.FileTTL, a.Logger, usecase.WithStaleJobs(a.Dispatcher))
	return nil
}

func (a *App) openRepositories(ctx context.Context) (ports.FileRepository, ports.JobRepository, error) {
	switch a.Config.JobStore {
	case BackendMemory, "":
		return memory.NewFileRepository(), memory.NewJobRepository(), nil
	case BackendPostgres:
		db, err := postgres.OpenDB(ctx, a.Config.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, closeDB(db))
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		a.settingsRepo = postgres.NewSettingsRepository(db)
		return postgres.NewFileRepository(db), postgres.NewJobRepository(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown JOB_STORE %q", a.Config.JobStore)
	}
}

func closeDB(db *sql.DB) func() {
	return func() {
		_ = db.Close()
	}
}

func (a *App) openStorage(ctx context.Context) (ports.ObjectStorage, error) {
	cfg := a.Config
	switch cfg.StorageBackend {
	case BackendLocalFS, "":
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return storage, nil
	case BackendS3:
		storage, err := s3.New(s3.Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return storage, nil
	case BackendGCS:
		storage, err := gcs.New(ctx, cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.closers = append(a.closers, func() {
			_ = storage.Close()
		})
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func (a *App) openPreviewCache(ctx context.Context) (ports.PreviewCache, error) {
	if a.Config.RedisAddr == "" {
		return nil, nil
	}
	client, err := rediscache.Dial(ctx, a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("init preview cache: %w", err)
	}
	a.closers = append(a.closers, func() {
		_ = client.Close()
	})
	return rediscache.New(client, a.Config.PreviewCacheTTL, a.Logger), nil
}

func (a *App) buildEngines(ctx context.Context, executor *resilience.Executor) map[domain.ConverterID]ports.Engine {
	cfg := a.Config
	rt := a.detectRuntime(ctx)

	markitdownOpts := []markitdown.Option{markitdown.WithLogger(a.Logger)}
	if rt != nil {
		markitdownOpts = append(markitdownOpts, markitdown.WithContainer(rt, cfg.MarkitdownImage))
	}

	var doclingClient *remote.Client
	if cfg.DoclingURL != "" {
		doclingClient = remote.New(string(domain.ConverterDocling), cfg.DoclingURL, nil, executor)
	}
	unstructuredClient := remote.New(string(domain.ConverterUnstructured), cfg.UnstructuredURL, nil, executor)

	return map[domain.ConverterID]ports.Engine{
		domain.ConverterMarkitdown:   markitdown.New(markitdownOpts...),
		domain.ConverterDocling:      docling.New(doclingClient),
		domain.ConverterMarker:       marker.New(rt, cfg.MarkerImage),
		domain.ConverterPypandoc:     pandoc.New(cfg.PandocPath),
		domain.ConverterUnstructured: unstructured.New(unstructuredClient),
		domain.ConverterMammoth:      mammoth.New(),
		domain.ConverterHTML2Text:    html2text.New(),
	}
}

// detectRuntime returns nil when container engines are disabled or no
// runtime is installed. Those engines then fail their jobs instead of startup.
func (a *App) detectRuntime(ctx context.Context) container.Runtime {
	preference := strings.ToLower(strings.TrimSpace(a.Config.ContainerRuntime))
	if preference == runtimeNone {
		return nil
	}
	rt, err := container.DetectRuntime(ctx, preference)
	if err != nil {
		a.Logger.Warn("container_runtime_unavailable", "preference", preference, "error", err)
		return nil
	}
	a.Logger.Info("container_runtime_detected", "runtime", rt.Name())
	return rt
}

func withLogger(cfg resilience.Config, logger *slog.Logger) resilience.Config {
	cfg.Logger = logger
	return cfg
}

// RunWorkers starts the local pool on the dispatcher.
func (a *App) RunWorkers(ctx context.Context) {
	a.pool.Start(ctx, a.Dispatcher.ProcessByID)
}

// ConsumeQueue feeds job ids published on NATS into the local pool until ctx
// is done. It requires QUEUE_BACKEND=nats.
func (a *App) ConsumeQueue(ctx context.Context) error {
	if a.nats == nil {
		return errors.New("queue consumer requires QUEUE_BACKEND=nats")
	}
	return a.nats.Subscribe(ctx, a.pool.Enqueue)
}

// Recover re-enqueues work left behind by a previous process.
func (a *App) Recover(ctx context.Context) {
	if a.Config.JobStore != BackendPostgres {
		return
	}
	if _, err := a.Dispatcher.Recover(ctx, a.interruptedBefore()); err != nil {
		a.Logger.Error("job_recovery_failed", "error", err)
	}
}

// interruptedBefore is the claim time before which a processing job counts as
// abandoned. The in-process pool belongs to this process alone, so everything
// claimed before startup is dead. NATS workers run elsewhere and may still be
// converting, so only claims older than the job timeout count.
func (a *App) interruptedBefore() time.Time {
	if a.nats == nil {
		return a.started
	}
	return time.Now().Add(-a.Dispatcher.StaleAfter())
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
