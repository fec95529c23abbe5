package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akulikov/kbdoc/internal/config"
	"github.com/akulikov/kbdoc/internal/core/domain"
	"github.com/akulikov/kbdoc/internal/core/ports"
	"github.com/akulikov/kbdoc/internal/core/usecase"
	"github.com/akulikov/kbdoc/internal/infrastructure/chunking"
	"github.com/akulikov/kbdoc/internal/infrastructure/embedding/ollama"
	"github.com/akulikov/kbdoc/internal/infrastructure/extractor/direct"
	indexbleve "github.com/akulikov/kbdoc/internal/infrastructure/index/bleve"
	"github.com/akulikov/kbdoc/internal/infrastructure/parser/mineru"
	"github.com/akulikov/kbdoc/internal/infrastructure/queue/nats"
	"github.com/akulikov/kbdoc/internal/infrastructure/repository/postgres"
	"github.com/akulikov/kbdoc/internal/infrastructure/resilience"
	"github.com/akulikov/kbdoc/internal/infrastructure/storage/localfs"
	"github.com/akulikov/kbdoc/internal/infrastructure/vector/qdrant"
	"github.com/akulikov/kbdoc/internal/observability/metrics"
)

// App wires the full object graph. Both binaries build the same graph
// and pick the pieces they serve.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue *nats.Queue

	RequestUC *usecase.ProcessingRequestUseCase
	SearchUC  *usecase.HybridSearchUseCase
	SyncUC    *usecase.SyncUseCase
	ProcessUC *usecase.ProcessDocumentUseCase
	Scheduler *usecase.Scheduler

	HTTPMetrics   *metrics.HTTPServerMetrics
	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	docs := postgres.NewDocumentStore(db)
	batches := postgres.NewBatchStore(db)
	jobs := postgres.NewJobStore(db)
	chunks := postgres.NewChunkStore(db)
	requests := postgres.NewRequestStore(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutorWithLogger(resilience.DefaultConfig(), logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	parser := mineru.New(mineru.Config{
		BaseURL:     cfg.MinerUBaseURL,
		APIKey:      cfg.MinerUAPIKey,
		Timeout:     time.Duration(cfg.MinerUTimeoutSec) * time.Second,
		SubmitRate:  float64(cfg.MinerUSubmitRate),
		SubmitBurst: cfg.MinerUSubmitBurst,
	}, storage, executor)

	embedder := ollama.New(cfg.OllamaURL, cfg.OllamaEmbedModel)
	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)

	lexical, err := indexbleve.New(cfg.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extractor := direct.NewExtractor(storage)
	clock := ports.ClockFunc(time.Now)

	workerMetrics := metrics.NewWorkerMetrics("worker")
	httpMetrics := metrics.NewHTTPServerMetrics("api")

	submitUC := usecase.NewSubmitBatchUseCase(docs, batches, jobs, storage, parser, clock, &usecase.SubmitConfig{
		Features: domain.ParseFeatures{
			Formula:  cfg.ParseFormula,
			Table:    cfg.ParseTable,
			OCR:      cfg.ParseOCR,
			Language: cfg.ParseLanguage,
		},
		InitialDelay: time.Duration(cfg.SubmitInitialDelay) * time.Second,
		BaseInterval: time.Duration(cfg.BackoffBaseSec) * time.Second,
		MaxAttempts:  cfg.PollMaxAttempts,
	})
	vectorizeUC := usecase.NewVectorizeDocumentUseCase(docs, batches, chunks, storage, chunker, embedder, vectors, lexical)
	processUC := usecase.NewProcessDocumentUseCase(docs, extractor, submitUC, vectorizeUC)

	pollUC := usecase.NewPollBatchUseCase(docs, batches, jobs, parser, clock, &usecase.PollConfig{
		BackoffCap: time.Duration(cfg.BackoffCapSec) * time.Second,
	})
	scheduler := usecase.NewScheduler(jobs, pollUC, clock, &usecase.SchedulerConfig{
		TickInterval: time.Duration(cfg.PollTickSec) * time.Second,
		Workers:      cfg.PollWorkers,
		ClaimLimit:   cfg.PollClaimLimit,
		StaleClaim:   time.Duration(cfg.PollStaleClaimSec) * time.Second,
	}, logger, workerMetrics, vectorizeUC.VectorizeParsed)

	requestUC := usecase.NewProcessingRequestUseCase(docs, batches, chunks, requests, vectors, lexical, queue, storage, clock, &usecase.RequestConfig{
		Root:        cfg.DocsRoot,
		MaxFileSize: cfg.MaxFileSize,
	})
	searchUC := usecase.NewHybridSearchUseCase(embedder, vectors, lexical, &usecase.RetrieveConfig{
		OverFetch: cfg.SearchOverFetch,
		RRFC:      cfg.SearchRRFC,
		DefaultK:  cfg.SearchTopK,
	})
	detector := usecase.NewChangeDetectorUseCase(docs)
	syncUC := usecase.NewSyncUseCase(detector, requestUC, cfg.DocsRoot)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue: queue,

		RequestUC: requestUC,
		SearchUC:  searchUC,
		SyncUC:    syncUC,
		ProcessUC: processUC,
		Scheduler: scheduler,

		HTTPMetrics:   httpMetrics,
		WorkerMetrics: workerMetrics,

		closeFn: func() {
			queue.Close()
			_ = lexical.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
