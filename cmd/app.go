package main

import (
	"context"
	"fmt"

	"github.com/xhad/verdikt/internal/models"
	"github.com/xhad/verdikt/internal/types"
	cfgPkg "github.com/xhad/verdikt/pkg/config"
	"github.com/xhad/verdikt/pkg/llm"
	"github.com/xhad/verdikt/pkg/notifier"
	"github.com/xhad/verdikt/pkg/pipeline"
	"github.com/xhad/verdikt/pkg/processor"
	"github.com/xhad/verdikt/pkg/queue"
	"github.com/xhad/verdikt/pkg/registry"
	"github.com/xhad/verdikt/pkg/scraper"
	"github.com/xhad/verdikt/pkg/search"
	"github.com/xhad/verdikt/pkg/store"
	"github.com/xhad/verdikt/pkg/submit"
	"github.com/xhad/verdikt/pkg/worker"
	"go.uber.org/zap"
)

// app holds the process-wide components, built once at startup.
type app struct {
	config   *cfgPkg.Config
	logger   *zap.Logger
	embedder *llm.Embedder
	store    *store.VectorStore
	registry types.Registry
	queue    *queue.Queue
	hub      *notifier.Hub
	pool     *worker.Pool
	submit   *submit.Service
	search   *search.Service
}

func newApp(ctx context.Context, config *cfgPkg.Config, logger *zap.Logger, onResult func(pipeline.Result)) (*app, error) {
	a := &app{config: config, logger: logger}

	scr, err := scraper.NewWithConfig(scraper.ScraperConfig{
		URLTemplate: config.Source.URLTemplate,
		RateLimit:   config.Source.RateLimit,
		Timeout:     config.Source.Timeout,
		UserAgent:   config.Source.UserAgent,
		Logger:      logger.Named("scraper"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	chunker := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    config.Processor.ChunkSize,
		ChunkOverlap: config.Processor.ChunkOverlap,
	})

	a.embedder = llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     config.Embedder.Model,
		BaseURL:   config.Embedder.BaseURL,
		BatchSize: config.VectorStore.BatchSize,
		Timeout:   config.Embedder.Timeout,
		Normalize: true,
		Logger:    logger.Named("embedder"),
	})

	var index store.Index
	switch config.VectorStore.Type {
	case "memory":
		if config.VectorStore.Path == "" {
			index = store.NewMemoryIndex(config.VectorStore.VectorDim)
			break
		}
		index, err = store.OpenMemoryIndex(config.VectorStore.Path, config.VectorStore.VectorDim)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector snapshot: %w", err)
		}
	default:
		index, err = store.NewPGVectorIndex(ctx, store.PGVectorConfig{
			ConnString: config.VectorStore.URL,
			TableName:  config.VectorStore.TableName,
			VectorDim:  config.VectorStore.VectorDim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
	}
	a.store = store.New(index, a.embedder, store.VectorStoreConfig{
		BatchSize:    config.VectorStore.BatchSize,
		QueryTimeout: config.VectorStore.QueryTimeout,
		Logger:       logger.Named("store"),
	})

	a.registry, err = registry.Open(ctx, registry.RegistryConfig{
		Driver:    config.Registry.Driver,
		URL:       config.Registry.URL,
		Path:      config.Registry.Path,
		TableName: config.Registry.TableName,
		Logger:    logger.Named("registry"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	a.queue, err = queue.Open(config.Queue.Path, queue.QueueConfig{
		Name:              config.Queue.Name,
		VisibilityTimeout: config.Queue.VisibilityTimeout,
		MaxReceive:        config.Queue.MaxRetries + 2,
		// Drops only happen in Receive, after the pool below is built.
		OnDrop: func(job models.ProcessingJob, deliveries int) {
			a.pool.Abandon(job, deliveries)
		},
		Logger: logger.Named("queue"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open job queue: %w", err)
	}

	a.hub = notifier.NewHub(config.Notifier.Buffer, logger.Named("notifier"))

	p := pipeline.New(pipeline.Deps{
		Fetcher:  scr,
		Chunker:  &chunker,
		Store:    a.store,
		Registry: a.registry,
		Notifier: a.hub,
		Logger:   logger.Named("pipeline"),
	})
	handler := worker.NewRetryHandler(p, worker.RetryPolicy{
		MaxRetries: config.Queue.MaxRetries,
		Delay:      config.Queue.RetryDelay,
	}, a.queue, a.hub, logger.Named("retry"))

	a.pool = worker.NewPool(a.queue, handler, worker.PoolConfig{
		Workers:      config.Queue.Workers,
		PollInterval: config.Queue.PollInterval,
		Logger:       logger.Named("worker"),
		OnResult:     onResult,
	})

	a.submit = submit.NewService(a.queue, scr.URL, logger.Named("submit"))
	a.search = search.NewService(a.store, a.embedder, config.Search.TopK, logger.Named("search"))

	return a, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("failed to close queue", zap.Error(err))
		}
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Warn("failed to close registry", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}
