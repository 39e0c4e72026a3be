// -----------------------------------------------------------------------
// Application - dependency wiring and lifecycle for the pipeline
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/manager"
	"github.com/ternarybob/sitesearch/internal/services/cleaner"
	"github.com/ternarybob/sitesearch/internal/services/embeddings"
	"github.com/ternarybob/sitesearch/internal/services/indexer"
	"github.com/ternarybob/sitesearch/internal/services/scheduler"
	"github.com/ternarybob/sitesearch/internal/storage"
)

// App holds every wired component. Construction order matters: broker and
// storage first, then the services built on them, then the manager that
// runs the pools, then the scheduler that feeds it.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Broker         *broker.Client
	Storage        *storage.Manager
	Embedder       *embeddings.Client
	Reranker       *embeddings.Reranker
	IndexerFactory *indexer.Factory
	CleanerService *cleaner.Service
	Manager        *manager.Manager
	Scheduler      *scheduler.Service

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the application; Close releases everything in reverse order
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	appCtx, cancel := context.WithCancel(ctx)
	a := &App{
		Config: cfg,
		Logger: logger,
		ctx:    appCtx,
		cancel: cancel,
	}

	brk, err := broker.New(&cfg.Broker, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("broker: %w", err)
	}
	a.Broker = brk

	store, err := storage.New(appCtx, &cfg.Database, logger)
	if err != nil {
		brk.Close()
		cancel()
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.Storage = store

	a.Embedder = embeddings.NewClient(&cfg.Embedding, logger)
	a.Reranker = embeddings.NewReranker(&cfg.Reranker, logger)
	a.IndexerFactory = indexer.NewFactory(store.DB(), brk, a.Embedder, a.Reranker, cfg.Embedding.Dimension, &cfg.Indexer, logger)

	converter := cleaner.NewConverterClient(&cfg.Converter, logger)
	a.CleanerService = cleaner.NewService(converter, logger)

	a.Manager = manager.New(brk, store, store, a.IndexerFactory, a.CleanerService, cfg, logger)
	a.Scheduler = scheduler.New(store, brk, a.Manager, &cfg.Scheduler, logger)

	logger.Info().Msg("Application wired")
	return a, nil
}

// Start brings up the manager pools and, when enabled, the scheduler loop
func (a *App) Start() {
	a.Manager.Start(a.ctx)

	if a.Config.Scheduler.Enabled {
		go a.Scheduler.Run(a.ctx)
	} else {
		a.Logger.Info().Msg("Scheduler disabled by configuration")
	}
}

// Close shuts everything down: scheduler and pools first, then the
// connections under them
func (a *App) Close() {
	a.cancel()
	a.Manager.Shutdown()

	if err := a.Storage.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
	}
	if err := a.Broker.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Broker close failed")
	}
	a.Logger.Info().Msg("Application closed")
}
