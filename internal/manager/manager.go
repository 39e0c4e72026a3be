// -----------------------------------------------------------------------
// Pipeline Manager - owns the shared stage pools and per-task crawler pools
// -----------------------------------------------------------------------

package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
	"github.com/ternarybob/sitesearch/internal/services/cleaner"
	"github.com/ternarybob/sitesearch/internal/services/crawler"
	"github.com/ternarybob/sitesearch/internal/workers"
)

// taskRecord tracks one crawl task and its dedicated crawler pool
type taskRecord struct {
	mu       sync.Mutex
	snapshot models.TaskSnapshot

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	alive     atomic.Int64
	workerIDs []string
}

// Manager wires the whole pipeline: shared cleaner/storage/indexer/refresh
// pools plus a crawler pool per active task
type Manager struct {
	brk      interfaces.Broker
	store    interfaces.DocumentStorage
	policies interfaces.PolicyStorage
	cfg      *common.Config
	logger   arbor.ILogger

	pools map[models.WorkerKind]*workers.Pool

	mu    sync.Mutex
	tasks map[string]*taskRecord

	ctx       context.Context
	cancel    context.CancelFunc
	monitorWG sync.WaitGroup
	startedAt time.Time
}

// New creates the manager and its shared stage pools (not yet started)
func New(brk interfaces.Broker, store interfaces.DocumentStorage, policies interfaces.PolicyStorage, factory interfaces.IndexerFactory, cleanerSvc *cleaner.Service, cfg *common.Config, logger arbor.ILogger) *Manager {
	m := &Manager{
		brk:      brk,
		store:    store,
		policies: policies,
		cfg:      cfg,
		logger:   logger,
		tasks:    make(map[string]*taskRecord),
	}

	workersCfg := &cfg.Workers
	m.pools = map[models.WorkerKind]*workers.Pool{
		models.WorkerKindCleaner: workers.NewPool(brk, workers.NewCleanerStage(brk, cleanerSvc, logger), workersCfg, logger),
		models.WorkerKindStorage: workers.NewPool(brk, workers.NewStorageStage(brk, store, logger), workersCfg, logger),
		models.WorkerKindIndexer: workers.NewPool(brk, workers.NewIndexerStage(brk, factory, store, logger), workersCfg, logger),
		models.WorkerKindRefresh: workers.NewPool(brk, workers.NewRefreshStage(brk, store, policies, logger), workersCfg, logger),
	}
	return m
}

// Start spawns the shared pools and the completion monitor
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.startedAt = time.Now()

	counts := map[models.WorkerKind]int{
		models.WorkerKindCleaner: poolSize(m.cfg.Workers.CleanerCount),
		models.WorkerKindStorage: poolSize(m.cfg.Workers.StorageCount),
		models.WorkerKindIndexer: poolSize(m.cfg.Workers.IndexerCount),
		models.WorkerKindRefresh: poolSize(m.cfg.Workers.RefreshCount),
	}
	for kind, pool := range m.pools {
		pool.Start(m.ctx, counts[kind])
	}

	m.monitorWG.Add(1)
	go m.monitor()

	m.logger.Info().Msg("Pipeline manager started")
}

func poolSize(configured int) int {
	if configured <= 0 {
		return 1
	}
	return configured
}

// StartCrawl creates a crawl task: a dedicated frontier queue seeded with
// the start URLs (plus sitemap discoveries) and a pool of crawler workers.
func (m *Manager) StartCrawl(ctx context.Context, cfg models.TaskConfig) (string, error) {
	if len(cfg.StartURLs) == 0 {
		return "", fmt.Errorf("crawl task needs at least one start url")
	}
	if !models.ValidSiteID(cfg.SiteID) {
		return "", fmt.Errorf("invalid site id %q", cfg.SiteID)
	}
	if cfg.CrawlerType == "" {
		cfg.CrawlerType = models.CrawlerTypeHTTPX
	}
	if !cfg.CrawlerType.IsValid() {
		return "", fmt.Errorf("unknown crawler type %q", cfg.CrawlerType)
	}

	fetcher, err := m.buildFetcher(cfg.CrawlerType)
	if err != nil {
		return "", err
	}

	taskID := "task_" + common.NewEnvelopeID()[:12]
	queue := broker.TaskQueueName(taskID)

	seeds := append([]string(nil), cfg.StartURLs...)
	if cfg.DiscoverSitemap {
		discoverer := crawler.NewSitemapDiscoverer(fetcher, m.logger)
		discovered, err := discoverer.Discover(ctx, cfg.StartURLs[0])
		if err != nil {
			m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Sitemap discovery failed, continuing with start urls")
		} else {
			seeds = append(seeds, discovered...)
		}
	}
	for _, seed := range seeds {
		_, err := m.brk.Enqueue(ctx, queue, taskID, &models.CrawlPayload{
			URL:       seed,
			SiteID:    cfg.SiteID,
			TaskID:    taskID,
			Timestamp: time.Now().Unix(),
		})
		if err != nil {
			return "", fmt.Errorf("seed task queue: %w", err)
		}
	}

	workerCount := cfg.CrawlerWorkers
	if workerCount <= 0 {
		workerCount = poolSize(m.cfg.Workers.CrawlersPerTask)
	}

	taskCtx, taskCancel := context.WithCancel(m.ctx)
	record := &taskRecord{
		snapshot: models.TaskSnapshot{
			TaskID:    taskID,
			SiteID:    cfg.SiteID,
			Config:    cfg,
			Status:    models.TaskStatusStarting,
			Workers:   workerCount,
			StartTime: time.Now(),
		},
		cancel: taskCancel,
	}

	for i := 0; i < workerCount; i++ {
		w := crawler.NewWorker(taskID, cfg, m.brk, m.store, fetcher, &m.cfg.Workers, m.logger)
		record.workerIDs = append(record.workerIDs, w.ID())
		record.alive.Add(1)
		record.wg.Add(1)
		go func() {
			defer record.wg.Done()
			defer record.alive.Add(-1)
			w.Run(taskCtx)
		}()
	}

	record.mu.Lock()
	record.snapshot.Status = models.TaskStatusRunning
	record.mu.Unlock()

	m.mu.Lock()
	m.tasks[taskID] = record
	m.mu.Unlock()

	m.logger.Info().
		Str("task_id", taskID).
		Str("site_id", cfg.SiteID).
		Int("workers", workerCount).
		Int("seeds", len(seeds)).
		Msg("Crawl task started")
	return taskID, nil
}

func (m *Manager) buildFetcher(crawlerType models.CrawlerType) (interfaces.Fetcher, error) {
	switch crawlerType {
	case models.CrawlerTypeBrowser:
		return crawler.NewBrowserFetcher(&m.cfg.Crawler, m.logger), nil
	case models.CrawlerTypeFirecrawl:
		return crawler.NewFirecrawlFetcher(&m.cfg.Firecrawl, m.logger), nil
	default:
		return crawler.NewHTTPFetcher(&m.cfg.Crawler, m.logger)
	}
}

// StopTask cancels a task's crawler pool and removes its broker state
func (m *Manager) StopTask(taskID string) error {
	m.mu.Lock()
	record, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %s", taskID)
	}

	record.cancel()
	record.wg.Wait()
	m.finishTask(taskID, record, models.TaskStatusStopped)
	return nil
}

// finishTask stamps the terminal status and drops the task's broker keys
func (m *Manager) finishTask(taskID string, record *taskRecord, status models.TaskStatus) {
	now := time.Now()
	record.mu.Lock()
	record.snapshot.Status = status
	record.snapshot.EndTime = &now
	record.mu.Unlock()

	queue := broker.TaskQueueName(taskID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.brk.DeleteQueue(ctx, queue); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Queue cleanup failed")
	}
	if err := m.brk.DeleteKeys(ctx, broker.CrawledSetKey(queue)); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Crawled set cleanup failed")
	}

	m.logger.Info().
		Str("task_id", taskID).
		Str("status", string(status)).
		Msg("Crawl task finished")
}

// AdjustWorkers rescales a shared stage pool. Crawler pools are owned by
// their tasks and cannot be adjusted here.
func (m *Manager) AdjustWorkers(component string, target int) error {
	kind := models.WorkerKind(component)
	if kind == models.WorkerKindCrawler {
		return fmt.Errorf("crawler workers are task-owned, adjust via task config")
	}
	pool, ok := m.pools[kind]
	if !ok {
		return fmt.Errorf("unknown component %q", component)
	}
	if target < 0 {
		return fmt.Errorf("worker count must be non-negative")
	}

	pool.Resize(target)
	m.logger.Info().
		Str("component", component).
		Int("target", target).
		Msg("Pool resized")
	return nil
}

// Tasks returns a snapshot of every known task
func (m *Manager) Tasks() []models.TaskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots := make([]models.TaskSnapshot, 0, len(m.tasks))
	for _, record := range m.tasks {
		record.mu.Lock()
		snapshots = append(snapshots, record.snapshot)
		record.mu.Unlock()
	}
	return snapshots
}

// Task returns the snapshot of one task
func (m *Manager) Task(taskID string) (models.TaskSnapshot, bool) {
	m.mu.Lock()
	record, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return models.TaskSnapshot{}, false
	}

	record.mu.Lock()
	defer record.mu.Unlock()
	return record.snapshot, true
}

// Shutdown stops the monitor, cancels every task and drains the shared
// pools, bounded by the configured grace period.
func (m *Manager) Shutdown() {
	grace := m.cfg.Workers.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	m.cancel()
	m.monitorWG.Wait()

	m.mu.Lock()
	records := make(map[string]*taskRecord, len(m.tasks))
	for id, record := range m.tasks {
		records[id] = record
	}
	m.mu.Unlock()

	for taskID, record := range records {
		record.cancel()
		if !waitTimeout(&record.wg, grace) {
			m.logger.Warn().Str("task_id", taskID).Msg("Crawler pool did not drain within grace period")
		}
	}

	done := make(chan struct{})
	go func() {
		for _, pool := range m.pools {
			pool.Stop()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		m.logger.Warn().Msg("Stage pools did not drain within grace period")
	}

	m.logger.Info().Msg("Pipeline manager stopped")
}

// waitTimeout waits on wg for at most d, reporting whether it finished
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
