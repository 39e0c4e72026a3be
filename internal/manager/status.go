// -----------------------------------------------------------------------
// System Status - worker inventories, queue metrics and runtime figures
// -----------------------------------------------------------------------

package manager

import (
	"context"
	"runtime"
	"time"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/models"
)

// GetSystemStatus assembles the full operational report: every worker in
// every pool, metrics for each pipeline queue, task snapshots and broker
// plus Go-runtime figures.
func (m *Manager) GetSystemStatus(ctx context.Context) *models.SystemStatus {
	status := &models.SystemStatus{
		Timestamp: time.Now(),
		Workers:   make(map[models.WorkerKind][]models.WorkerStatus),
		Queues:    make(map[string]models.QueueMetrics),
	}

	for kind, pool := range m.pools {
		status.Workers[kind] = pool.Statuses(kind)
	}

	for _, queue := range []string{broker.QueueCrawler, broker.QueueCleaner, broker.QueueStorage, broker.QueueIndexer, broker.QueueRefresh} {
		metrics, err := m.brk.Metrics(ctx, queue)
		if err != nil {
			m.logger.Warn().Err(err).Str("queue", queue).Msg("Queue metrics unavailable")
			continue
		}
		status.Queues[queue] = *metrics
	}

	m.mu.Lock()
	records := make(map[string]*taskRecord, len(m.tasks))
	for taskID, record := range m.tasks {
		records[taskID] = record
	}
	m.mu.Unlock()

	for taskID, record := range records {
		record.mu.Lock()
		snapshot := record.snapshot
		workerIDs := record.workerIDs
		record.mu.Unlock()

		queue := broker.TaskQueueName(taskID)
		if metrics, err := m.brk.Metrics(ctx, queue); err == nil {
			snapshot.Queue = metrics
			status.Queues[queue] = *metrics
		}
		if crawled, err := m.brk.SetCard(ctx, broker.CrawledSetKey(queue)); err == nil {
			snapshot.Crawled = crawled
		}

		alive := record.alive.Load() > 0
		for _, id := range workerIDs {
			status.Workers[models.WorkerKindCrawler] = append(status.Workers[models.WorkerKindCrawler], models.WorkerStatus{
				ID:        id,
				Kind:      models.WorkerKindCrawler,
				Queue:     queue,
				Alive:     alive,
				StartedAt: snapshot.StartTime,
				UptimeSec: time.Since(snapshot.StartTime).Seconds(),
			})
		}
		status.Tasks = append(status.Tasks, snapshot)
	}

	if counts, err := m.store.Stats(ctx); err == nil {
		status.Storage = counts
	} else {
		m.logger.Warn().Err(err).Msg("Storage stats unavailable")
	}

	if info, err := m.brk.Info(ctx); err == nil {
		status.Broker = *info
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	status.Runtime = models.RuntimeStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: mem.HeapAlloc / 1024 / 1024,
		HeapSysMB:   mem.HeapSys / 1024 / 1024,
		NumGC:       mem.NumGC,
		NumCPU:      runtime.NumCPU(),
		UptimeSec:   time.Since(m.startedAt).Seconds(),
	}

	return status
}
