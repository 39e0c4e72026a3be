// -----------------------------------------------------------------------
// Completion Monitor - detects drained crawl tasks and reclaims their keys
// -----------------------------------------------------------------------

package manager

import (
	"time"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/models"
)

// monitor periodically checks every running task for completion: a task is
// done when its frontier is empty with nothing in flight, or when all of
// its crawler workers have exited.
func (m *Manager) monitor() {
	defer m.monitorWG.Done()

	interval := m.cfg.Workers.MonitorInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep(interval)
		}
	}
}

func (m *Manager) sweep(interval time.Duration) {
	m.mu.Lock()
	candidates := make(map[string]*taskRecord)
	for taskID, record := range m.tasks {
		record.mu.Lock()
		running := record.snapshot.Status == models.TaskStatusRunning
		age := time.Since(record.snapshot.StartTime)
		record.mu.Unlock()
		// Give freshly seeded tasks at least one interval before judging
		if running && age >= interval {
			candidates[taskID] = record
		}
	}
	m.mu.Unlock()

	for taskID, record := range candidates {
		if m.taskDrained(taskID, record) {
			record.cancel()
			record.wg.Wait()
			m.finishTask(taskID, record, models.TaskStatusCompleted)
		}
	}
}

func (m *Manager) taskDrained(taskID string, record *taskRecord) bool {
	if record.alive.Load() == 0 {
		return true
	}

	queue := broker.TaskQueueName(taskID)
	pending, err := m.brk.Pending(m.ctx, queue)
	if err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Completion check failed")
		return false
	}
	processing, err := m.brk.Processing(m.ctx, queue)
	if err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("Completion check failed")
		return false
	}
	return pending == 0 && processing == 0
}
