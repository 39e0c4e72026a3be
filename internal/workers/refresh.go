// -----------------------------------------------------------------------
// Refresh Stage - expands refresh policies into per-URL crawl work
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

// refreshBatchSize bounds each document page read from storage
const refreshBatchSize = 200

// RefreshStage reads refresh tasks and reseeds a crawl task's frontier
// with the site's stale documents
type RefreshStage struct {
	brk      interfaces.Broker
	store    interfaces.DocumentStorage
	policies interfaces.PolicyStorage
	logger   arbor.ILogger
}

// NewRefreshStage creates the refresh stage processor
func NewRefreshStage(brk interfaces.Broker, store interfaces.DocumentStorage, policies interfaces.PolicyStorage, logger arbor.ILogger) *RefreshStage {
	return &RefreshStage{brk: brk, store: store, policies: policies, logger: logger}
}

func (s *RefreshStage) Queue() string { return broker.QueueRefresh }
func (s *RefreshStage) Name() string  { return "refresh" }

// Process expands one refresh task: page through the site's documents,
// filter by patterns and age, enqueue matches into the crawl task's
// frontier (priority matches first), then stamp the policy.
func (s *RefreshStage) Process(ctx context.Context, env *models.Envelope) (Result, error) {
	var task models.RefreshPayload
	if err := env.Decode(&task); err != nil {
		return ResultDone, fmt.Errorf("decode refresh task: %w", err)
	}
	if task.SiteID == "" || task.CrawlTaskID == "" {
		return ResultDone, fmt.Errorf("refresh task missing site_id or crawl_task_id")
	}

	include := compileRefreshPatterns(task.URLPatterns, s.logger)
	exclude := compileRefreshPatterns(task.ExcludePatterns, s.logger)
	priority := compileRefreshPatterns(task.PriorityPatterns, s.logger)

	var cutoff int64
	if task.MaxAgeDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -task.MaxAgeDays).Unix()
	}

	var urgent, normal []string
	for offset := 0; ; offset += refreshBatchSize {
		docs, err := s.store.GetDocumentsBySite(ctx, task.SiteID, refreshBatchSize, offset)
		if err != nil {
			return ResultDone, fmt.Errorf("list documents for %s: %w", task.SiteID, err)
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			if !matchesAny(include, doc.URL, true) || matchesAny(exclude, doc.URL, false) {
				continue
			}
			if cutoff > 0 && doc.Timestamp > cutoff {
				continue // Fresh enough
			}
			if matchesAny(priority, doc.URL, false) {
				urgent = append(urgent, doc.URL)
			} else {
				normal = append(normal, doc.URL)
			}
		}

		if len(docs) < refreshBatchSize {
			break
		}
	}

	queue := broker.TaskQueueName(task.CrawlTaskID)
	var enqueued int
	for _, url := range append(urgent, normal...) {
		_, err := s.brk.Enqueue(ctx, queue, task.CrawlTaskID, &models.CrawlPayload{
			URL:       url,
			SiteID:    task.SiteID,
			TaskID:    task.CrawlTaskID,
			Timestamp: time.Now().Unix(),
		})
		if err != nil {
			return ResultDone, fmt.Errorf("enqueue refresh url %s: %w", url, err)
		}
		enqueued++
	}

	if task.PolicyID > 0 {
		now := time.Now()
		next := now.AddDate(0, 0, task.RefreshIntervalDays)
		err := s.policies.UpdateRefreshTimestamps(ctx, &models.RefreshPolicy{
			ID:          task.PolicyID,
			SiteID:      task.SiteID,
			LastRefresh: &now,
			NextRefresh: &next,
		})
		if err != nil {
			s.logger.Warn().Err(err).Int64("policy_id", task.PolicyID).Msg("Refresh timestamp update failed")
		}
	}

	s.logger.Info().
		Str("site_id", task.SiteID).
		Str("crawl_task_id", task.CrawlTaskID).
		Int("urls", enqueued).
		Msg("Refresh dispatched")
	return ResultDone, nil
}

func compileRefreshPatterns(patterns []string, logger arbor.ILogger) []*regexp.Regexp {
	var compiled []*regexp.Regexp
	for _, pattern := range patterns {
		if pattern == "" || pattern == "*" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn().Err(err).Str("pattern", pattern).Msg("Invalid refresh pattern, ignored")
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// matchesAny reports whether url matches one of the patterns; emptyResult
// is the answer for an empty pattern list
func matchesAny(patterns []*regexp.Regexp, url string, emptyResult bool) bool {
	if len(patterns) == 0 {
		return emptyResult
	}
	for _, re := range patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}
