// -----------------------------------------------------------------------
// Scheduler - periodic evaluation of crawl and refresh policies
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

// CrawlStarter is the slice of the pipeline manager the scheduler needs
type CrawlStarter interface {
	StartCrawl(ctx context.Context, cfg models.TaskConfig) (string, error)
}

// Service evaluates enabled crawl and refresh policies on a fixed cadence
// and turns due ones into crawl tasks and refresh dispatches
type Service struct {
	policies interfaces.PolicyStorage
	brk      interfaces.Broker
	starter  CrawlStarter
	cfg      *common.SchedulerConfig
	logger   arbor.ILogger
	parser   cron.Parser
}

// New creates the scheduler service
func New(policies interfaces.PolicyStorage, brk interfaces.Broker, starter CrawlStarter, cfg *common.SchedulerConfig, logger arbor.ILogger) *Service {
	return &Service{
		policies: policies,
		brk:      brk,
		starter:  starter,
		cfg:      cfg,
		logger:   logger,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Run ticks until the context is cancelled
func (s *Service) Run(ctx context.Context) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick evaluates every enabled policy once against now
func (s *Service) Tick(ctx context.Context, now time.Time) {
	crawlPolicies, err := s.policies.GetEnabledCrawlPolicies(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Crawl policy load failed")
	} else {
		for _, policy := range crawlPolicies {
			s.evaluateCrawlPolicy(ctx, policy, now)
		}
	}

	refreshPolicies, err := s.policies.GetEnabledRefreshPolicies(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Refresh policy load failed")
		return
	}
	for _, policy := range refreshPolicies {
		s.evaluateRefreshPolicy(ctx, policy, now)
	}
}

// evaluateCrawlPolicy fires a never-executed policy immediately; otherwise
// it fires when any of the policy's schedule tasks is due.
func (s *Service) evaluateCrawlPolicy(ctx context.Context, policy *models.CrawlPolicy, now time.Time) {
	var due []*models.ScheduleTask

	if policy.LastExecuted != nil {
		tasks, err := s.policies.GetScheduleTasks(ctx, policy.ID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("policy_id", policy.ID).Msg("Schedule task load failed")
			return
		}
		for _, task := range tasks {
			if !task.Enabled || !task.WithinWindow(now) {
				continue
			}
			if s.taskDue(ctx, policy, task, now) {
				due = append(due, task)
			}
		}
		if len(due) == 0 {
			return
		}
	}

	s.firePolicy(ctx, policy, now)

	for _, task := range due {
		run := now
		task.LastRun = &run
		task.RunCount++
		task.NextRun = s.nextRun(task, now)
		if err := s.policies.UpdateScheduleRun(ctx, task); err != nil {
			s.logger.Warn().Err(err).Int64("schedule_id", task.ID).Msg("Schedule run update failed")
		}
	}
}

// taskDue applies the firing rule for the task's temporal variant
func (s *Service) taskDue(ctx context.Context, policy *models.CrawlPolicy, task *models.ScheduleTask, now time.Time) bool {
	switch task.Type {
	case models.ScheduleTypeOnce:
		return task.OneTimeDate != nil && !task.OneTimeDate.After(now) && task.LastRun == nil

	case models.ScheduleTypeInterval:
		if task.IntervalSeconds <= 0 {
			return false
		}
		ref := policy.LastExecuted
		if task.LastRun != nil && (ref == nil || task.LastRun.After(*ref)) {
			ref = task.LastRun
		}
		if ref == nil {
			return true
		}
		return now.Sub(*ref) >= time.Duration(task.IntervalSeconds)*time.Second

	case models.ScheduleTypeCron:
		if task.NextRun == nil {
			// First sighting: stamp the next occurrence without firing
			task.NextRun = s.nextRun(task, now)
			if task.NextRun != nil {
				if err := s.policies.UpdateScheduleRun(ctx, task); err != nil {
					s.logger.Warn().Err(err).Int64("schedule_id", task.ID).Msg("Cron next_run init failed")
				}
			}
			return false
		}
		return !task.NextRun.After(now)

	default:
		return false
	}
}

// nextRun computes the task's next occurrence after now
func (s *Service) nextRun(task *models.ScheduleTask, now time.Time) *time.Time {
	switch task.Type {
	case models.ScheduleTypeInterval:
		next := now.Add(time.Duration(task.IntervalSeconds) * time.Second)
		return &next
	case models.ScheduleTypeCron:
		schedule, err := s.parser.Parse(task.CronExpression)
		if err != nil {
			s.logger.Warn().Err(err).Str("expression", task.CronExpression).Msg("Invalid cron expression")
			return nil
		}
		next := schedule.Next(now)
		return &next
	default:
		return nil
	}
}

// firePolicy creates one crawl task per start URL and stamps last_executed
func (s *Service) firePolicy(ctx context.Context, policy *models.CrawlPolicy, now time.Time) {
	var started int
	for _, startURL := range policy.StartURLs {
		taskID, err := s.starter.StartCrawl(ctx, models.TaskConfig{
			StartURLs:       []string{startURL},
			SiteID:          policy.SiteID,
			MaxURLs:         policy.MaxURLs,
			MaxDepth:        policy.MaxDepth,
			URLPatterns:     policy.URLPatterns,
			ExcludePatterns: policy.ExcludePatterns,
			CrawlDelay:      policy.CrawlDelay,
			CrawlerType:     policy.CrawlerType,
			DiscoverSitemap: policy.DiscoverSitemap,
			AdvancedConfig:  policy.AdvancedConfig,
		})
		if err != nil {
			s.logger.Warn().Err(err).Int64("policy_id", policy.ID).Str("start_url", startURL).Msg("Crawl task start failed")
			continue
		}
		started++
		s.logger.Info().
			Int64("policy_id", policy.ID).
			Str("task_id", taskID).
			Str("start_url", startURL).
			Msg("Policy fired")
	}

	if started > 0 {
		if err := s.policies.TouchPolicyExecuted(ctx, policy.ID); err != nil {
			s.logger.Warn().Err(err).Int64("policy_id", policy.ID).Msg("Policy stamp failed")
		}
	}
}

// evaluateRefreshPolicy dispatches a refresh task when the policy has
// never refreshed or its next_refresh has passed. The refresh worker
// needs live crawler workers, so a crawl task seeded with the site's base
// URL is started to host the re-crawls.
func (s *Service) evaluateRefreshPolicy(ctx context.Context, policy *models.RefreshPolicy, now time.Time) {
	if policy.LastRefresh != nil && (policy.NextRefresh == nil || policy.NextRefresh.After(now)) {
		return
	}

	site, err := s.policies.GetSite(ctx, policy.SiteID)
	if err != nil || site == nil {
		s.logger.Warn().Err(err).Str("site_id", policy.SiteID).Msg("Refresh skipped, site unavailable")
		return
	}

	taskID, err := s.starter.StartCrawl(ctx, models.TaskConfig{
		StartURLs:       []string{site.BaseURL},
		SiteID:          policy.SiteID,
		URLPatterns:     policy.URLPatterns,
		ExcludePatterns: policy.ExcludePatterns,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("site_id", policy.SiteID).Msg("Refresh crawl task start failed")
		return
	}

	_, err = s.brk.Enqueue(ctx, broker.QueueRefresh, taskID, &models.RefreshPayload{
		SiteID:              policy.SiteID,
		CrawlTaskID:         taskID,
		Strategy:            string(policy.Strategy),
		URLPatterns:         policy.URLPatterns,
		ExcludePatterns:     policy.ExcludePatterns,
		PriorityPatterns:    policy.PriorityPatterns,
		MaxAgeDays:          policy.MaxAgeDays,
		PolicyID:            policy.ID,
		RefreshIntervalDays: policy.RefreshIntervalDays,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("site_id", policy.SiteID).Msg("Refresh dispatch failed")
		return
	}

	// Stamp immediately so the next tick does not re-fire; the refresh
	// worker stamps again once the dispatch actually ran
	last := now
	next := now.AddDate(0, 0, policy.RefreshIntervalDays)
	policy.LastRefresh = &last
	policy.NextRefresh = &next
	if err := s.policies.UpdateRefreshTimestamps(ctx, policy); err != nil {
		s.logger.Warn().Err(err).Int64("policy_id", policy.ID).Msg("Refresh stamp failed")
	}

	s.logger.Info().
		Str("site_id", policy.SiteID).
		Str("crawl_task_id", taskID).
		Msg("Refresh dispatched")
}
