// -----------------------------------------------------------------------
// Policy Storage - scheduler's view of crawl/schedule/refresh policies
// -----------------------------------------------------------------------

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

// GetEnabledCrawlPolicies returns every enabled crawl policy, oldest first
func (m *Manager) GetEnabledCrawlPolicies(ctx context.Context) ([]*models.CrawlPolicy, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, site_id, name, description, start_urls, url_patterns, exclude_patterns,
			max_depth, max_urls, crawl_delay, crawler_type, follow_robots_txt,
			discover_sitemap, respect_meta_robots, allow_subdomains, allow_external_links,
			allowed_content_types, advanced_config, enabled, created_at, updated_at, last_executed
		FROM crawl_policies
		WHERE enabled
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query crawl policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.CrawlPolicy
	for rows.Next() {
		var p models.CrawlPolicy
		var startURLs, urlPatterns, excludePatterns, contentTypes, advanced []byte
		if err := rows.Scan(
			&p.ID, &p.SiteID, &p.Name, &p.Description, &startURLs, &urlPatterns, &excludePatterns,
			&p.MaxDepth, &p.MaxURLs, &p.CrawlDelay, &p.CrawlerType, &p.FollowRobotsTxt,
			&p.DiscoverSitemap, &p.RespectMetaRobots, &p.AllowSubdomains, &p.AllowExternalLinks,
			&contentTypes, &advanced, &p.Enabled, &p.CreatedAt, &p.UpdatedAt, &p.LastExecuted,
		); err != nil {
			return nil, fmt.Errorf("scan crawl policy: %w", err)
		}
		decodeJSON(startURLs, &p.StartURLs)
		decodeJSON(urlPatterns, &p.URLPatterns)
		decodeJSON(excludePatterns, &p.ExcludePatterns)
		decodeJSON(contentTypes, &p.AllowedContentTypes)
		decodeJSON(advanced, &p.AdvancedConfig)
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

// GetScheduleTasks returns the enabled schedule tasks bound to a policy
func (m *Manager) GetScheduleTasks(ctx context.Context, policyID int64) ([]*models.ScheduleTask, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, policy_id, schedule_type, one_time_date, interval_seconds, cron_expression,
			start_date, end_date, last_run, next_run, run_count, max_runs, enabled,
			created_at, updated_at
		FROM schedule_tasks
		WHERE policy_id = $1 AND enabled
		ORDER BY id
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("query schedule tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ScheduleTask
	for rows.Next() {
		var t models.ScheduleTask
		if err := rows.Scan(
			&t.ID, &t.PolicyID, &t.Type, &t.OneTimeDate, &t.IntervalSeconds, &t.CronExpression,
			&t.StartDate, &t.EndDate, &t.LastRun, &t.NextRun, &t.RunCount, &t.MaxRuns, &t.Enabled,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan schedule task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// GetEnabledRefreshPolicies returns every enabled refresh policy
func (m *Manager) GetEnabledRefreshPolicies(ctx context.Context) ([]*models.RefreshPolicy, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, site_id, strategy, refresh_interval_days, url_patterns, exclude_patterns,
			priority_patterns, max_age_days, enabled, last_refresh, next_refresh,
			created_at, updated_at
		FROM refresh_policies
		WHERE enabled
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query refresh policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.RefreshPolicy
	for rows.Next() {
		var p models.RefreshPolicy
		var urlPatterns, excludePatterns, priorityPatterns []byte
		if err := rows.Scan(
			&p.ID, &p.SiteID, &p.Strategy, &p.RefreshIntervalDays, &urlPatterns, &excludePatterns,
			&priorityPatterns, &p.MaxAgeDays, &p.Enabled, &p.LastRefresh, &p.NextRefresh,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan refresh policy: %w", err)
		}
		decodeJSON(urlPatterns, &p.URLPatterns)
		decodeJSON(excludePatterns, &p.ExcludePatterns)
		decodeJSON(priorityPatterns, &p.PriorityPatterns)
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

// TouchPolicyExecuted stamps last_executed on a fired crawl policy
func (m *Manager) TouchPolicyExecuted(ctx context.Context, policyID int64) error {
	if _, err := m.db.ExecContext(ctx, `
		UPDATE crawl_policies SET last_executed = now(), updated_at = now() WHERE id = $1
	`, policyID); err != nil {
		return fmt.Errorf("touch policy executed: %w", err)
	}
	return nil
}

// UpdateScheduleRun persists the post-fire state of a schedule task
func (m *Manager) UpdateScheduleRun(ctx context.Context, task *models.ScheduleTask) error {
	if _, err := m.db.ExecContext(ctx, `
		UPDATE schedule_tasks
		SET last_run = $2, next_run = $3, run_count = $4, updated_at = now()
		WHERE id = $1
	`, task.ID, task.LastRun, task.NextRun, task.RunCount); err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

// UpdateRefreshTimestamps persists last_refresh/next_refresh after a
// refresh dispatch
func (m *Manager) UpdateRefreshTimestamps(ctx context.Context, policy *models.RefreshPolicy) error {
	if _, err := m.db.ExecContext(ctx, `
		UPDATE refresh_policies
		SET last_refresh = $2, next_refresh = $3, updated_at = now()
		WHERE id = $1
	`, policy.ID, policy.LastRefresh, policy.NextRefresh); err != nil {
		return fmt.Errorf("update refresh timestamps: %w", err)
	}
	return nil
}

// GetSite fetches one site or nil
func (m *Manager) GetSite(ctx context.Context, siteID string) (*models.Site, error) {
	var s models.Site
	err := m.db.QueryRowContext(ctx, `
		SELECT s.id, s.name, s.base_url, s.enabled, s.created_at, s.updated_at,
			(SELECT count(*) FROM site_documents sd WHERE sd.site_id = s.id),
			(SELECT count(*) FROM site_documents sd
				JOIN documents d ON d.id = sd.document_id
				WHERE sd.site_id = s.id AND d.is_indexed)
		FROM sites s
		WHERE s.id = $1
	`, siteID).Scan(&s.ID, &s.Name, &s.BaseURL, &s.Enabled, &s.CreatedAt, &s.UpdatedAt,
		&s.DocumentCount, &s.IndexCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query site: %w", err)
	}
	return &s, nil
}

// UpsertSite registers or updates a site record
func (m *Manager) UpsertSite(ctx context.Context, site *models.Site) error {
	if !models.ValidSiteID(site.ID) {
		return fmt.Errorf("invalid site id %q", site.ID)
	}
	if _, err := m.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, base_url, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, base_url = EXCLUDED.base_url,
			enabled = EXCLUDED.enabled, updated_at = now()
	`, site.ID, site.Name, site.BaseURL, site.Enabled); err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	return nil
}

func decodeJSON[T any](data []byte, out *T) {
	if len(data) > 0 {
		_ = json.Unmarshal(data, out)
	}
}

var _ interfaces.PolicyStorage = (*Manager)(nil)
