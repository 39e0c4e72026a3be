package models

import (
	"time"
)

// TaskStatus tracks a crawl task through its lifecycle
type TaskStatus string

const (
	TaskStatusStarting  TaskStatus = "starting"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusStopped   TaskStatus = "stopped"
	TaskStatusCompleted TaskStatus = "completed"
)

// TaskConfig is everything a crawl task needs, derived from a CrawlPolicy
// or supplied directly through the admin interface
type TaskConfig struct {
	StartURLs       []string       `json:"start_urls"`
	SiteID          string         `json:"site_id"`
	MaxURLs         int            `json:"max_urls"`
	MaxDepth        int            `json:"max_depth"`
	URLPatterns     []string       `json:"url_patterns"`
	ExcludePatterns []string       `json:"exclude_patterns"`
	CrawlDelay      float64        `json:"crawl_delay"`
	CrawlerType     CrawlerType    `json:"crawler_type"`
	CrawlerWorkers  int            `json:"crawler_workers"`
	DiscoverSitemap bool           `json:"discover_sitemap"`
	AdvancedConfig  map[string]any `json:"advanced_config,omitempty"`
}

// TaskSnapshot is the manager's view of one crawl task
type TaskSnapshot struct {
	TaskID    string        `json:"task_id"`
	SiteID    string        `json:"site_id"`
	Config    TaskConfig    `json:"config"`
	Status    TaskStatus    `json:"status"`
	Workers   int           `json:"workers"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Queue     *QueueMetrics `json:"queue,omitempty"`
	Crawled   int64         `json:"crawled"`
}
