package models

import (
	"time"
)

// CrawlerType selects the fetch implementation for a crawl task
type CrawlerType string

const (
	CrawlerTypeHTTPX     CrawlerType = "httpx"     // Plain HTTP fetch
	CrawlerTypeFirecrawl CrawlerType = "firecrawl" // External LLM-driven crawler service
	CrawlerTypeBrowser   CrawlerType = "browser"   // Headless Chrome for script-rendered pages
)

// IsValid reports whether the crawler type is one of the known variants
func (t CrawlerType) IsValid() bool {
	switch t {
	case CrawlerTypeHTTPX, CrawlerTypeFirecrawl, CrawlerTypeBrowser:
		return true
	}
	return false
}

// CrawlPolicy declares what to crawl for a site. Unique per (site, name).
type CrawlPolicy struct {
	ID                  int64          `json:"id"`
	SiteID              string         `json:"site_id"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	StartURLs           []string       `json:"start_urls"`
	URLPatterns         []string       `json:"url_patterns"`     // Include regexes; empty means match all
	ExcludePatterns     []string       `json:"exclude_patterns"` // Exclude regexes
	MaxDepth            int            `json:"max_depth"`
	MaxURLs             int            `json:"max_urls"`
	CrawlDelay          float64        `json:"crawl_delay"` // Seconds between fetches per worker
	CrawlerType         CrawlerType    `json:"crawler_type"`
	FollowRobotsTxt     bool           `json:"follow_robots_txt"`
	DiscoverSitemap     bool           `json:"discover_sitemap"`
	RespectMetaRobots   bool           `json:"respect_meta_robots"`
	AllowSubdomains     bool           `json:"allow_subdomains"`
	AllowExternalLinks  bool           `json:"allow_external_links"`
	AllowedContentTypes []string       `json:"allowed_content_types"`
	AdvancedConfig      map[string]any `json:"advanced_config"`
	Enabled             bool           `json:"enabled"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	LastExecuted        *time.Time     `json:"last_executed"`
}

// RefreshStrategy picks which of a site's documents a refresh re-crawls
type RefreshStrategy string

const (
	RefreshStrategyAll         RefreshStrategy = "all"
	RefreshStrategyIncremental RefreshStrategy = "incremental"
	RefreshStrategySelective   RefreshStrategy = "selective"
)

// RefreshPolicy is bound one-to-one to a Site
type RefreshPolicy struct {
	ID                  int64           `json:"id"`
	SiteID              string          `json:"site_id"`
	Strategy            RefreshStrategy `json:"strategy"`
	RefreshIntervalDays int             `json:"refresh_interval_days"`
	URLPatterns         []string        `json:"url_patterns"`
	ExcludePatterns     []string        `json:"exclude_patterns"`
	PriorityPatterns    []string        `json:"priority_patterns"`
	MaxAgeDays          int             `json:"max_age_days"`
	Enabled             bool            `json:"enabled"`
	LastRefresh         *time.Time      `json:"last_refresh"`
	NextRefresh         *time.Time      `json:"next_refresh"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
