package interfaces

import (
	"context"

	"github.com/ternarybob/sitesearch/internal/models"
)

// DocumentStorage is the relational layer: document CRUD with the
// hash-based version decision, site bindings and crawl history.
type DocumentStorage interface {
	// StoreDocument runs the decision table in one transaction and returns
	// the document plus the operation taken (new/new_site/edit/skip).
	StoreDocument(ctx context.Context, doc *models.Document, siteIDs []string) (*models.StoreResult, error)

	// DeleteDocument removes the site binding when siteID is non-empty and
	// deletes the document (with a terminal history row) when it is empty or
	// no bindings remain.
	DeleteDocument(ctx context.Context, url string, siteID string) error

	// MarkIndexed flips is_indexed after the indexer worker succeeds
	MarkIndexed(ctx context.Context, documentID int64) error

	// CheckExists runs the decision table read-only for the crawler's
	// pre-fetch short circuit.
	CheckExists(ctx context.Context, url, siteID, contentHash string) (bool, *models.Document, models.StoreOperation, error)

	// GetDocumentByURL fetches one document or nil
	GetDocumentByURL(ctx context.Context, url string) (*models.Document, error)

	// GetDocumentsBySite pages through a site's documents for refresh runs
	GetDocumentsBySite(ctx context.Context, siteID string, limit, offset int) ([]*models.Document, error)

	// GetHistory returns the append-only history for one url, oldest first
	GetHistory(ctx context.Context, url string) ([]*models.CrawlHistory, error)

	// SearchDocuments is the keyword search used by the admin surface
	SearchDocuments(ctx context.Context, query, siteID string, limit int) ([]*models.Document, error)

	// Stats returns table counts for the status report
	Stats(ctx context.Context) (map[string]int64, error)
}

// PolicyStorage gives the scheduler its view of policies and schedules
type PolicyStorage interface {
	GetEnabledCrawlPolicies(ctx context.Context) ([]*models.CrawlPolicy, error)
	GetScheduleTasks(ctx context.Context, policyID int64) ([]*models.ScheduleTask, error)
	GetEnabledRefreshPolicies(ctx context.Context) ([]*models.RefreshPolicy, error)
	TouchPolicyExecuted(ctx context.Context, policyID int64) error
	UpdateScheduleRun(ctx context.Context, task *models.ScheduleTask) error
	UpdateRefreshTimestamps(ctx context.Context, policy *models.RefreshPolicy) error
	GetSite(ctx context.Context, siteID string) (*models.Site, error)
}
