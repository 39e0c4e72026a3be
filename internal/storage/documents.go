// -----------------------------------------------------------------------
// Document Storage - hash-based version decision, bindings, history
// -----------------------------------------------------------------------

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

const documentColumns = `id, url, clean_content, mimetype, content_hash, status_code,
	headers, links, crawl_timestamp, metadata, crawler_id, crawler_type,
	version, index_operation, is_indexed, created_at, updated_at`

// StoreDocument runs the decision table in one transaction. Concurrent
// stores of the same URL serialize on the row lock; the unique constraint
// on url catches the insert race, which is retried once.
func (m *Manager) StoreDocument(ctx context.Context, doc *models.Document, siteIDs []string) (*models.StoreResult, error) {
	if doc.URL == "" {
		return nil, errors.New("document url is required")
	}
	if len(siteIDs) == 0 {
		return nil, errors.New("at least one site id is required")
	}
	if doc.ContentHash == "" {
		if len(doc.RawContent) > 0 {
			doc.ContentHash = common.ContentHash(doc.RawContent)
		} else {
			doc.ContentHash = common.ContentHash([]byte(doc.CleanContent))
		}
	}

	result, err := m.storeOnce(ctx, doc, siteIDs)
	if isUniqueViolation(err) {
		// Lost the insert race to a concurrent store of the same url; the
		// row exists now, so the decision table resolves without inserting.
		result, err = m.storeOnce(ctx, doc, siteIDs)
	}
	return result, err
}

func (m *Manager) storeOnce(ctx context.Context, doc *models.Document, siteIDs []string) (*models.StoreResult, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := m.queryDocument(ctx, tx,
		`SELECT `+documentColumns+` FROM documents WHERE url = $1 FOR UPDATE`, doc.URL)
	if err != nil {
		return nil, err
	}

	var operation models.StoreOperation
	var stored *models.Document
	var previousHash string

	switch {
	case existing == nil:
		byHash, err := m.queryDocument(ctx, tx,
			`SELECT `+documentColumns+` FROM documents WHERE content_hash = $1 LIMIT 1 FOR UPDATE`, doc.ContentHash)
		if err != nil {
			return nil, err
		}
		if byHash == nil {
			stored, err = m.insertDocument(ctx, tx, doc)
			if err != nil {
				return nil, err
			}
			if err := ensureBindings(ctx, tx, stored.ID, siteIDs); err != nil {
				return nil, err
			}
			if err := appendHistory(ctx, tx, stored, models.ChangeTypeNew); err != nil {
				return nil, err
			}
			operation = models.StoreOpNew
		} else {
			// URL-renamed identical content: bind the known document into
			// the requested sites without touching it.
			if err := ensureBindings(ctx, tx, byHash.ID, siteIDs); err != nil {
				return nil, err
			}
			stored = byHash
			operation = models.StoreOpNewSite
		}

	case existing.ContentHash == doc.ContentHash:
		bound, err := boundToAny(ctx, tx, existing.ID, siteIDs)
		if err != nil {
			return nil, err
		}
		if err := ensureBindings(ctx, tx, existing.ID, siteIDs); err != nil {
			return nil, err
		}
		stored = existing
		if bound {
			operation = models.StoreOpSkip
		} else {
			operation = models.StoreOpNewSite
		}

	default:
		previousHash = existing.ContentHash
		stored, err = m.updateDocument(ctx, tx, existing, doc)
		if err != nil {
			return nil, err
		}
		if err := ensureBindings(ctx, tx, stored.ID, siteIDs); err != nil {
			return nil, err
		}
		if err := appendHistory(ctx, tx, stored, models.ChangeTypeEdit); err != nil {
			return nil, err
		}
		operation = models.StoreOpEdit
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	m.logger.Debug().
		Str("url", doc.URL).
		Str("operation", string(operation)).
		Int("version", stored.Version).
		Msg("Document stored")
	return &models.StoreResult{Document: stored, Operation: operation, PreviousHash: previousHash}, nil
}

// DeleteDocument removes one site binding, or the whole document when
// siteID is empty or the last binding is gone
func (m *Manager) DeleteDocument(ctx context.Context, url string, siteID string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	doc, err := m.queryDocument(ctx, tx,
		`SELECT `+documentColumns+` FROM documents WHERE url = $1 FOR UPDATE`, url)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	deleteWhole := siteID == ""
	if !deleteWhole {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM site_documents WHERE document_id = $1 AND site_id = $2`, doc.ID, siteID); err != nil {
			return fmt.Errorf("remove site binding: %w", err)
		}
		var remaining int64
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM site_documents WHERE document_id = $1`, doc.ID).Scan(&remaining); err != nil {
			return fmt.Errorf("count bindings: %w", err)
		}
		deleteWhole = remaining == 0
	}

	if deleteWhole {
		if err := appendHistory(ctx, tx, doc, models.ChangeTypeDelete); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, doc.ID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	m.logger.Info().Str("url", url).Str("site_id", siteID).Bool("removed", deleteWhole).Msg("Document delete processed")
	return nil
}

// MarkIndexed flips is_indexed after the indexer worker succeeds
func (m *Manager) MarkIndexed(ctx context.Context, documentID int64) error {
	if _, err := m.db.ExecContext(ctx,
		`UPDATE documents SET is_indexed = true, updated_at = now() WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("mark indexed: %w", err)
	}
	return nil
}

// CheckExists runs the decision table read-only
func (m *Manager) CheckExists(ctx context.Context, url, siteID, contentHash string) (bool, *models.Document, models.StoreOperation, error) {
	doc, err := m.GetDocumentByURL(ctx, url)
	if err != nil {
		return false, nil, "", err
	}
	if doc == nil {
		if contentHash != "" {
			byHash, err := m.queryDocument(ctx, nil,
				`SELECT `+documentColumns+` FROM documents WHERE content_hash = $1 LIMIT 1`, contentHash)
			if err != nil {
				return false, nil, "", err
			}
			if byHash != nil {
				return true, byHash, models.StoreOpNewSite, nil
			}
		}
		return false, nil, models.StoreOpNew, nil
	}

	bound := true
	if siteID != "" {
		var err error
		bound, err = m.siteBound(ctx, doc.ID, siteID)
		if err != nil {
			return false, nil, "", err
		}
	}

	switch {
	case !bound:
		return true, doc, models.StoreOpNewSite, nil
	case contentHash != "" && doc.ContentHash != contentHash:
		return true, doc, models.StoreOpEdit, nil
	default:
		return true, doc, models.StoreOpSkip, nil
	}
}

// GetDocumentByURL fetches one document or nil
func (m *Manager) GetDocumentByURL(ctx context.Context, url string) (*models.Document, error) {
	return m.queryDocument(ctx, nil,
		`SELECT `+documentColumns+` FROM documents WHERE url = $1`, url)
}

// GetDocumentsBySite pages through a site's documents
func (m *Manager) GetDocumentsBySite(ctx context.Context, siteID string, limit, offset int) ([]*models.Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+prefixedDocumentColumns("d")+`
		FROM documents d
		JOIN site_documents sd ON sd.document_id = d.id
		WHERE sd.site_id = $1
		ORDER BY d.id
		LIMIT $2 OFFSET $3
	`, siteID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query site documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// GetHistory returns the append-only history for one url, oldest first
func (m *Manager) GetHistory(ctx context.Context, url string) ([]*models.CrawlHistory, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, document_id, url, content_hash, version, change_type, created_at, metadata
		FROM crawl_history
		WHERE url = $1
		ORDER BY id
	`, url)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []*models.CrawlHistory
	for rows.Next() {
		var h models.CrawlHistory
		var metadata []byte
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.URL, &h.ContentHash, &h.Version, &h.ChangeType, &h.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &h.Metadata)
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

// SearchDocuments is the keyword search behind the admin surface
func (m *Manager) SearchDocuments(ctx context.Context, query, siteID string, limit int) ([]*models.Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	pattern := "%" + query + "%"

	var rows *sql.Rows
	var err error
	if siteID != "" {
		rows, err = m.db.QueryContext(ctx, `
			SELECT `+prefixedDocumentColumns("d")+`
			FROM documents d
			JOIN site_documents sd ON sd.document_id = d.id
			WHERE sd.site_id = $1 AND (d.url ILIKE $2 OR d.clean_content ILIKE $2)
			ORDER BY d.updated_at DESC
			LIMIT $3
		`, siteID, pattern, limit)
	} else {
		rows, err = m.db.QueryContext(ctx, `
			SELECT `+documentColumns+`
			FROM documents
			WHERE url ILIKE $1 OR clean_content ILIKE $1
			ORDER BY updated_at DESC
			LIMIT $2
		`, pattern, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// Stats returns table counts for the status report
func (m *Manager) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, table := range []string{"sites", "documents", "site_documents", "crawl_history", "crawl_policies"} {
		var count int64
		if err := m.db.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

// ----- internals -----

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryDocument runs a single-document select on tx when given, otherwise
// on the pool
func (m *Manager) queryDocument(ctx context.Context, tx *sql.Tx, query string, args ...any) (*models.Document, error) {
	var q queryer = m.db
	if tx != nil {
		q = tx
	}
	doc, err := scanDocument(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

func (m *Manager) insertDocument(ctx context.Context, tx *sql.Tx, doc *models.Document) (*models.Document, error) {
	headers, links, metadata, err := encodeDocumentJSON(doc)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO documents (url, clean_content, mimetype, content_hash, status_code,
			headers, links, crawl_timestamp, metadata, crawler_id, crawler_type,
			version, index_operation, is_indexed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, 'new', false)
		RETURNING `+documentColumns,
		doc.URL, doc.CleanContent, doc.Mimetype, doc.ContentHash, doc.StatusCode,
		headers, links, doc.Timestamp, metadata, doc.CrawlerID, doc.CrawlerType)

	stored, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return stored, nil
}

func (m *Manager) updateDocument(ctx context.Context, tx *sql.Tx, existing, doc *models.Document) (*models.Document, error) {
	headers, links, metadata, err := encodeDocumentJSON(doc)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE documents SET
			clean_content = $2, mimetype = $3, content_hash = $4, status_code = $5,
			headers = $6, links = $7, crawl_timestamp = $8, metadata = $9,
			crawler_id = $10, crawler_type = $11,
			version = version + 1, index_operation = 'edit', is_indexed = false,
			updated_at = now()
		WHERE id = $1
		RETURNING `+documentColumns,
		existing.ID, doc.CleanContent, doc.Mimetype, doc.ContentHash, doc.StatusCode,
		headers, links, doc.Timestamp, metadata, doc.CrawlerID, doc.CrawlerType)

	stored, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return stored, nil
}

// ensureBindings inserts any missing site bindings, leaving existing ones
// untouched
func ensureBindings(ctx context.Context, tx *sql.Tx, documentID int64, siteIDs []string) error {
	for _, siteID := range siteIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO site_documents (site_id, document_id)
			VALUES ($1, $2)
			ON CONFLICT (site_id, document_id) DO NOTHING
		`, siteID, documentID); err != nil {
			return fmt.Errorf("bind document to site %s: %w", siteID, err)
		}
	}
	return nil
}

func boundToAny(ctx context.Context, tx *sql.Tx, documentID int64, siteIDs []string) (bool, error) {
	var count int64
	if err := tx.QueryRowContext(ctx, `
		SELECT count(*) FROM site_documents
		WHERE document_id = $1 AND site_id = ANY($2)
	`, documentID, pq.Array(siteIDs)).Scan(&count); err != nil {
		return false, fmt.Errorf("check site bindings: %w", err)
	}
	return count > 0, nil
}

func (m *Manager) siteBound(ctx context.Context, documentID int64, siteID string) (bool, error) {
	var count int64
	if err := m.db.QueryRowContext(ctx, `
		SELECT count(*) FROM site_documents WHERE document_id = $1 AND site_id = $2
	`, documentID, siteID).Scan(&count); err != nil {
		return false, fmt.Errorf("check site binding: %w", err)
	}
	return count > 0, nil
}

func appendHistory(ctx context.Context, tx *sql.Tx, doc *models.Document, change models.ChangeType) error {
	var metadata []byte
	if doc.Metadata != nil {
		metadata, _ = json.Marshal(doc.Metadata)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO crawl_history (document_id, url, content_hash, version, change_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, doc.URL, doc.ContentHash, doc.Version, change, metadata); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func encodeDocumentJSON(doc *models.Document) (headers, links, metadata []byte, err error) {
	if doc.Headers != nil {
		if headers, err = json.Marshal(doc.Headers); err != nil {
			return nil, nil, nil, fmt.Errorf("encode headers: %w", err)
		}
	}
	if doc.Links != nil {
		if links, err = json.Marshal(doc.Links); err != nil {
			return nil, nil, nil, fmt.Errorf("encode links: %w", err)
		}
	}
	if doc.Metadata != nil {
		if metadata, err = json.Marshal(doc.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	return headers, links, metadata, nil
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var headers, links, metadata []byte
	if err := row.Scan(
		&doc.ID, &doc.URL, &doc.CleanContent, &doc.Mimetype, &doc.ContentHash, &doc.StatusCode,
		&headers, &links, &doc.Timestamp, &metadata, &doc.CrawlerID, &doc.CrawlerType,
		&doc.Version, &doc.IndexOperation, &doc.IsIndexed, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &doc.Headers)
	}
	if len(links) > 0 {
		_ = json.Unmarshal(links, &doc.Links)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &doc.Metadata)
	}
	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]*models.Document, error) {
	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func prefixedDocumentColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.url, %[1]s.clean_content, %[1]s.mimetype, %[1]s.content_hash, %[1]s.status_code,
		%[1]s.headers, %[1]s.links, %[1]s.crawl_timestamp, %[1]s.metadata, %[1]s.crawler_id, %[1]s.crawler_type,
		%[1]s.version, %[1]s.index_operation, %[1]s.is_indexed, %[1]s.created_at, %[1]s.updated_at`, alias)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ interfaces.DocumentStorage = (*Manager)(nil)
