package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/models"
)

var docCols = []string{
	"id", "url", "clean_content", "mimetype", "content_hash", "status_code",
	"headers", "links", "crawl_timestamp", "metadata", "crawler_id", "crawler_type",
	"version", "index_operation", "is_indexed", "created_at", "updated_at",
}

func docRow(id int64, url, hash string, version int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(docCols).AddRow(
		id, url, "clean text", "text/html", hash, 200,
		nil, nil, now.Unix(), nil, "crawler-1", "httpx",
		version, "new", false, now, now)
}

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, common.GetLogger()), mock
}

func TestStoreDocumentNew(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(sqlmock.NewRows(docCols))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE content_hash").
		WillReturnRows(sqlmock.NewRows(docCols))
	mock.ExpectQuery("INSERT INTO documents").
		WillReturnRows(docRow(1, "https://example.edu/a", "h1", 1))
	mock.ExpectExec("INSERT INTO site_documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO crawl_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := m.StoreDocument(t.Context(), &models.Document{
		URL:          "https://example.edu/a",
		CleanContent: "clean text",
		ContentHash:  "h1",
	}, []string{"docs"})
	require.NoError(t, err)

	assert.Equal(t, models.StoreOpNew, result.Operation)
	assert.Equal(t, 1, result.Document.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDocumentSkipWhenHashUnchanged(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(docRow(1, "https://example.edu/a", "h1", 3))
	mock.ExpectQuery(`SELECT count\(\*\) FROM site_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO site_documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := m.StoreDocument(t.Context(), &models.Document{
		URL:         "https://example.edu/a",
		ContentHash: "h1",
	}, []string{"docs"})
	require.NoError(t, err)

	// No new history row, no version bump
	assert.Equal(t, models.StoreOpSkip, result.Operation)
	assert.Equal(t, 3, result.Document.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDocumentEditWhenHashChanged(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(docRow(1, "https://example.edu/a", "h1", 1))
	mock.ExpectQuery("UPDATE documents SET").
		WillReturnRows(docRow(1, "https://example.edu/a", "h2", 2))
	mock.ExpectExec("INSERT INTO site_documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO crawl_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := m.StoreDocument(t.Context(), &models.Document{
		URL:         "https://example.edu/a",
		ContentHash: "h2",
	}, []string{"docs"})
	require.NoError(t, err)

	assert.Equal(t, models.StoreOpEdit, result.Operation)
	assert.Equal(t, 2, result.Document.Version)
	assert.Equal(t, "h1", result.PreviousHash, "edit must surface the superseded hash")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDocumentNewSiteForRenamedURL(t *testing.T) {
	m, mock := newTestManager(t)

	// Unknown url but the content hash matches an existing document
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(sqlmock.NewRows(docCols))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE content_hash").
		WillReturnRows(docRow(7, "https://example.edu/old", "h1", 2))
	mock.ExpectExec("INSERT INTO site_documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := m.StoreDocument(t.Context(), &models.Document{
		URL:         "https://example.edu/renamed",
		ContentHash: "h1",
	}, []string{"news"})
	require.NoError(t, err)

	assert.Equal(t, models.StoreOpNewSite, result.Operation)
	assert.Equal(t, int64(7), result.Document.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDocumentNewSiteForUnboundSite(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(docRow(1, "https://example.edu/a", "h1", 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM site_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO site_documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := m.StoreDocument(t.Context(), &models.Document{
		URL:         "https://example.edu/a",
		ContentHash: "h1",
	}, []string{"second_site"})
	require.NoError(t, err)

	assert.Equal(t, models.StoreOpNewSite, result.Operation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDocumentComputesHashWhenMissing(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(sqlmock.NewRows(docCols))
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE content_hash").
		WillReturnRows(sqlmock.NewRows(docCols))
	mock.ExpectQuery("INSERT INTO documents").
		WillReturnRows(docRow(1, "https://example.edu/a", common.ContentHash([]byte("raw bytes")), 1))
	mock.ExpectExec("INSERT INTO site_documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO crawl_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	doc := &models.Document{
		URL:        "https://example.edu/a",
		RawContent: []byte("raw bytes"),
	}
	_, err := m.StoreDocument(t.Context(), doc, []string{"docs"})
	require.NoError(t, err)
	assert.Equal(t, common.ContentHash([]byte("raw bytes")), doc.ContentHash)
}

func TestDeleteDocumentLastBindingRemovesDocument(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(docRow(1, "https://example.edu/a", "h1", 2))
	mock.ExpectExec("DELETE FROM site_documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM site_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO crawl_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.DeleteDocument(t.Context(), "https://example.edu/a", "docs"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDocumentKeepsDocumentWithRemainingBindings(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(docRow(1, "https://example.edu/a", "h1", 2))
	mock.ExpectExec("DELETE FROM site_documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM site_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, m.DeleteDocument(t.Context(), "https://example.edu/a", "docs"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDocumentUnknownURLIsNoop(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(sqlmock.NewRows(docCols))
	mock.ExpectRollback()

	require.NoError(t, m.DeleteDocument(t.Context(), "https://example.edu/missing", ""))
}

func TestCheckExistsNew(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(sqlmock.NewRows(docCols))

	exists, doc, op, err := m.CheckExists(t.Context(), "https://example.edu/a", "docs", "")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Nil(t, doc)
	assert.Equal(t, models.StoreOpNew, op)
}

func TestCheckExistsSkipAndEdit(t *testing.T) {
	m, mock := newTestManager(t)

	// Same hash, bound to site -> skip
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(docRow(1, "https://example.edu/a", "h1", 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM site_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, _, op, err := m.CheckExists(t.Context(), "https://example.edu/a", "docs", "h1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, models.StoreOpSkip, op)

	// Different hash -> edit
	mock.ExpectQuery("SELECT (.+) FROM documents WHERE url").
		WillReturnRows(docRow(1, "https://example.edu/a", "h1", 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM site_documents`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, _, op, err = m.CheckExists(t.Context(), "https://example.edu/a", "docs", "h2")
	require.NoError(t, err)
	assert.Equal(t, models.StoreOpEdit, op)
}

func TestMarkIndexed(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectExec("UPDATE documents SET is_indexed = true").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.MarkIndexed(t.Context(), 42))
	assert.NoError(t, mock.ExpectationsWereMet())
}
