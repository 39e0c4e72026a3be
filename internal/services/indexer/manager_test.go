package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
)

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) EmbedDense(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		vec := make([]float32, f.dim)
		vec[0] = float32(i + 1)
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSparse(_ context.Context, inputs []string) ([]map[uint32]float32, error) {
	out := make([]map[uint32]float32, len(inputs))
	for i := range inputs {
		out[i] = map[uint32]float32{uint32(i + 1): 0.5}
	}
	return out, nil
}

func newTestFactory(t *testing.T) (*Factory, sqlmock.Sqlmock, interfaces.Broker) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	brk := broker.NewWithClient(rdb, &common.BrokerConfig{
		OpTimeout:    time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, common.GetLogger())

	cfg := &common.IndexerConfig{
		ChunkSize:        1024,
		ChunkOverlap:     256,
		TopK:             10,
		RerankTopK:       5,
		SimilarityCutoff: 0.6,
		HNSWM:            32,
		HNSWEfConstruct:  200,
		HNSWEfSearch:     512,
	}

	factory := NewFactory(db, brk, &fakeEmbedder{dim: 4}, nil, 4, cfg, common.GetLogger())
	return factory, mock, brk
}

func expectEnsureTable(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sitesearch_docs_vectors").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS sitesearch_docs_vectors_ref_doc_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS sitesearch_docs_vectors_dense_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS sitesearch_docs_vectors_sparse_idx").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestForSiteCreatesCollectionOnce(t *testing.T) {
	factory, mock, _ := newTestFactory(t)

	expectEnsureTable(mock)

	first, err := factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)

	// Second access reuses the cached indexer, no further DDL
	second, err := factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)
	assert.Same(t, first, second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestForSiteRejectsInvalidSiteID(t *testing.T) {
	factory, _, _ := newTestFactory(t)

	_, err := factory.ForSite(t.Context(), "bad-site; DROP TABLE")
	assert.Error(t, err)
}

func TestIndexReplacesExistingChunks(t *testing.T) {
	factory, mock, brk := newTestFactory(t)

	expectEnsureTable(mock)
	idx, err := factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sitesearch_docs_vectors WHERE ref_doc_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare("INSERT INTO sitesearch_docs_vectors")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := idx.Index(t.Context(), &interfaces.IndexDocument{
		SiteID:      "docs",
		URL:         "https://example.edu/page/about",
		Title:       "About",
		Mimetype:    "text/html",
		ContentHash: "abc123",
		Content:     "a short cleaned document",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Docstore entry lands in the site hash under the doc id
	value, ok, err := brk.HashGet(t.Context(), broker.DocstoreKey("docs"), "docs:abc123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, value, "https://example.edu/page/about")
}

func TestIndexEmptyContentSkips(t *testing.T) {
	factory, mock, _ := newTestFactory(t)

	expectEnsureTable(mock)
	idx, err := factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)

	count, err := idx.Index(t.Context(), &interfaces.IndexDocument{
		SiteID:      "docs",
		ContentHash: "abc123",
		Content:     "   ",
	})
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByContentHashRemovesChunksAndDocstore(t *testing.T) {
	factory, mock, brk := newTestFactory(t)

	expectEnsureTable(mock)
	idx, err := factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)

	require.NoError(t, brk.HashSet(t.Context(), broker.DocstoreKey("docs"), "docs:abc123", "{}"))

	mock.ExpectExec("DELETE FROM sitesearch_docs_vectors WHERE ref_doc_id").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, idx.DeleteByContentHash(t.Context(), "abc123"))
	assert.NoError(t, mock.ExpectationsWereMet())

	_, ok, err := brk.HashGet(t.Context(), broker.DocstoreKey("docs"), "docs:abc123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryFusesDenseAndSparse(t *testing.T) {
	factory, mock, brk := newTestFactory(t)

	expectEnsureTable(mock)
	idx, err := factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)

	for _, docID := range []string{"docs:h1", "docs:h2", "docs:h3"} {
		require.NoError(t, brk.HashSet(t.Context(), broker.DocstoreKey("docs"), docID, "{}"))
	}

	columns := []string{"ref_doc_id", "chunk_text", "url", "title", "similarity"}

	// Dense pass
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL hnsw.ef_search").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("ORDER BY embedding").WillReturnRows(
		sqlmock.NewRows(columns).
			AddRow("docs:h1", "alpha", "https://example.edu/a", "A", 0.92).
			AddRow("docs:h2", "beta", "https://example.edu/b", "B", 0.40))
	mock.ExpectCommit()

	// Sparse pass
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL hnsw.ef_search").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("ORDER BY sparse_embedding").WillReturnRows(
		sqlmock.NewRows(columns).
			AddRow("docs:h1", "alpha", "https://example.edu/a", "A", 0.55).
			AddRow("docs:h3", "gamma", "https://example.edu/c", "C", 0.70))
	mock.ExpectCommit()

	hits, err := idx.Query(t.Context(), "alpha beta", 10, false)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "alpha", hits[0].ChunkText)
	assert.InDelta(t, 0.92, hits[0].Score, 1e-9)
	assert.Equal(t, "https://example.edu/a", hits[0].Metadata["url"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDropSiteRemovesTableAndDocstore(t *testing.T) {
	factory, mock, brk := newTestFactory(t)

	expectEnsureTable(mock)
	_, err := factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)

	require.NoError(t, brk.HashSet(t.Context(), broker.DocstoreKey("docs"), "docs:abc123", "{}"))

	mock.ExpectExec("DROP TABLE IF EXISTS sitesearch_docs_vectors").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, factory.DropSite(t.Context(), "docs"))
	assert.NoError(t, mock.ExpectationsWereMet())

	_, ok, err := brk.HashGet(t.Context(), broker.DocstoreKey("docs"), "docs:abc123")
	require.NoError(t, err)
	assert.False(t, ok)

	// A fresh ForSite rebuilds the collection after a drop
	expectEnsureTable(mock)
	_, err = factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryHealsOrphanedChunks(t *testing.T) {
	factory, mock, brk := newTestFactory(t)

	expectEnsureTable(mock)
	idx, err := factory.ForSite(t.Context(), "docs")
	require.NoError(t, err)

	// Only h1 has a docstore entry; h2 is an orphan left in the vector table
	require.NoError(t, brk.HashSet(t.Context(), broker.DocstoreKey("docs"), "docs:h1", "{}"))

	columns := []string{"ref_doc_id", "chunk_text", "url", "title", "similarity"}

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL hnsw.ef_search").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("ORDER BY embedding").WillReturnRows(
		sqlmock.NewRows(columns).
			AddRow("docs:h1", "alpha", "https://example.edu/a", "A", 0.92).
			AddRow("docs:h2", "beta", "https://example.edu/b", "B", 0.80))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL hnsw.ef_search").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("ORDER BY sparse_embedding").WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectCommit()

	mock.ExpectExec("DELETE FROM sitesearch_docs_vectors WHERE ref_doc_id").
		WillReturnResult(sqlmock.NewResult(0, 2))

	hits, err := idx.Query(t.Context(), "alpha", 10, false)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "docs:h1", hits[0].RefDocID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
