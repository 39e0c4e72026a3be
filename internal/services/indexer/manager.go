// -----------------------------------------------------------------------
// Site Indexer - per-site hybrid dense+sparse vector index on pgvector
// -----------------------------------------------------------------------

package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pgvector/pgvector-go"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

// sparseDim is the lexical vocabulary width of the sparse embeddings
// (BGE-M3 tokenizer)
const sparseDim = 250002

// Factory hands out per-site indexers backed by one shared Postgres
// connection pool. Collections (tables) are created lazily on first use.
type Factory struct {
	db        *sql.DB
	brk       interfaces.Broker
	embedder  interfaces.EmbeddingService
	reranker  interfaces.RerankerService
	chunker   *Chunker
	cfg       *common.IndexerConfig
	dimension int
	logger    arbor.ILogger

	mu       sync.Mutex
	indexers map[string]*siteIndexer
}

// NewFactory creates the indexer factory
func NewFactory(db *sql.DB, brk interfaces.Broker, embedder interfaces.EmbeddingService, reranker interfaces.RerankerService, dimension int, cfg *common.IndexerConfig, logger arbor.ILogger) *Factory {
	return &Factory{
		db:        db,
		brk:       brk,
		embedder:  embedder,
		reranker:  reranker,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:       cfg,
		dimension: dimension,
		logger:    logger,
		indexers:  make(map[string]*siteIndexer),
	}
}

// ForSite returns the indexer for siteID, creating its vector table and
// indexes on first access
func (f *Factory) ForSite(ctx context.Context, siteID string) (interfaces.SiteIndexer, error) {
	if !models.ValidSiteID(siteID) {
		return nil, fmt.Errorf("invalid site id %q", siteID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if idx, ok := f.indexers[siteID]; ok {
		return idx, nil
	}

	idx := &siteIndexer{
		factory: f,
		siteID:  siteID,
		table:   fmt.Sprintf("sitesearch_%s_vectors", siteID),
	}
	if err := idx.ensureTable(ctx); err != nil {
		return nil, err
	}

	f.indexers[siteID] = idx
	return idx, nil
}

type siteIndexer struct {
	factory *Factory
	siteID  string
	table   string
}

// ensureTable creates the per-site vector table and its HNSW indexes.
// Site ids are validated against [A-Za-z0-9_]+ so splicing them into DDL
// is safe.
func (s *siteIndexer) ensureTable(ctx context.Context) error {
	f := s.factory

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id TEXT PRIMARY KEY,
			ref_doc_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			chunk_text TEXT NOT NULL,
			embedding vector(%d),
			sparse_embedding sparsevec(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, f.dimension, sparseDim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ref_doc_idx ON %s (ref_doc_id)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_dense_idx ON %s
			USING hnsw (embedding vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)`, s.table, s.table, f.cfg.HNSWM, f.cfg.HNSWEfConstruct),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_sparse_idx ON %s
			USING hnsw (sparse_embedding sparsevec_ip_ops)
			WITH (m = %d, ef_construction = %d)`, s.table, s.table, f.cfg.HNSWM, f.cfg.HNSWEfConstruct),
	}

	for _, stmt := range statements {
		if _, err := f.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create collection for site %s: %w", s.siteID, err)
		}
	}

	f.logger.Debug().Str("site_id", s.siteID).Str("table", s.table).Msg("Vector collection ready")
	return nil
}

// Index chunks, embeds and upserts the document. Existing rows for the
// same doc id are replaced in the same transaction, so re-indexing the
// same content hash is idempotent.
func (s *siteIndexer) Index(ctx context.Context, doc *interfaces.IndexDocument) (int, error) {
	f := s.factory

	docID := fmt.Sprintf("%s:%s", doc.SiteID, doc.ContentHash)
	chunks := f.chunker.Split(doc.Content)
	if len(chunks) == 0 {
		f.logger.Warn().Str("url", doc.URL).Msg("Document produced no chunks, skipping index")
		return 0, nil
	}

	dense, err := f.embedder.EmbedDense(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed dense: %w", err)
	}
	sparse, err := f.embedder.EmbedSparse(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed sparse: %w", err)
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE ref_doc_id = $1`, s.table), docID); err != nil {
		return 0, fmt.Errorf("delete existing chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (chunk_id, ref_doc_id, chunk_index, url, title, chunk_text, embedding, sparse_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.table))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		chunkID := fmt.Sprintf("%s:%d", docID, i)
		if _, err := stmt.ExecContext(ctx,
			chunkID,
			docID,
			i,
			doc.URL,
			doc.Title,
			chunk,
			pgvector.NewVector(dense[i]),
			sparseVector(sparse[i]),
		); err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	if err := s.storeDocEntry(ctx, docID, doc); err != nil {
		f.logger.Warn().Err(err).Str("doc_id", docID).Msg("Docstore entry write failed")
	}

	f.logger.Info().
		Str("site_id", s.siteID).
		Str("url", doc.URL).
		Int("chunks", len(chunks)).
		Msg("Document indexed")
	return len(chunks), nil
}

// DeleteByContentHash removes every chunk of the document and its
// docstore entry
func (s *siteIndexer) DeleteByContentHash(ctx context.Context, contentHash string) error {
	f := s.factory
	docID := fmt.Sprintf("%s:%s", s.siteID, contentHash)

	if _, err := f.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE ref_doc_id = $1`, s.table), docID); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", docID, err)
	}

	if err := f.brk.HashDelete(ctx, broker.DocstoreKey(s.siteID), docID); err != nil {
		f.logger.Warn().Err(err).Str("doc_id", docID).Msg("Docstore entry delete failed")
	}

	f.logger.Info().Str("site_id", s.siteID).Str("doc_id", docID).Msg("Document removed from index")
	return nil
}

// Query runs dense and sparse retrieval, fuses the candidates and
// optionally reranks them. Results below the similarity cutoff are
// dropped when reranking is on.
func (s *siteIndexer) Query(ctx context.Context, query string, topK int, rerank bool) ([]interfaces.ScoredChunk, error) {
	f := s.factory

	if topK <= 0 {
		topK = f.cfg.TopK
	}

	denseVecs, err := f.embedder.EmbedDense(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query dense: %w", err)
	}
	sparseVecs, err := f.embedder.EmbedSparse(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query sparse: %w", err)
	}

	denseHits, err := s.searchDense(ctx, denseVecs[0], topK)
	if err != nil {
		return nil, err
	}
	sparseHits, err := s.searchSparse(ctx, sparseVecs[0], topK)
	if err != nil {
		return nil, err
	}

	fused := fuseCandidates(denseHits, sparseHits)
	fused = s.healOrphans(ctx, fused)

	if rerank && f.reranker != nil && len(fused) > 0 {
		reranked, err := s.rerankCandidates(ctx, query, fused, topK)
		if err != nil {
			f.logger.Warn().Err(err).Msg("Rerank failed, returning retrieval order")
		} else {
			fused = reranked
		}
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

func (s *siteIndexer) searchDense(ctx context.Context, embedding []float32, limit int) ([]interfaces.ScoredChunk, error) {
	f := s.factory

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin search transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL hnsw.ef_search = %d`, f.cfg.HNSWEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT ref_doc_id, chunk_text, url, title,
			1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, s.table), pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	defer rows.Close()

	hits, err := scanHits(rows)
	if err != nil {
		return nil, err
	}
	return hits, tx.Commit()
}

func (s *siteIndexer) searchSparse(ctx context.Context, weights map[uint32]float32, limit int) ([]interfaces.ScoredChunk, error) {
	f := s.factory

	if len(weights) == 0 {
		return nil, nil
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin search transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL hnsw.ef_search = %d`, f.cfg.HNSWEfSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT ref_doc_id, chunk_text, url, title,
			-(sparse_embedding <#> $1) AS similarity
		FROM %s
		ORDER BY sparse_embedding <#> $1
		LIMIT $2
	`, s.table), sparseVector(weights), limit)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	defer rows.Close()

	hits, err := scanHits(rows)
	if err != nil {
		return nil, err
	}
	return hits, tx.Commit()
}

func (s *siteIndexer) rerankCandidates(ctx context.Context, query string, candidates []interfaces.ScoredChunk, topK int) ([]interfaces.ScoredChunk, error) {
	f := s.factory

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.ChunkText
	}

	topN := f.cfg.RerankTopK
	if topN <= 0 || topN > topK {
		topN = topK
	}

	ranked, err := f.reranker.Rerank(ctx, query, texts, topN)
	if err != nil {
		return nil, err
	}

	var out []interfaces.ScoredChunk
	for _, r := range ranked {
		if r.Score < f.cfg.SimilarityCutoff {
			continue
		}
		hit := candidates[r.Index]
		hit.Score = r.Score
		out = append(out, hit)
	}
	return out, nil
}

// healOrphans drops hits whose docstore entry has vanished and removes
// their chunks from the vector table so the two stores stay consistent
func (s *siteIndexer) healOrphans(ctx context.Context, hits []interfaces.ScoredChunk) []interfaces.ScoredChunk {
	f := s.factory

	known := make(map[string]bool)
	out := hits[:0]
	for _, hit := range hits {
		ok, checked := known[hit.RefDocID]
		if !checked {
			var err error
			_, ok, err = f.brk.HashGet(ctx, broker.DocstoreKey(s.siteID), hit.RefDocID)
			if err != nil {
				// Broker hiccup: keep the hit rather than discard good data
				ok = true
			}
			known[hit.RefDocID] = ok
		}
		if !ok {
			if _, err := f.db.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE ref_doc_id = $1`, s.table), hit.RefDocID); err != nil {
				f.logger.Warn().Err(err).Str("ref_doc_id", hit.RefDocID).Msg("Orphan chunk cleanup failed")
			} else {
				f.logger.Warn().Str("ref_doc_id", hit.RefDocID).Msg("Removed orphaned chunks missing from docstore")
			}
			continue
		}
		out = append(out, hit)
	}
	return out
}

// storeDocEntry records the document summary in the site's docstore hash
func (s *siteIndexer) storeDocEntry(ctx context.Context, docID string, doc *interfaces.IndexDocument) error {
	entry, err := json.Marshal(map[string]string{
		"url":          doc.URL,
		"title":        doc.Title,
		"mimetype":     doc.Mimetype,
		"content_hash": doc.ContentHash,
	})
	if err != nil {
		return err
	}
	return s.factory.brk.HashSet(ctx, broker.DocstoreKey(s.siteID), docID, string(entry))
}

// fuseCandidates merges dense and sparse hit lists, keeping the best
// score per chunk and preserving score order
func fuseCandidates(dense, sparse []interfaces.ScoredChunk) []interfaces.ScoredChunk {
	type keyed struct {
		chunk interfaces.ScoredChunk
		order int
	}
	seen := make(map[string]*keyed)
	var order int

	absorb := func(hits []interfaces.ScoredChunk) {
		for _, hit := range hits {
			key := hit.RefDocID + "\x00" + hit.ChunkText
			if existing, ok := seen[key]; ok {
				if hit.Score > existing.chunk.Score {
					existing.chunk.Score = hit.Score
				}
				continue
			}
			seen[key] = &keyed{chunk: hit, order: order}
			order++
		}
	}
	absorb(dense)
	absorb(sparse)

	out := make([]interfaces.ScoredChunk, 0, len(seen))
	for _, k := range seen {
		out = append(out, k.chunk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func scanHits(rows *sql.Rows) ([]interfaces.ScoredChunk, error) {
	var hits []interfaces.ScoredChunk
	for rows.Next() {
		var hit interfaces.ScoredChunk
		var url, title string
		if err := rows.Scan(&hit.RefDocID, &hit.ChunkText, &url, &title, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hit.Metadata = map[string]string{"url": url, "title": title}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// sparseVector converts a token-weight map into pgvector's sparsevec
// representation
func sparseVector(weights map[uint32]float32) pgvector.SparseVector {
	elements := make(map[int32]float32, len(weights))
	for token, weight := range weights {
		elements[int32(token)] = weight
	}
	return pgvector.NewSparseVectorFromMap(elements, sparseDim)
}

// DropSite removes a site's vector table entirely. Used when a site is
// deleted from configuration.
func (f *Factory) DropSite(ctx context.Context, siteID string) error {
	if !models.ValidSiteID(siteID) {
		return fmt.Errorf("invalid site id %q", siteID)
	}

	table := fmt.Sprintf("sitesearch_%s_vectors", siteID)
	if _, err := f.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("drop collection for site %s: %w", siteID, err)
	}

	if err := f.brk.DeleteKeys(ctx, broker.DocstoreKey(siteID)); err != nil {
		return fmt.Errorf("drop docstore for site %s: %w", siteID, err)
	}

	f.mu.Lock()
	delete(f.indexers, siteID)
	f.mu.Unlock()

	f.logger.Info().Str("site_id", siteID).Msg("Site collection dropped")
	return nil
}

var _ interfaces.IndexerFactory = (*Factory)(nil)
