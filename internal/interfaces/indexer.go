package interfaces

import (
	"context"
)

// ScoredChunk is one retrieval hit
type ScoredChunk struct {
	RefDocID  string            `json:"ref_doc_id"`
	ChunkText string            `json:"chunk_text"`
	Score     float64           `json:"score"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IndexDocument is the indexer's input: one cleaned document to chunk,
// embed and upsert under its site namespace
type IndexDocument struct {
	SiteID      string
	URL         string
	Title       string
	Mimetype    string
	ContentHash string
	Content     string
}

// SiteIndexer owns one site's vector collection and chunk docstore
type SiteIndexer interface {
	// Index chunks, embeds and upserts the document; idempotent by doc id
	Index(ctx context.Context, doc *IndexDocument) (int, error)

	// DeleteByContentHash removes every chunk whose ref doc id matches
	DeleteByContentHash(ctx context.Context, contentHash string) error

	// Query runs hybrid dense+sparse retrieval with optional rerank
	Query(ctx context.Context, query string, topK int, rerank bool) ([]ScoredChunk, error)
}

// IndexerFactory hands out per-site indexers, creating collections lazily
type IndexerFactory interface {
	ForSite(ctx context.Context, siteID string) (SiteIndexer, error)
}

// EmbeddingService is the external dense+sparse embedding endpoint
type EmbeddingService interface {
	// EmbedDense returns one dense vector per input text
	EmbedDense(ctx context.Context, inputs []string) ([][]float32, error)

	// EmbedSparse returns one token-weight map per input text
	EmbedSparse(ctx context.Context, inputs []string) ([]map[uint32]float32, error)
}

// RerankerService re-orders candidate texts against a query
type RerankerService interface {
	// Rerank returns indices into documents with scores, best first
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]RankedResult, error)
}

// RankedResult is one reranker hit
type RankedResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}
