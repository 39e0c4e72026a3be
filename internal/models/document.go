package models

import (
	"time"
)

// IndexOperation tells the indexer worker what to do with a stored document
type IndexOperation string

const (
	IndexOpNew    IndexOperation = "new"
	IndexOpEdit   IndexOperation = "edit"
	IndexOpDelete IndexOperation = "delete"
)

// StoreOperation is the classification returned by the storage decision
// table for one store call
type StoreOperation string

const (
	StoreOpNew     StoreOperation = "new"      // Unknown url and hash
	StoreOpNewSite StoreOperation = "new_site" // Known content, new site binding
	StoreOpEdit    StoreOperation = "edit"     // Known url, changed content
	StoreOpSkip    StoreOperation = "skip"     // Known url, unchanged content
	StoreOpDelete  StoreOperation = "delete"   // Crawl reported the url gone
)

// ChangeType labels a CrawlHistory row
type ChangeType string

const (
	ChangeTypeNew    ChangeType = "new"
	ChangeTypeEdit   ChangeType = "edit"
	ChangeTypeDelete ChangeType = "delete"
)

// Document is the canonical record for a crawled URL. Identity is the url;
// content identity is the SHA-256 content hash.
type Document struct {
	ID             int64             `json:"id"`
	URL            string            `json:"url"`
	RawContent     []byte            `json:"-"`
	CleanContent   string            `json:"clean_content"`
	Mimetype       string            `json:"mimetype"`
	ContentHash    string            `json:"content_hash"`
	StatusCode     int               `json:"status_code"`
	Headers        map[string]string `json:"headers"`
	Links          []string          `json:"links"`
	Timestamp      int64             `json:"timestamp"` // Epoch seconds of the crawl
	Metadata       *PageMetadata     `json:"metadata"`
	CrawlerID      string            `json:"crawler_id"`
	CrawlerType    string            `json:"crawler_type"`
	Version        int               `json:"version"`
	IndexOperation IndexOperation    `json:"index_operation"`
	IsIndexed      bool              `json:"is_indexed"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// PageMetadata carries everything the crawler extracts beyond the body
type PageMetadata struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Keywords    string              `json:"keywords"`
	OpenGraph   map[string]string   `json:"open_graph,omitempty"`
	Headings    map[string][]string `json:"headings,omitempty"` // h1..h6
	ImageAlts   []string            `json:"image_alts,omitempty"`
}

// SiteDocument is the join row binding a document into a site. The earliest
// binding is the document's primary site.
type SiteDocument struct {
	ID         int64     `json:"id"`
	SiteID     string    `json:"site_id"`
	DocumentID int64     `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CrawlHistory is an immutable append-only record of one version transition
type CrawlHistory struct {
	ID          int64         `json:"id"`
	DocumentID  int64         `json:"document_id"`
	URL         string        `json:"url"`
	ContentHash string        `json:"content_hash"`
	Version     int           `json:"version"`
	ChangeType  ChangeType    `json:"change_type"`
	Timestamp   time.Time     `json:"timestamp"`
	Metadata    *PageMetadata `json:"metadata,omitempty"`
}

// StoreResult pairs the stored document with the decision the storage layer
// made for it. PreviousHash carries the pre-update content hash on edits so
// the indexer can evict the superseded chunks.
type StoreResult struct {
	Document     *Document      `json:"document"`
	Operation    StoreOperation `json:"operation"`
	PreviousHash string         `json:"previous_hash,omitempty"`
}
