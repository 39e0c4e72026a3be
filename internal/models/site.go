package models

import (
	"regexp"
	"time"
)

// siteIDPattern constrains site identifiers so they can be embedded in
// broker keys and vector collection names without escaping.
var siteIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Site is a crawl target registered by the admin surface. Workers and the
// indexer only ever read it.
type Site struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BaseURL       string    `json:"base_url"`
	Enabled       bool      `json:"enabled"`
	DocumentCount int       `json:"document_count"`
	IndexCount    int       `json:"index_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ValidSiteID reports whether id is usable as a namespace component
func ValidSiteID(id string) bool {
	return siteIDPattern.MatchString(id)
}
