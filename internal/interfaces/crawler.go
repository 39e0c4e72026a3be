package interfaces

import (
	"context"
)

// FetchResult is what a fetcher hands back for one URL
type FetchResult struct {
	URL        string
	StatusCode int
	Mimetype   string
	Headers    map[string]string
	Body       []byte
	// Markdown and discovered links are populated by fetchers that render
	// or convert server-side (firecrawl); empty for plain HTTP.
	Markdown string
	Links    []string
	Title    string
}

// Fetcher retrieves one URL. Implementations: plain HTTP, headless
// browser, external firecrawl service.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}
