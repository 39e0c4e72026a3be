// -----------------------------------------------------------------------
// Firecrawl Fetcher - external scrape service for script-heavy sites
// -----------------------------------------------------------------------

package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
)

// FirecrawlFetcher delegates fetching and rendering to an external
// firecrawl-compatible scrape endpoint. The service returns markdown and
// discovered links, so no local link extraction is needed downstream.
type FirecrawlFetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  arbor.ILogger
}

// NewFirecrawlFetcher builds the firecrawl fetcher from config
func NewFirecrawlFetcher(cfg *common.FirecrawlConfig, logger arbor.ILogger) *FirecrawlFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &FirecrawlFetcher{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Available reports whether a firecrawl endpoint is configured
func (f *FirecrawlFetcher) Available() bool {
	return f.baseURL != ""
}

type firecrawlRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type firecrawlResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown string `json:"markdown"`
		HTML     string `json:"html"`
		Links    []string `json:"links"`
		Metadata struct {
			Title      string `json:"title"`
			StatusCode int    `json:"statusCode"`
		} `json:"metadata"`
	} `json:"data"`
}

// Fetch scrapes one URL through the external service
func (f *FirecrawlFetcher) Fetch(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	if !f.Available() {
		return nil, fmt.Errorf("firecrawl endpoint not configured")
	}

	body, err := json.Marshal(firecrawlRequest{
		URL:     rawURL,
		Formats: []string{"markdown", "html", "links"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read scrape response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("firecrawl returned status %d for %s", resp.StatusCode, rawURL)
	}

	var decoded firecrawlResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode scrape response: %w", err)
	}
	if !decoded.Success {
		return nil, fmt.Errorf("firecrawl error for %s: %s", rawURL, decoded.Error)
	}

	statusCode := decoded.Data.Metadata.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	if statusCode >= 400 {
		return nil, &SkipError{URL: rawURL, StatusCode: statusCode, Reason: "upstream error via firecrawl", DeleteKnown: statusCode >= 500}
	}

	contentBody := []byte(decoded.Data.HTML)
	mimetype := "text/html"
	if len(contentBody) == 0 {
		contentBody = []byte(decoded.Data.Markdown)
		mimetype = "text/markdown"
	}

	f.logger.Debug().
		Str("url", rawURL).
		Int("links", len(decoded.Data.Links)).
		Msg("Scraped via firecrawl")

	return &interfaces.FetchResult{
		URL:        rawURL,
		StatusCode: statusCode,
		Mimetype:   mimetype,
		Headers:    map[string]string{"Content-Type": mimetype},
		Body:       contentBody,
		Markdown:   decoded.Data.Markdown,
		Links:      decoded.Data.Links,
		Title:      decoded.Data.Metadata.Title,
	}, nil
}

var _ interfaces.Fetcher = (*FirecrawlFetcher)(nil)
