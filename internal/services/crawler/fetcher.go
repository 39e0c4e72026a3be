// -----------------------------------------------------------------------
// HTTP Fetcher - plain GET with classification of skip/delete outcomes
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/httpclient"
	"github.com/ternarybob/sitesearch/internal/interfaces"
)

// SkipError marks a fetch outcome that should be acknowledged without
// retrying: client errors, gone pages, unsupported responses. DeleteKnown
// asks the storage layer to drop the URL if it was previously stored.
type SkipError struct {
	URL         string
	StatusCode  int
	Reason      string
	DeleteKnown bool
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skip %s: %s (status %d)", e.URL, e.Reason, e.StatusCode)
}

// AsSkipError unwraps err into a SkipError when it is one
func AsSkipError(err error) (*SkipError, bool) {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip, true
	}
	return nil, false
}

// HTTPFetcher is the default fetcher: a plain GET through the shared
// crawl client
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	maxBodySize int64
	logger      arbor.ILogger
}

// NewHTTPFetcher builds the plain HTTP fetcher from config
func NewHTTPFetcher(cfg *common.CrawlerConfig, logger arbor.ILogger) (*HTTPFetcher, error) {
	client, err := httpclient.NewCrawlClient(cfg)
	if err != nil {
		return nil, err
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 20 * 1024 * 1024
	}
	return &HTTPFetcher{
		client:      client,
		userAgent:   cfg.UserAgent,
		maxBodySize: maxBody,
		logger:      logger,
	}, nil
}

// Fetch GETs one URL. 2xx returns the body; 4xx and 5xx yield a SkipError
// flagged to delete the URL if previously known.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to body read
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return nil, &SkipError{URL: rawURL, StatusCode: resp.StatusCode, Reason: "unfollowed redirect"}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &SkipError{URL: rawURL, StatusCode: resp.StatusCode, Reason: "client error", DeleteKnown: true}
	default:
		return nil, &SkipError{URL: rawURL, StatusCode: resp.StatusCode, Reason: "server error", DeleteKnown: true}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", rawURL, err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, &SkipError{URL: rawURL, StatusCode: resp.StatusCode, Reason: "body exceeds size limit"}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	result := &interfaces.FetchResult{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Mimetype:   mimetypeOf(resp.Header.Get("Content-Type")),
		Headers:    headers,
		Body:       body,
	}

	f.logger.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Str("mimetype", result.Mimetype).
		Int("bytes", len(body)).
		Msg("Fetched")
	return result, nil
}

// mimetypeOf strips parameters from a Content-Type header value
func mimetypeOf(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// IsTextMimetype reports whether content of this type is shipped as text
// rather than base64
func IsTextMimetype(mimetype string) bool {
	if strings.HasPrefix(mimetype, "text/") {
		return true
	}
	switch mimetype {
	case "application/json", "application/xml", "application/xhtml+xml",
		"application/javascript", "application/rss+xml", "application/atom+xml":
		return true
	}
	return false
}

var _ interfaces.Fetcher = (*HTTPFetcher)(nil)
