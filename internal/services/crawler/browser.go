// -----------------------------------------------------------------------
// Browser Fetcher - headless Chrome for script-rendered pages
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
)

// BrowserFetcher renders pages in headless Chrome and returns the
// post-script DOM. Used for sites whose content only exists after
// client-side rendering.
type BrowserFetcher struct {
	userAgent string
	waitTime  time.Duration
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewBrowserFetcher builds the headless browser fetcher from config
func NewBrowserFetcher(cfg *common.CrawlerConfig, logger arbor.ILogger) *BrowserFetcher {
	waitTime := cfg.BrowserWaitTime
	if waitTime <= 0 {
		waitTime = 3 * time.Second
	}
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 30 * time.Second
	}
	return &BrowserFetcher{
		userAgent: cfg.UserAgent,
		waitTime:  waitTime,
		timeout:   3 * connect,
		logger:    logger,
	}
}

// Fetch navigates to the URL, waits for rendering to settle and captures
// the resulting HTML
func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*interfaces.FetchResult, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if f.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, f.timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.Sleep(f.waitTime),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", rawURL, err)
	}

	f.logger.Debug().
		Str("url", rawURL).
		Int("bytes", len(html)).
		Msg("Rendered in headless browser")

	return &interfaces.FetchResult{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Mimetype:   "text/html",
		Headers:    map[string]string{"Content-Type": "text/html"},
		Body:       []byte(html),
	}, nil
}

var _ interfaces.Fetcher = (*BrowserFetcher)(nil)
