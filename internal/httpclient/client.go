// -----------------------------------------------------------------------
// HTTP Client - shared client construction for crawl fetches
// -----------------------------------------------------------------------

package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/ternarybob/sitesearch/internal/common"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewCrawlClient builds the client used for page fetches. The timeout
// model is derived from the configured connect timeout: response header
// read = 2x, overall request = 3x. A cookie jar carries session cookies
// across redirects within a crawl.
func NewCrawlClient(cfg *common.CrawlerConfig) (*http.Client, error) {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: connect,
		}).DialContext,
		ResponseHeaderTimeout: 2 * connect,
		TLSHandshakeTimeout:   connect,
		IdleConnTimeout:       3 * connect,
		MaxIdleConnsPerHost:   8,
	}

	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	client := &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   3 * connect,
	}

	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		// Follow one hop only; deeper chains surface the redirect target as
		// a link instead.
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 2 {
				return http.ErrUseLastResponse
			}
			return nil
		}
	}

	return client, nil
}
