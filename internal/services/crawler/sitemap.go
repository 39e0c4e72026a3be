// -----------------------------------------------------------------------
// Sitemap Discovery - robots.txt and conventional sitemap locations
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/interfaces"
)

// fallbackSitemapPaths are probed when robots.txt declares no sitemap
var fallbackSitemapPaths = []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemap/"}

// maxSitemapURLs bounds discovery so a pathological sitemap cannot flood
// the task queue
const maxSitemapURLs = 50000

type sitemapXML struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndexXML struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// SitemapDiscoverer finds a site's sitemap URLs for seeding a crawl
type SitemapDiscoverer struct {
	fetcher interfaces.Fetcher
	logger  arbor.ILogger
}

// NewSitemapDiscoverer creates a sitemap discoverer over the given fetcher
func NewSitemapDiscoverer(fetcher interfaces.Fetcher, logger arbor.ILogger) *SitemapDiscoverer {
	return &SitemapDiscoverer{fetcher: fetcher, logger: logger}
}

// Discover returns every URL listed in the site's sitemaps. It reads
// robots.txt for Sitemap: declarations first, then probes the
// conventional locations.
func (d *SitemapDiscoverer) Discover(ctx context.Context, baseURL string) ([]string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	root := parsed.Scheme + "://" + parsed.Host

	sitemaps := d.sitemapsFromRobots(ctx, root)
	if len(sitemaps) == 0 {
		for _, path := range fallbackSitemapPaths {
			sitemaps = append(sitemaps, root+path)
		}
	}

	var urls []string
	seen := make(map[string]bool)
	for _, sitemapURL := range sitemaps {
		d.collect(ctx, sitemapURL, seen, &urls, 0)
		if len(urls) >= maxSitemapURLs {
			break
		}
	}

	d.logger.Info().
		Str("base_url", baseURL).
		Int("sitemaps", len(sitemaps)).
		Int("urls", len(urls)).
		Msg("Sitemap discovery completed")
	return urls, nil
}

func (d *SitemapDiscoverer) sitemapsFromRobots(ctx context.Context, root string) []string {
	result, err := d.fetcher.Fetch(ctx, root+"/robots.txt")
	if err != nil {
		d.logger.Debug().Err(err).Msg("No robots.txt, falling back to conventional sitemap paths")
		return nil
	}

	var sitemaps []string
	for _, line := range strings.Split(string(result.Body), "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= 8 && strings.EqualFold(line[:8], "sitemap:") {
			if loc := strings.TrimSpace(line[8:]); loc != "" {
				sitemaps = append(sitemaps, loc)
			}
		}
	}
	return sitemaps
}

// collect fetches one sitemap, recursing one level into sitemap indexes
func (d *SitemapDiscoverer) collect(ctx context.Context, sitemapURL string, seen map[string]bool, urls *[]string, depth int) {
	if depth > 1 || len(*urls) >= maxSitemapURLs {
		return
	}

	result, err := d.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		d.logger.Debug().Err(err).Str("sitemap", sitemapURL).Msg("Sitemap fetch failed")
		return
	}

	var index sitemapIndexXML
	if err := xml.Unmarshal(result.Body, &index); err == nil && len(index.Sitemaps) > 0 {
		for _, child := range index.Sitemaps {
			if loc := strings.TrimSpace(child.Loc); loc != "" {
				d.collect(ctx, loc, seen, urls, depth+1)
			}
		}
		return
	}

	var urlset sitemapXML
	if err := xml.Unmarshal(result.Body, &urlset); err != nil {
		d.logger.Debug().Err(err).Str("sitemap", sitemapURL).Msg("Sitemap parse failed")
		return
	}
	for _, entry := range urlset.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		*urls = append(*urls, loc)
		if len(*urls) >= maxSitemapURLs {
			return
		}
	}
}
