package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
)

func textResult(url, body string) *interfaces.FetchResult {
	return &interfaces.FetchResult{URL: url, StatusCode: 200, Mimetype: "text/plain", Body: []byte(body)}
}

func TestDiscoverReadsRobotsDeclaration(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string]*interfaces.FetchResult{
		"https://example.edu/robots.txt": textResult("https://example.edu/robots.txt",
			"User-agent: *\nDisallow: /admin/\nSitemap: https://example.edu/pages.xml\n"),
		"https://example.edu/pages.xml": textResult("https://example.edu/pages.xml",
			`<?xml version="1.0"?>
			<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
				<url><loc>https://example.edu/page/a</loc></url>
				<url><loc>https://example.edu/page/b</loc></url>
				<url><loc>https://example.edu/page/a</loc></url>
			</urlset>`),
	}}

	d := NewSitemapDiscoverer(fetcher, common.GetLogger())
	urls, err := d.Discover(t.Context(), "https://example.edu/page/start")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.edu/page/a",
		"https://example.edu/page/b",
	}, urls)
}

func TestDiscoverFallsBackToConventionalPaths(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string]*interfaces.FetchResult{
		// robots.txt 404s via the fakeFetcher default
		"https://example.edu/sitemap.xml": textResult("https://example.edu/sitemap.xml",
			`<urlset><url><loc>https://example.edu/only</loc></url></urlset>`),
	}}

	d := NewSitemapDiscoverer(fetcher, common.GetLogger())
	urls, err := d.Discover(t.Context(), "https://example.edu")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.edu/only"}, urls)
	assert.Contains(t, fetcher.fetched, "https://example.edu/robots.txt")
	assert.Contains(t, fetcher.fetched, "https://example.edu/sitemap_index.xml")
}

func TestDiscoverRecursesIntoSitemapIndex(t *testing.T) {
	fetcher := &fakeFetcher{results: map[string]*interfaces.FetchResult{
		"https://example.edu/robots.txt": textResult("https://example.edu/robots.txt",
			"Sitemap: https://example.edu/index.xml"),
		"https://example.edu/index.xml": textResult("https://example.edu/index.xml",
			`<sitemapindex>
				<sitemap><loc>https://example.edu/part1.xml</loc></sitemap>
				<sitemap><loc>https://example.edu/part2.xml</loc></sitemap>
			</sitemapindex>`),
		"https://example.edu/part1.xml": textResult("https://example.edu/part1.xml",
			`<urlset><url><loc>https://example.edu/a</loc></url></urlset>`),
		"https://example.edu/part2.xml": textResult("https://example.edu/part2.xml",
			`<urlset><url><loc>https://example.edu/b</loc></url></urlset>`),
	}}

	d := NewSitemapDiscoverer(fetcher, common.GetLogger())
	urls, err := d.Discover(t.Context(), "https://example.edu")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"https://example.edu/a", "https://example.edu/b"}, urls)
}

func TestDiscoverStopsAtOneIndexLevel(t *testing.T) {
	// An index pointing at another index must not recurse further
	fetcher := &fakeFetcher{results: map[string]*interfaces.FetchResult{
		"https://example.edu/robots.txt": textResult("https://example.edu/robots.txt",
			"Sitemap: https://example.edu/outer.xml"),
		"https://example.edu/outer.xml": textResult("https://example.edu/outer.xml",
			`<sitemapindex><sitemap><loc>https://example.edu/inner.xml</loc></sitemap></sitemapindex>`),
		"https://example.edu/inner.xml": textResult("https://example.edu/inner.xml",
			`<sitemapindex><sitemap><loc>https://example.edu/deep.xml</loc></sitemap></sitemapindex>`),
		"https://example.edu/deep.xml": textResult("https://example.edu/deep.xml",
			`<urlset><url><loc>https://example.edu/too-deep</loc></url></urlset>`),
	}}

	d := NewSitemapDiscoverer(fetcher, common.GetLogger())
	urls, err := d.Discover(t.Context(), "https://example.edu")
	require.NoError(t, err)

	assert.Empty(t, urls)
	assert.NotContains(t, fetcher.fetched, "https://example.edu/deep.xml")
}
