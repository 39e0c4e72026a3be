// -----------------------------------------------------------------------
// Link Extractor - anchor discovery and include/exclude filtering
// -----------------------------------------------------------------------

package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// LinkExtractor discovers and filters links from HTML content
type LinkExtractor struct {
	logger arbor.ILogger
}

// NewLinkExtractor creates a new link extractor
func NewLinkExtractor(logger arbor.ILogger) *LinkExtractor {
	return &LinkExtractor{logger: logger}
}

// ExtractLinks discovers anchor targets in html, resolved against
// sourceURL and deduplicated in document order
func (le *LinkExtractor) ExtractLinks(html string, sourceURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html for link extraction: %w", err)
	}

	baseURL, err := url.Parse(sourceURL)
	if err != nil {
		le.logger.Warn().Err(err).Str("source_url", sourceURL).Msg("Unparseable source URL, skipping link resolution")
		baseURL = nil
	}

	var links []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if shouldSkipLink(href) {
			return
		}
		resolved := resolveLink(href, baseURL)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})

	le.logger.Debug().
		Str("source_url", sourceURL).
		Int("links_found", len(links)).
		Msg("Links extracted")
	return links, nil
}

// shouldSkipLink filters non-navigable anchor targets
func shouldSkipLink(href string) bool {
	href = strings.ToLower(strings.TrimSpace(href))
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "sms:", "ftp:", "data:"} {
		if strings.HasPrefix(href, scheme) {
			return true
		}
	}
	return false
}

func resolveLink(href string, baseURL *url.URL) string {
	if baseURL == nil {
		if parsed, err := url.Parse(href); err == nil && parsed.IsAbs() {
			return parsed.String()
		}
		return ""
	}
	resolved, err := baseURL.Parse(href)
	if err != nil {
		return ""
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// FilterLinks keeps links matching at least one include pattern (empty
// means match all) and no exclude pattern. Invalid patterns are logged
// and ignored.
func (le *LinkExtractor) FilterLinks(links []string, includePatterns, excludePatterns []string) []string {
	includes := le.compilePatterns(includePatterns)
	excludes := le.compilePatterns(excludePatterns)

	var out []string
	for _, link := range links {
		if len(includes) > 0 && !matchesAny(includes, link) {
			continue
		}
		if matchesAny(excludes, link) {
			continue
		}
		out = append(out, link)
	}

	le.logger.Debug().
		Int("found", len(links)).
		Int("kept", len(out)).
		Msg("Link filtering completed")
	return out
}

func (le *LinkExtractor) compilePatterns(patterns []string) []*regexp.Regexp {
	var regexes []*regexp.Regexp
	for _, pattern := range patterns {
		if pattern == "" || pattern == "*" {
			continue
		}
		regex, err := regexp.Compile(pattern)
		if err != nil {
			le.logger.Warn().Err(err).Str("pattern", pattern).Msg("Invalid link pattern, ignoring")
			continue
		}
		regexes = append(regexes, regex)
	}
	return regexes
}

func matchesAny(regexes []*regexp.Regexp, s string) bool {
	for _, regex := range regexes {
		if regex.MatchString(s) {
			return true
		}
	}
	return false
}
