package cleaner

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// breadcrumbClass marks the navigation trail block dropped before
// conversion on content pages
const breadcrumbClass = "block-cuhk-ui-breadcrumbs"

// searchPathMarkers identify faceted search result pages by URL path
var searchPathMarkers = []string{"teacher-search", "student-search", "PhDStudents"}

// strippedTags are removed wholesale before plain-text extraction
var strippedTags = []string{"script", "style", "meta", "link", "noscript", "header", "footer", "nav", "iframe"}

func isHTML(mimetype string) bool {
	return strings.Contains(mimetype, "text/html") || strings.Contains(mimetype, "application/xhtml")
}

func parseHTML(content []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// selectionToMarkdown converts a DOM subtree preserving links, images and
// tables, then flattens the tables
func selectionToMarkdown(sel *goquery.Selection) string {
	converter := md.NewConverter("", true, nil)
	markdown := converter.Convert(sel)
	return Postprocess(FlattenTables(markdown))
}

// SearchPageStrategy handles faceted search result pages: URL path carries
// one of the search markers and the DOM has id="content". The filter
// sidebar is stripped so only the result list survives.
type SearchPageStrategy struct {
	logger arbor.ILogger
}

// NewSearchPageStrategy creates the search page strategy
func NewSearchPageStrategy(logger arbor.ILogger) *SearchPageStrategy {
	return &SearchPageStrategy{logger: logger}
}

func (s *SearchPageStrategy) Name() string { return "search_page" }

func (s *SearchPageStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	if !isHTML(mimetype) {
		return false
	}
	matched := false
	for _, marker := range searchPathMarkers {
		if strings.Contains(url, marker) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	doc, err := parseHTML(content)
	if err != nil {
		return false
	}
	return doc.Find("#content").Length() > 0
}

func (s *SearchPageStrategy) Clean(content []byte) (string, error) {
	doc, err := parseHTML(content)
	if err != nil {
		return "", err
	}

	sel := doc.Find("#content")
	sel.Find(".facets-widget, .facet-filters, .views-exposed-form, form.facets-form").Remove()
	sel.Find("." + breadcrumbClass).Remove()

	return selectionToMarkdown(sel), nil
}

// CommonPageStrategy handles ordinary content pages: URL path contains
// "page/" and the DOM has id="main"
type CommonPageStrategy struct {
	logger arbor.ILogger
}

// NewCommonPageStrategy creates the common content page strategy
func NewCommonPageStrategy(logger arbor.ILogger) *CommonPageStrategy {
	return &CommonPageStrategy{logger: logger}
}

func (s *CommonPageStrategy) Name() string { return "common_page" }

func (s *CommonPageStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	if !isHTML(mimetype) || !strings.Contains(url, "page/") {
		return false
	}
	doc, err := parseHTML(content)
	if err != nil {
		return false
	}
	return doc.Find("#main").Length() > 0
}

func (s *CommonPageStrategy) Clean(content []byte) (string, error) {
	doc, err := parseHTML(content)
	if err != nil {
		return "", err
	}

	sel := doc.Find("#main")
	sel.Find("." + breadcrumbClass).Remove()

	return selectionToMarkdown(sel), nil
}

// MarkdownStrategy is the HTML default: take id="main" when present,
// otherwise the whole body, drop breadcrumbs and convert
type MarkdownStrategy struct {
	logger arbor.ILogger
}

// NewMarkdownStrategy creates the default HTML-to-markdown strategy
func NewMarkdownStrategy(logger arbor.ILogger) *MarkdownStrategy {
	return &MarkdownStrategy{logger: logger}
}

func (s *MarkdownStrategy) Name() string { return "markdown" }

func (s *MarkdownStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return isHTML(mimetype)
}

func (s *MarkdownStrategy) Clean(content []byte) (string, error) {
	doc, err := parseHTML(content)
	if err != nil {
		return "", err
	}

	sel := doc.Find("#main")
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	sel.Find("." + breadcrumbClass).Remove()
	sel.Find("script, style, noscript").Remove()

	return selectionToMarkdown(sel), nil
}

// HTMLTextStrategy is the fallback HTML extractor: strip non-content tags,
// collapse whitespace and drop consecutive duplicate lines
type HTMLTextStrategy struct {
	logger arbor.ILogger
}

// NewHTMLTextStrategy creates the plain-text HTML strategy
func NewHTMLTextStrategy(logger arbor.ILogger) *HTMLTextStrategy {
	return &HTMLTextStrategy{logger: logger}
}

func (s *HTMLTextStrategy) Name() string { return "html_text" }

func (s *HTMLTextStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return isHTML(mimetype)
}

func (s *HTMLTextStrategy) Clean(content []byte) (string, error) {
	doc, err := parseHTML(content)
	if err != nil {
		return "", err
	}

	doc.Find(strings.Join(strippedTags, ", ")).Remove()

	text := doc.Text()

	var lines []string
	var prev string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(multiSpacePattern.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		if line == prev {
			continue
		}
		lines = append(lines, line)
		prev = line
	}

	return Postprocess(strings.Join(lines, "\n")), nil
}
