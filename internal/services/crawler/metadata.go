// -----------------------------------------------------------------------
// Page Metadata - title, meta tags, headings, image alts
// -----------------------------------------------------------------------

package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/sitesearch/internal/models"
)

// maxTitleLength clips titles before they reach storage and the index
const maxTitleLength = 250

// ExtractMetadata pulls title, meta tags, OpenGraph properties, headings
// and image alt texts from an HTML document
func ExtractMetadata(html string, sourceURL string) *models.PageMetadata {
	meta := &models.PageMetadata{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		meta.Title = TitleFromURL(sourceURL)
		return meta
	}

	meta.Title = ClipTitle(strings.TrimSpace(doc.Find("title").First().Text()))
	if meta.Title == "" {
		meta.Title = TitleFromURL(sourceURL)
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, _ := s.Attr("content")
		if content == "" {
			return
		}
		if name, _ := s.Attr("name"); name != "" {
			switch strings.ToLower(name) {
			case "description":
				meta.Description = content
			case "keywords":
				meta.Keywords = content
			}
			return
		}
		if property, _ := s.Attr("property"); strings.HasPrefix(property, "og:") {
			if meta.OpenGraph == nil {
				meta.OpenGraph = make(map[string]string)
			}
			meta.OpenGraph[property] = content
		}
	})

	for level := 1; level <= 6; level++ {
		tag := fmt.Sprintf("h%d", level)
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return
			}
			if meta.Headings == nil {
				meta.Headings = make(map[string][]string)
			}
			meta.Headings[tag] = append(meta.Headings[tag], text)
		})
	}

	doc.Find("img[alt]").Each(func(_ int, s *goquery.Selection) {
		if alt, _ := s.Attr("alt"); strings.TrimSpace(alt) != "" {
			meta.ImageAlts = append(meta.ImageAlts, strings.TrimSpace(alt))
		}
	})

	return meta
}

// TitleFromURL derives a fallback title from the URL's last path segment
func TitleFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ClipTitle(rawURL)
	}
	base := path.Base(strings.TrimSuffix(parsed.Path, "/"))
	if base == "" || base == "." || base == "/" {
		base = parsed.Host
	}
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return ClipTitle(strings.TrimSpace(base))
}

// ClipTitle bounds a title at the storage limit, appending an ellipsis
// when clipped
func ClipTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxTitleLength {
		return title
	}
	return string(runes[:maxTitleLength-3]) + "..."
}
