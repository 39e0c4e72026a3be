// -----------------------------------------------------------------------
// URL Normalization - canonical form shared by dedup and storage
// -----------------------------------------------------------------------

package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// maxDecodeIterations caps the percent-decode fixed-point loop; doubly
// encoded URLs settle well within this
const maxDecodeIterations = 5

// NormalizeURL resolves rawURL against base and produces the canonical
// form used for dedup sets and document identity: percent-decoding applied
// to a fixed point, fragment stripped, and a trailing slash appended when
// the last path segment carries no extension. The function is idempotent.
func NormalizeURL(rawURL, base string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty url")
	}

	var resolved *url.URL
	if base != "" {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		resolved, err = baseURL.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("resolve url: %w", err)
		}
	} else {
		var err error
		resolved, err = url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("parse url: %w", err)
		}
	}

	if !resolved.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	decoded := resolved.String()
	for i := 0; i < maxDecodeIterations; i++ {
		next, err := url.QueryUnescape(decoded)
		if err != nil || next == decoded {
			break
		}
		decoded = next
	}

	canonical, err := url.Parse(decoded)
	if err != nil {
		// Decoding produced something unparseable, keep the resolved form
		canonical = resolved
	}

	canonical.Fragment = ""
	canonical.RawFragment = ""

	path := canonical.Path
	if path == "" {
		canonical.Path = "/"
	} else if !strings.HasSuffix(path, "/") {
		last := path[strings.LastIndex(path, "/")+1:]
		if !strings.Contains(last, ".") {
			canonical.Path = path + "/"
		}
	}

	return canonical.String(), nil
}
