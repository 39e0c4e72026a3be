package cleaner

import (
	"strings"
	"unicode/utf8"
)

// PlainTextStrategy is the terminal strategy: per-line whitespace collapse
// with empty lines dropped. Accepts any text/* payload that is valid UTF-8.
type PlainTextStrategy struct{}

// NewPlainTextStrategy creates the plain text strategy
func NewPlainTextStrategy() *PlainTextStrategy {
	return &PlainTextStrategy{}
}

func (s *PlainTextStrategy) Name() string { return "plain_text" }

func (s *PlainTextStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return strings.HasPrefix(mimetype, "text/") && utf8.Valid(content)
}

func (s *PlainTextStrategy) Clean(content []byte) (string, error) {
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(multiSpacePattern.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return ReplaceBase64Images(strings.Join(lines, "\n")), nil
}
