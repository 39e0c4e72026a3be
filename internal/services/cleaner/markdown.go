// -----------------------------------------------------------------------
// Markdown Tools - Post-processing shared by all cleaning strategies
// -----------------------------------------------------------------------

package cleaner

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	base64ImagePattern = regexp.MustCompile(`data:image/(?:png|jpeg|jpg);base64,[A-Za-z0-9+/=]+`)
	multiSpacePattern  = regexp.MustCompile(`[ \t]+`)
	multiBlankPattern  = regexp.MustCompile(`\n{3,}`)
)

// ReplaceBase64Images swaps inline base64 image payloads for a short
// literal so embedded screenshots don't blow up chunk sizes
func ReplaceBase64Images(text string) string {
	return base64ImagePattern.ReplaceAllString(text, "base64_image")
}

// CollapseWhitespace normalizes runs of spaces/tabs within lines and caps
// consecutive blank lines at one
func CollapseWhitespace(input string) string {
	lines := strings.Split(input, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(multiSpacePattern.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = multiBlankPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// Postprocess applies the shared cleanup every strategy runs on its output
func Postprocess(text string) string {
	return CollapseWhitespace(ReplaceBase64Images(text))
}

// FlattenTables rewrites markdown tables into "header: value" lines, one
// block per row. Retrieval chunks split mid-table otherwise and lose the
// column context.
func FlattenTables(markdown string) string {
	source := []byte(markdown)

	parser := goldmark.New(goldmark.WithExtensions(extension.Table)).Parser()
	doc := parser.Parse(text.NewReader(source))

	type tableSpan struct {
		start, stop int
		flattened   string
	}
	var spans []tableSpan

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		table, ok := n.(*extast.Table)
		if !ok {
			return ast.WalkContinue, nil
		}

		headers, rows, start, stop := readTable(table, source)
		if start < 0 || len(headers) == 0 {
			return ast.WalkSkipChildren, nil
		}

		var b strings.Builder
		for _, row := range rows {
			for i, cell := range row {
				if i >= len(headers) {
					break
				}
				if cell == "" {
					continue
				}
				b.WriteString(headers[i])
				b.WriteString(": ")
				b.WriteString(cell)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}

		spans = append(spans, tableSpan{start: start, stop: stop, flattened: strings.TrimRight(b.String(), "\n")})
		return ast.WalkSkipChildren, nil
	})

	if len(spans) == 0 {
		return markdown
	}

	// Rebuild back-to-front so earlier offsets stay valid
	out := markdown
	for i := len(spans) - 1; i >= 0; i-- {
		span := spans[i]
		start := lineStart(out, span.start)
		stop := lineEnd(out, span.stop)
		out = out[:start] + span.flattened + out[stop:]
	}
	return out
}

// readTable collects header texts, row cell texts and the byte span the
// table occupies in source
func readTable(table *extast.Table, source []byte) (headers []string, rows [][]string, start, stop int) {
	start, stop = -1, -1

	track := func(n ast.Node) {
		if cell, ok := n.(*extast.TableCell); ok {
			lines := cell.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				if start < 0 || seg.Start < start {
					start = seg.Start
				}
				if seg.Stop > stop {
					stop = seg.Stop
				}
			}
		}
	}

	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		switch row := child.(type) {
		case *extast.TableHeader:
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				track(cell)
				headers = append(headers, cellText(cell, source))
			}
		case *extast.TableRow:
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				track(cell)
				cells = append(cells, cellText(cell, source))
			}
			rows = append(rows, cells)
		}
	}
	return headers, rows, start, stop
}

// cellText renders a table cell's inline content as plain text
func cellText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := child.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

func lineStart(s string, offset int) int {
	if offset > len(s) {
		offset = len(s)
	}
	idx := strings.LastIndexByte(s[:offset], '\n')
	return idx + 1
}

func lineEnd(s string, offset int) int {
	if offset >= len(s) {
		return len(s)
	}
	idx := strings.IndexByte(s[offset:], '\n')
	if idx < 0 {
		return len(s)
	}
	return offset + idx + 1
}
