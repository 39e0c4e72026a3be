package cleaner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
)

// PDFStrategy renders PDFs to markdown through the external converter.
// Page images are pulled out with pdfcpu and converted one by one; when a
// PDF carries no extractable images the whole file goes to the converter.
type PDFStrategy struct {
	converter *ConverterClient
	logger    arbor.ILogger
	tempDir   string
}

// NewPDFStrategy creates the PDF cleaning strategy
func NewPDFStrategy(converter *ConverterClient, logger arbor.ILogger) *PDFStrategy {
	tempDir := filepath.Join(os.TempDir(), "sitesearch-pdf")
	os.MkdirAll(tempDir, 0755)

	return &PDFStrategy{
		converter: converter,
		logger:    logger,
		tempDir:   tempDir,
	}
}

func (s *PDFStrategy) Name() string { return "pdf" }

func (s *PDFStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return mimetype == "application/pdf"
}

func (s *PDFStrategy) Clean(content []byte) (string, error) {
	if !s.converter.Available() {
		return "", fmt.Errorf("pdf cleaning requires a converter endpoint")
	}

	ctx := context.Background()

	tempFile := filepath.Join(s.tempDir, fmt.Sprintf("clean_%d_%s.pdf", os.Getpid(), common.NewEnvelopeID()[:8]))
	if err := os.WriteFile(tempFile, content, 0644); err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}
	defer os.Remove(tempFile)

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	outDir := filepath.Join(s.tempDir, fmt.Sprintf("pages_%d_%s", os.Getpid(), common.NewEnvelopeID()[:8]))
	os.MkdirAll(outDir, 0755)
	defer os.RemoveAll(outDir)

	var pageFiles []string
	if err := api.ExtractImagesFile(tempFile, outDir, nil, conf); err != nil {
		s.logger.Warn().Err(err).Msg("No page images extracted from PDF, converting whole file")
	} else {
		entries, _ := os.ReadDir(outDir)
		for _, entry := range entries {
			if !entry.IsDir() {
				pageFiles = append(pageFiles, filepath.Join(outDir, entry.Name()))
			}
		}
		sort.Strings(pageFiles)
	}

	var parts []string
	if len(pageFiles) == 0 {
		markdown, err := s.converter.ToMarkdown(ctx, "document.pdf", content)
		if err != nil {
			return "", err
		}
		parts = append(parts, markdown)
	} else {
		for _, pageFile := range pageFiles {
			data, err := os.ReadFile(pageFile)
			if err != nil {
				s.logger.Warn().Err(err).Str("file", pageFile).Msg("Skipping unreadable page image")
				continue
			}
			markdown, err := s.converter.ToMarkdown(ctx, filepath.Base(pageFile), data)
			if err != nil {
				return "", fmt.Errorf("convert page %s: %w", filepath.Base(pageFile), err)
			}
			parts = append(parts, markdown)
		}
	}

	s.logger.Debug().
		Int("pages", pdfCtx.PageCount).
		Int("converted_parts", len(parts)).
		Msg("PDF converted to markdown")

	return Postprocess(FlattenTables(strings.Join(parts, "\n\n"))), nil
}
