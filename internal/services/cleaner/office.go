package cleaner

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
)

const wordMimetype = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// otherOfficeMimetypes are handled best-effort through the converter
var otherOfficeMimetypes = map[string]bool{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,
	"application/msword":            true,
	"application/xml":               true,
	"text/xml":                      true,
}

// WordStrategy converts DOCX files through the same external converter
// path as PDFs
type WordStrategy struct {
	converter *ConverterClient
	logger    arbor.ILogger
}

// NewWordStrategy creates the Word cleaning strategy
func NewWordStrategy(converter *ConverterClient, logger arbor.ILogger) *WordStrategy {
	return &WordStrategy{converter: converter, logger: logger}
}

func (s *WordStrategy) Name() string { return "word" }

func (s *WordStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return mimetype == wordMimetype
}

func (s *WordStrategy) Clean(content []byte) (string, error) {
	if !s.converter.Available() {
		return "", fmt.Errorf("word cleaning requires a converter endpoint")
	}
	markdown, err := s.converter.ToMarkdown(context.Background(), "document.docx", content)
	if err != nil {
		return "", err
	}
	return Postprocess(FlattenTables(markdown)), nil
}

// OfficeStrategy is the best-effort converter for the remaining office
// formats (spreadsheets, presentations, XML)
type OfficeStrategy struct {
	converter *ConverterClient
	logger    arbor.ILogger
}

// NewOfficeStrategy creates the catch-all office cleaning strategy
func NewOfficeStrategy(converter *ConverterClient, logger arbor.ILogger) *OfficeStrategy {
	return &OfficeStrategy{converter: converter, logger: logger}
}

func (s *OfficeStrategy) Name() string { return "office" }

func (s *OfficeStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return otherOfficeMimetypes[mimetype]
}

func (s *OfficeStrategy) Clean(content []byte) (string, error) {
	if !s.converter.Available() {
		return "", fmt.Errorf("office cleaning requires a converter endpoint")
	}

	markdown, err := s.converter.ToMarkdown(context.Background(), "document.office", content)
	if err != nil {
		return "", err
	}
	return Postprocess(FlattenTables(markdown)), nil
}
