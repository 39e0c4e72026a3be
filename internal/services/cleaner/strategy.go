// -----------------------------------------------------------------------
// Cleaning Strategies - MIME-dispatched content normalizers
// -----------------------------------------------------------------------

package cleaner

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/interfaces"
)

// Strategy normalizes one family of content into UTF-8 markdown/plaintext.
// ShouldHandle is checked in registration order; the first match wins.
type Strategy interface {
	Name() string
	ShouldHandle(url, mimetype string, content []byte) bool
	Clean(content []byte) (string, error)
}

// Service holds the ordered strategy chain. When no strategy matches, the
// raw content passes through unchanged and the caller gets matched=false.
type Service struct {
	strategies []Strategy
	logger     arbor.ILogger
}

// NewService builds the fixed-order chain: PDF, Word, other office
// formats, search pages, common content pages, markdown-from-HTML, HTML
// text, plain text.
func NewService(converter *ConverterClient, logger arbor.ILogger) *Service {
	return &Service{
		strategies: []Strategy{
			NewPDFStrategy(converter, logger),
			NewWordStrategy(converter, logger),
			NewOfficeStrategy(converter, logger),
			NewSearchPageStrategy(logger),
			NewCommonPageStrategy(logger),
			NewMarkdownStrategy(logger),
			NewHTMLTextStrategy(logger),
			NewPlainTextStrategy(),
		},
		logger: logger,
	}
}

// Clean dispatches content to the first matching strategy
func (s *Service) Clean(url, mimetype string, content []byte) (string, string, bool) {
	for _, strategy := range s.strategies {
		if !strategy.ShouldHandle(url, mimetype, content) {
			continue
		}

		text, err := strategy.Clean(content)
		if err != nil {
			s.logger.Warn().
				Str("strategy", strategy.Name()).
				Str("url", url).
				Err(err).
				Msg("Cleaning strategy failed, passing raw content through")
			return string(content), strategy.Name(), false
		}

		s.logger.Debug().
			Str("strategy", strategy.Name()).
			Str("url", url).
			Int("in_bytes", len(content)).
			Int("out_chars", len(text)).
			Msg("Content cleaned")
		return text, strategy.Name(), true
	}

	s.logger.Warn().
		Str("url", url).
		Str("mimetype", mimetype).
		Msg("No cleaning strategy matched, passing raw content through")
	return string(content), "", false
}

var _ interfaces.CleanerService = (*Service)(nil)
