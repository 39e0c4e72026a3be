// -----------------------------------------------------------------------
// Cleaner Stage - strategy-based content cleaning between crawl and store
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
	"github.com/ternarybob/sitesearch/internal/services/cleaner"
)

// CleanerStage reads crawl results, reduces them to clean text and hands
// them to the storage stage
type CleanerStage struct {
	brk    interfaces.Broker
	svc    *cleaner.Service
	logger arbor.ILogger
}

// NewCleanerStage creates the cleaning stage processor
func NewCleanerStage(brk interfaces.Broker, svc *cleaner.Service, logger arbor.ILogger) *CleanerStage {
	return &CleanerStage{brk: brk, svc: svc, logger: logger}
}

func (s *CleanerStage) Queue() string { return broker.QueueCrawler }
func (s *CleanerStage) Name() string  { return "cleaner" }

// Process cleans one crawl result. Error and skipped crawls are dropped;
// delete instructions pass through untouched for the storage stage.
func (s *CleanerStage) Process(ctx context.Context, env *models.Envelope) (Result, error) {
	var payload models.CrawlPayload
	if err := env.Decode(&payload); err != nil {
		return ResultDone, fmt.Errorf("decode crawl payload: %w", err)
	}

	if payload.Status == "error" || payload.Status == "skipped" {
		return ResultSkip, nil
	}

	if payload.CrawlerOperation != "delete" {
		raw := []byte(payload.Content)
		if payload.ContentEncoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(payload.Content)
			if err != nil {
				return ResultDone, fmt.Errorf("decode binary content for %s: %w", payload.URL, err)
			}
			raw = decoded
		}

		clean, strategy, matched := s.svc.Clean(payload.URL, payload.Mimetype, raw)
		payload.CleanContent = clean

		s.logger.Debug().
			Str("url", payload.URL).
			Str("strategy", strategy).
			Bool("matched", matched).
			Int("clean_len", len(clean)).
			Msg("Content cleaned")
	}

	if _, err := s.brk.Enqueue(ctx, broker.QueueCleaner, env.TaskID, &payload); err != nil {
		return ResultDone, fmt.Errorf("enqueue cleaned payload: %w", err)
	}
	return ResultDone, nil
}
