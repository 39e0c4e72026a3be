// -----------------------------------------------------------------------
// Indexer Stage - routes stored documents into per-site vector collections
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

// IndexerStage reads storage results and executes the tagged index
// operation against the site's collection
type IndexerStage struct {
	brk     interfaces.Broker
	factory interfaces.IndexerFactory
	store   interfaces.DocumentStorage
	logger  arbor.ILogger
}

// NewIndexerStage creates the indexing stage processor
func NewIndexerStage(brk interfaces.Broker, factory interfaces.IndexerFactory, store interfaces.DocumentStorage, logger arbor.ILogger) *IndexerStage {
	return &IndexerStage{brk: brk, factory: factory, store: store, logger: logger}
}

func (s *IndexerStage) Queue() string { return broker.QueueStorage }
func (s *IndexerStage) Name() string  { return "indexer" }

// Process executes one index operation. Re-indexing an unchanged document
// is harmless: the upsert is idempotent by doc id.
func (s *IndexerStage) Process(ctx context.Context, env *models.Envelope) (Result, error) {
	var payload models.CrawlPayload
	if err := env.Decode(&payload); err != nil {
		return ResultDone, fmt.Errorf("decode stored payload: %w", err)
	}

	idx, err := s.factory.ForSite(ctx, payload.SiteID)
	if err != nil {
		return ResultDone, fmt.Errorf("indexer for site %s: %w", payload.SiteID, err)
	}

	switch payload.IndexOperation {
	case string(models.IndexOpDelete):
		if payload.ContentHash == "" {
			return ResultSkip, nil
		}
		if err := idx.DeleteByContentHash(ctx, payload.ContentHash); err != nil {
			return ResultDone, fmt.Errorf("deindex %s: %w", payload.URL, err)
		}
		s.logger.Info().
			Str("url", payload.URL).
			Str("site_id", payload.SiteID).
			Msg("Chunks removed from index")
		return ResultDone, nil

	case string(models.StoreOpNew), string(models.StoreOpNewSite), string(models.StoreOpEdit), string(models.StoreOpSkip):
		if payload.CleanContent == "" {
			return ResultSkip, nil
		}

		// An edit supersedes the previous revision: its chunks must go
		// before the new ones land, or they linger in the index forever.
		if payload.IndexOperation == string(models.StoreOpEdit) &&
			payload.PreviousHash != "" && payload.PreviousHash != payload.ContentHash {
			if err := idx.DeleteByContentHash(ctx, payload.PreviousHash); err != nil {
				return ResultDone, fmt.Errorf("deindex superseded revision of %s: %w", payload.URL, err)
			}
		}

		title := ""
		if payload.Metadata != nil {
			title = payload.Metadata.Title
		}
		chunks, err := idx.Index(ctx, &interfaces.IndexDocument{
			SiteID:      payload.SiteID,
			URL:         payload.URL,
			Title:       title,
			Mimetype:    payload.Mimetype,
			ContentHash: payload.ContentHash,
			Content:     payload.CleanContent,
		})
		if err != nil {
			return ResultDone, fmt.Errorf("index %s: %w", payload.URL, err)
		}

		if payload.DocumentID > 0 {
			if err := s.store.MarkIndexed(ctx, payload.DocumentID); err != nil {
				s.logger.Warn().Err(err).Int64("document_id", payload.DocumentID).Msg("Mark indexed failed")
			}
		}

		s.logger.Debug().
			Str("url", payload.URL).
			Str("site_id", payload.SiteID).
			Int("chunks", chunks).
			Msg("Document indexed")
		return ResultDone, nil

	default:
		s.logger.Debug().
			Str("url", payload.URL).
			Str("operation", payload.IndexOperation).
			Msg("No index operation, skipping")
		return ResultSkip, nil
	}
}
