// -----------------------------------------------------------------------
// Storage Stage - persists cleaned documents and emits index operations
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
)

// StorageStage reads cleaned payloads, runs the document decision table
// and tags each envelope with the index operation the indexer must run
type StorageStage struct {
	brk    interfaces.Broker
	store  interfaces.DocumentStorage
	logger arbor.ILogger
}

// NewStorageStage creates the storage stage processor
func NewStorageStage(brk interfaces.Broker, store interfaces.DocumentStorage, logger arbor.ILogger) *StorageStage {
	return &StorageStage{brk: brk, store: store, logger: logger}
}

func (s *StorageStage) Queue() string { return broker.QueueCleaner }
func (s *StorageStage) Name() string  { return "storage" }

// Process persists one cleaned payload. Skip results still flow to the
// indexer so site bindings can be re-associated.
func (s *StorageStage) Process(ctx context.Context, env *models.Envelope) (Result, error) {
	var payload models.CrawlPayload
	if err := env.Decode(&payload); err != nil {
		return ResultDone, fmt.Errorf("decode cleaned payload: %w", err)
	}

	if payload.SiteID == "" {
		return ResultDone, fmt.Errorf("payload for %s carries no site_id", payload.URL)
	}

	if payload.CrawlerOperation == "delete" {
		return s.processDelete(ctx, env, &payload)
	}

	raw := []byte(payload.Content)
	if payload.ContentEncoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil {
			return ResultDone, fmt.Errorf("decode binary content for %s: %w", payload.URL, err)
		}
		raw = decoded
	}

	doc := &models.Document{
		URL:          payload.URL,
		RawContent:   raw,
		CleanContent: payload.CleanContent,
		Mimetype:     payload.Mimetype,
		ContentHash:  payload.ContentHash,
		StatusCode:   payload.StatusCode,
		Headers:      payload.Headers,
		Links:        payload.Links,
		Timestamp:    payload.Timestamp,
		Metadata:     payload.Metadata,
		CrawlerID:    payload.CrawlerID,
		CrawlerType:  payload.CrawlerType,
	}

	result, err := s.store.StoreDocument(ctx, doc, []string{payload.SiteID})
	if err != nil {
		return ResultDone, fmt.Errorf("store %s: %w", payload.URL, err)
	}

	payload.DocumentID = result.Document.ID
	payload.ContentHash = result.Document.ContentHash
	payload.IndexOperation = string(result.Operation)
	payload.PreviousHash = result.PreviousHash

	s.logger.Debug().
		Str("url", payload.URL).
		Str("operation", string(result.Operation)).
		Int64("document_id", result.Document.ID).
		Msg("Document stored")

	if _, err := s.brk.Enqueue(ctx, broker.QueueStorage, env.TaskID, &payload); err != nil {
		return ResultDone, fmt.Errorf("enqueue stored payload: %w", err)
	}
	return ResultDone, nil
}

// processDelete retires a vanished URL: drop the site binding (and the
// document when orphaned) and tell the indexer which chunks to remove
func (s *StorageStage) processDelete(ctx context.Context, env *models.Envelope, payload *models.CrawlPayload) (Result, error) {
	doc, err := s.store.GetDocumentByURL(ctx, payload.URL)
	if err != nil {
		return ResultDone, fmt.Errorf("lookup %s for delete: %w", payload.URL, err)
	}
	if doc == nil {
		return ResultSkip, nil
	}

	if err := s.store.DeleteDocument(ctx, payload.URL, payload.SiteID); err != nil {
		return ResultDone, fmt.Errorf("delete %s: %w", payload.URL, err)
	}

	payload.DocumentID = doc.ID
	payload.ContentHash = doc.ContentHash
	payload.IndexOperation = string(models.IndexOpDelete)

	s.logger.Info().
		Str("url", payload.URL).
		Str("site_id", payload.SiteID).
		Msg("Vanished document deleted")

	if _, err := s.brk.Enqueue(ctx, broker.QueueStorage, env.TaskID, payload); err != nil {
		return ResultDone, fmt.Errorf("enqueue delete instruction: %w", err)
	}
	return ResultDone, nil
}
