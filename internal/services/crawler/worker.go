// -----------------------------------------------------------------------
// Crawler Worker - BFS fetch loop over a task's broker frontier
// -----------------------------------------------------------------------

package crawler

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/sitesearch/internal/broker"
	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

// Worker drains one crawl task's input queue. Multiple workers share the
// frontier safely because claims are atomic list moves in the broker.
type Worker struct {
	id      string
	taskID  string
	cfg     models.TaskConfig
	brk     interfaces.Broker
	store   interfaces.DocumentStorage
	fetcher interfaces.Fetcher
	links   *LinkExtractor
	limiter *rate.Limiter
	logger  arbor.ILogger

	pollInterval time.Duration
	batchSize    int
}

// NewWorker creates one crawler worker bound to a task queue
func NewWorker(taskID string, cfg models.TaskConfig, brk interfaces.Broker, store interfaces.DocumentStorage, fetcher interfaces.Fetcher, workers *common.WorkersConfig, logger arbor.ILogger) *Worker {
	limit := rate.Inf
	if cfg.CrawlDelay > 0 {
		limit = rate.Limit(1.0 / cfg.CrawlDelay)
	}

	pollInterval := workers.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	batchSize := workers.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	id := "crawler-" + common.NewEnvelopeID()[:8]
	return &Worker{
		id:           id,
		taskID:       taskID,
		cfg:          cfg,
		brk:          brk,
		store:        store,
		fetcher:      fetcher,
		links:        NewLinkExtractor(logger),
		limiter:      rate.NewLimiter(limit, 1),
		logger:       logger.WithCorrelationId(id),
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// ID returns the worker's identifier
func (w *Worker) ID() string { return w.id }

// Run claims and processes envelopes until the context is cancelled
func (w *Worker) Run(ctx context.Context) {
	queue := broker.TaskQueueName(w.taskID)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		envelopes, err := w.brk.ClaimBatch(ctx, queue, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Msg("Claim failed")
			continue
		}

		for _, env := range envelopes {
			w.processEnvelope(ctx, queue, env)
		}
	}
}

func (w *Worker) processEnvelope(ctx context.Context, queue string, env *models.Envelope) {
	started := time.Now()

	var payload models.CrawlPayload
	if err := env.Decode(&payload); err != nil {
		w.logger.Warn().Err(err).Msg("Undecodable crawl envelope")
		_ = w.brk.AckFailure(ctx, queue, env, err)
		return
	}

	outcome, err := w.crawlOne(ctx, &payload)
	switch {
	case err != nil:
		w.logger.Warn().Err(err).Str("url", payload.URL).Msg("Crawl failed")
		_ = w.brk.AckFailure(ctx, queue, env, err)
	case outcome == nil:
		_ = w.brk.AckSkip(ctx, queue, env)
	default:
		if _, err := w.brk.Enqueue(ctx, broker.QueueCrawler, env.TaskID, outcome); err != nil {
			w.logger.Warn().Err(err).Str("url", payload.URL).Msg("Downstream enqueue failed")
			_ = w.brk.AckFailure(ctx, queue, env, err)
			return
		}
		_ = w.brk.AckSuccess(ctx, queue, env, time.Since(started))
	}
}

// crawlOne runs the per-URL procedure. A nil outcome with nil error means
// the envelope is acknowledged without downstream work.
func (w *Worker) crawlOne(ctx context.Context, payload *models.CrawlPayload) (*models.CrawlPayload, error) {
	queue := broker.TaskQueueName(w.taskID)
	crawledSet := broker.CrawledSetKey(queue)

	base := ""
	if len(w.cfg.StartURLs) > 0 {
		base = w.cfg.StartURLs[0]
	}
	normalized, err := NormalizeURL(payload.URL, base)
	if err != nil {
		w.logger.Debug().Err(err).Str("url", payload.URL).Msg("Unusable URL")
		return nil, nil
	}

	// Dedup against the shared crawled set
	crawled, err := w.brk.SetContains(ctx, crawledSet, normalized)
	if err != nil {
		return nil, fmt.Errorf("check crawled set: %w", err)
	}
	if crawled {
		return nil, nil
	}

	// URL budget: when the set is full, drain the frontier so remaining
	// workers stop immediately too
	if w.cfg.MaxURLs > 0 {
		card, err := w.brk.SetCard(ctx, crawledSet)
		if err != nil {
			return nil, fmt.Errorf("check crawled cardinality: %w", err)
		}
		if card >= int64(w.cfg.MaxURLs) {
			w.logger.Info().Int("max_urls", w.cfg.MaxURLs).Msg("URL budget reached, clearing frontier")
			_ = w.brk.ClearPending(ctx, queue)
			return nil, nil
		}
	}

	exists, known, _, err := w.store.CheckExists(ctx, normalized, payload.SiteID, "")
	if err != nil {
		w.logger.Warn().Err(err).Str("url", normalized).Msg("Existence check failed, fetching anyway")
		exists, known = false, nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := w.fetcher.Fetch(ctx, normalized)
	if err != nil {
		if skip, ok := AsSkipError(err); ok {
			_, _ = w.brk.SetAdd(ctx, crawledSet, normalized)
			if skip.DeleteKnown && exists && known != nil {
				// Page is gone upstream: tell the pipeline to retire it
				return &models.CrawlPayload{
					URL:              normalized,
					SiteID:           payload.SiteID,
					TaskID:           payload.TaskID,
					Depth:            payload.Depth,
					Timestamp:        time.Now().Unix(),
					StatusCode:       skip.StatusCode,
					CrawlerOperation: "delete",
					CrawlerID:        w.id,
					CrawlerType:      string(w.cfg.CrawlerType),
				}, nil
			}
			w.logger.Debug().Str("url", normalized).Int("status", skip.StatusCode).Msg("Skipping URL")
			return nil, nil
		}
		return nil, err
	}

	outcome := &models.CrawlPayload{
		URL:         normalized,
		SiteID:      payload.SiteID,
		TaskID:      payload.TaskID,
		Depth:       payload.Depth,
		Timestamp:   time.Now().Unix(),
		Mimetype:    result.Mimetype,
		StatusCode:  result.StatusCode,
		Headers:     result.Headers,
		ContentHash: common.ContentHash(result.Body),
		CrawlerID:   w.id,
		CrawlerType: string(w.cfg.CrawlerType),
	}

	if IsTextMimetype(result.Mimetype) {
		outcome.Content = string(result.Body)
	} else {
		outcome.Content = base64.StdEncoding.EncodeToString(result.Body)
		outcome.ContentEncoding = "base64"
	}

	links := result.Links
	if len(links) == 0 && result.Mimetype == "text/html" {
		links, err = w.links.ExtractLinks(string(result.Body), normalized)
		if err != nil {
			w.logger.Debug().Err(err).Str("url", normalized).Msg("Link extraction failed")
			links = nil
		}
	}
	outcome.Links = links

	if result.Mimetype == "text/html" {
		outcome.Metadata = ExtractMetadata(string(result.Body), normalized)
	} else {
		outcome.Metadata = &models.PageMetadata{Title: TitleFromURL(normalized)}
	}
	if result.Title != "" {
		outcome.Metadata.Title = ClipTitle(result.Title)
	}

	w.enqueueFrontier(ctx, queue, crawledSet, payload, links)

	if _, err := w.brk.SetAdd(ctx, crawledSet, normalized); err != nil {
		w.logger.Warn().Err(err).Str("url", normalized).Msg("Marking crawled failed")
	}

	return outcome, nil
}

// enqueueFrontier pushes filtered, unseen links back into the task queue.
// MaxDepth 0 means seed-only: discovered links are never followed.
func (w *Worker) enqueueFrontier(ctx context.Context, queue, crawledSet string, payload *models.CrawlPayload, links []string) {
	if payload.Depth >= w.cfg.MaxDepth {
		return
	}

	filtered := w.links.FilterLinks(links, w.cfg.URLPatterns, w.cfg.ExcludePatterns)
	var enqueued int
	for _, link := range filtered {
		normalized, err := NormalizeURL(link, payload.URL)
		if err != nil {
			continue
		}
		crawled, err := w.brk.SetContains(ctx, crawledSet, normalized)
		if err != nil || crawled {
			continue
		}
		_, err = w.brk.Enqueue(ctx, queue, payload.TaskID, &models.CrawlPayload{
			URL:       normalized,
			SiteID:    payload.SiteID,
			TaskID:    payload.TaskID,
			Depth:     payload.Depth + 1,
			Timestamp: time.Now().Unix(),
		})
		if err == nil {
			enqueued++
		}
	}

	if enqueued > 0 {
		w.logger.Debug().
			Str("url", payload.URL).
			Int("enqueued", enqueued).
			Int("depth", payload.Depth).
			Msg("Frontier extended")
	}
}
