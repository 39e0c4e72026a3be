// -----------------------------------------------------------------------
// Reranker Client - cross-encoder scoring for retrieval candidates
// -----------------------------------------------------------------------

package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
)

// Reranker calls a Jina-compatible rerank endpoint. An empty base URL
// means reranking is disabled; callers fall back to retrieval order.
type Reranker struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int
	logger     arbor.ILogger
}

// NewReranker builds a reranker client from config
func NewReranker(cfg *common.RerankerConfig, logger arbor.ILogger) *Reranker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Reranker{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Available reports whether a rerank endpoint is configured
func (r *Reranker) Available() bool {
	return r.baseURL != ""
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []interfaces.RankedResult `json:"results"`
	Error   string                    `json:"error,omitempty"`
}

// Rerank scores documents against the query and returns up to topN
// results, best first
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]interfaces.RankedResult, error) {
	if !r.Available() {
		return nil, fmt.Errorf("reranker endpoint not configured")
	}
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	decoded, err := r.call(ctx, body)
	if err != nil {
		return nil, err
	}

	for _, result := range decoded.Results {
		if result.Index < 0 || result.Index >= len(documents) {
			return nil, fmt.Errorf("reranker returned out-of-range index %d for %d documents", result.Index, len(documents))
		}
	}

	if len(decoded.Results) > topN {
		decoded.Results = decoded.Results[:topN]
	}
	return decoded.Results, nil
}

// call POSTs the rerank request, retrying transport errors and 5xx
// responses with exponential backoff. 4xx responses are terminal.
func (r *Reranker) call(ctx context.Context, body []byte) (*rerankResponse, error) {
	var lastErr error
	delay := 1 * time.Second

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build rerank request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("reranker returned %d", resp.StatusCode)
			case resp.StatusCode >= 400:
				return nil, fmt.Errorf("rerank request rejected: status %d", resp.StatusCode)
			default:
				var decoded rerankResponse
				if err := json.Unmarshal(respBody, &decoded); err != nil {
					return nil, fmt.Errorf("decode rerank response: %w", err)
				}
				if decoded.Error != "" {
					return nil, fmt.Errorf("reranker error: %s", decoded.Error)
				}
				return &decoded, nil
			}
		}

		if attempt < r.maxRetries {
			r.logger.Warn().
				Int("attempt", attempt).
				Err(lastErr).
				Msg("Rerank call failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
		}
	}

	return nil, fmt.Errorf("reranker failed after %d attempts: %w", r.maxRetries, lastErr)
}

var _ interfaces.RerankerService = (*Reranker)(nil)
