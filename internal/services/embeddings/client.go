// -----------------------------------------------------------------------
// Embeddings Client - dense + sparse vectors from the external service
// -----------------------------------------------------------------------

package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
)

// Client calls a BGE-M3 style embedding endpoint that returns dense and
// sparse (lexical weight) representations in one request.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	client     *http.Client
	maxRetries int
	logger     arbor.ILogger
}

// NewClient builds an embedding client from config
func NewClient(cfg *common.EmbeddingConfig, logger arbor.ILogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Dimension reports the configured dense vector width
func (c *Client) Dimension() int {
	return c.dimension
}

type embedRequest struct {
	Model             string   `json:"model,omitempty"`
	Input             []string `json:"input"`
	ReturnDense       bool     `json:"return_dense"`
	ReturnSparse      bool     `json:"return_sparse"`
	ReturnColbertVecs bool     `json:"return_colbert_vecs"`
}

// embedData is one element of the response's data array. Embedding is a
// float array for dense requests and a token-id/weight object for sparse
// ones, so it stays raw until the caller knows which it asked for.
type embedData struct {
	Object    string          `json:"object"`
	Index     int             `json:"index"`
	Embedding json.RawMessage `json:"embedding"`
}

type embedUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type embedResponse struct {
	Data  []embedData `json:"data"`
	Model string      `json:"model"`
	Usage embedUsage  `json:"usage"`
}

// EmbedDense returns one dense vector per input text, ordered by the
// response's index field.
func (c *Client) EmbedDense(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := c.embed(ctx, inputs, true, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding service returned %d dense vectors for %d inputs", len(resp.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", item.Index, len(inputs))
		}
		var vec []float32
		if err := json.Unmarshal(item.Embedding, &vec); err != nil {
			return nil, fmt.Errorf("decode dense embedding %d: %w", item.Index, err)
		}
		if c.dimension > 0 && len(vec) != c.dimension {
			return nil, fmt.Errorf("dense vector %d has dimension %d, expected %d", item.Index, len(vec), c.dimension)
		}
		out[item.Index] = vec
	}
	return out, nil
}

// EmbedSparse returns one token-weight map per input text. The wire format
// keys token ids as decimal strings; they are parsed into uint32 here.
func (c *Client) EmbedSparse(ctx context.Context, inputs []string) ([]map[uint32]float32, error) {
	resp, err := c.embed(ctx, inputs, false, true)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding service returned %d sparse maps for %d inputs", len(resp.Data), len(inputs))
	}

	out := make([]map[uint32]float32, len(inputs))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", item.Index, len(inputs))
		}
		var weights map[string]float32
		if err := json.Unmarshal(item.Embedding, &weights); err != nil {
			return nil, fmt.Errorf("decode sparse embedding %d: %w", item.Index, err)
		}
		parsed := make(map[uint32]float32, len(weights))
		for token, weight := range weights {
			id, err := strconv.ParseUint(token, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("sparse token id %q is not a uint32: %w", token, err)
			}
			parsed[uint32(id)] = weight
		}
		out[item.Index] = parsed
	}
	return out, nil
}

func (c *Client) embed(ctx context.Context, inputs []string, dense, sparse bool) (*embedResponse, error) {
	if len(inputs) == 0 {
		return &embedResponse{}, nil
	}

	body, err := json.Marshal(embedRequest{
		Model:        c.model,
		Input:        inputs,
		ReturnDense:  dense,
		ReturnSparse: sparse,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var lastErr error
	delay := 1 * time.Second

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("embedding service returned %d", resp.StatusCode)
			case resp.StatusCode >= 400:
				return nil, fmt.Errorf("embedding request rejected: status %d", resp.StatusCode)
			default:
				var decoded embedResponse
				if err := json.Unmarshal(respBody, &decoded); err != nil {
					return nil, fmt.Errorf("decode embed response: %w", err)
				}
				return &decoded, nil
			}
		}

		if attempt < c.maxRetries {
			c.logger.Warn().
				Int("attempt", attempt).
				Int("inputs", len(inputs)).
				Err(lastErr).
				Msg("Embedding call failed, retrying")
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

	return nil, fmt.Errorf("embedding service failed after %d attempts: %w", c.maxRetries, lastErr)
}

var _ interfaces.EmbeddingService = (*Client)(nil)
