package cleaner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
)

// ConverterClient talks to the external OCR/document-to-markdown service.
// The PDF and office strategies hand it page images or whole files and get
// markdown back.
type ConverterClient struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries int
	logger     arbor.ILogger
}

// NewConverterClient builds a client from config. An empty base URL is
// allowed; strategies then degrade to their fallbacks.
func NewConverterClient(cfg *common.ConverterConfig, logger arbor.ILogger) *ConverterClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ConverterClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Available reports whether a converter endpoint is configured
func (c *ConverterClient) Available() bool {
	return c.baseURL != ""
}

type convertRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
}

type convertResponse struct {
	Markdown string `json:"markdown"`
	Error    string `json:"error,omitempty"`
}

// ToMarkdown sends one file (or page image) and returns its markdown.
// Transient failures (timeouts, 5xx) are retried with exponential backoff.
func (c *ConverterClient) ToMarkdown(ctx context.Context, filename string, data []byte) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("converter endpoint not configured")
	}

	body, err := json.Marshal(convertRequest{
		Filename: filename,
		Content:  base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return "", fmt.Errorf("marshal convert request: %w", err)
	}

	var lastErr error
	delay := 1 * time.Second

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("build convert request: %w", err)
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
				lastErr = fmt.Errorf("converter returned %d", resp.StatusCode)
			case resp.StatusCode >= 400:
				return "", fmt.Errorf("converter rejected %s: status %d", filename, resp.StatusCode)
			default:
				var converted convertResponse
				if err := json.Unmarshal(respBody, &converted); err != nil {
					return "", fmt.Errorf("decode converter response: %w", err)
				}
				if converted.Error != "" {
					return "", fmt.Errorf("converter error: %s", converted.Error)
				}
				return converted.Markdown, nil
			}
		}

		if attempt < c.maxRetries {
			c.logger.Warn().
				Str("filename", filename).
				Int("attempt", attempt).
				Err(lastErr).
				Msg("Converter call failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay *= 2
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
		}
	}

	return "", fmt.Errorf("converter failed after %d attempts: %w", c.maxRetries, lastErr)
}
