package models

import (
	"encoding/json"
	"time"
)

// Envelope is the unit exchanged through the broker: a task id plus an
// opaque payload. The task id is generated at first enqueue and preserved
// across every downstream stage.
type Envelope struct {
	TaskID  string          `json:"task_id"`
	Payload json.RawMessage `json:"payload"`

	raw string
}

// NewEnvelope wraps a payload, marshalling it to JSON
func NewEnvelope(taskID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{TaskID: taskID, Payload: data}, nil
}

// raw holds the exact serialized form the envelope had on the broker list.
// Removal from the processing list matches on this byte-for-byte, so acks
// must use the same string that was claimed.
func (e *Envelope) Raw() string { return e.raw }

// SetRaw records the serialized list element this envelope was parsed from
func (e *Envelope) SetRaw(raw string) { e.raw = raw }

// Decode unmarshals the payload into v
func (e *Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// QueueMetrics is the point-in-time accounting for one logical queue
type QueueMetrics struct {
	Pending           int64   `json:"pending"`
	Processing        int64   `json:"processing"`
	Completed         int64   `json:"completed"`
	Failed            int64   `json:"failed"`
	AvgProcessingTime float64 `json:"avg_processing_time"` // Seconds
	LastActivity      int64   `json:"last_activity"`       // Epoch seconds, 0 if never
}

// FailureRecord is what lands in failed:Q for operator inspection
type FailureRecord struct {
	Error     string    `json:"error"`
	Envelope  *Envelope `json:"envelope"`
	Timestamp time.Time `json:"timestamp"`
}

// CrawlPayload is the envelope payload that flows through the whole
// pipeline. The crawler fills the fetch fields, the cleaner adds
// CleanContent, the storage worker adds DocumentID and IndexOperation.
type CrawlPayload struct {
	URL              string            `json:"url"`
	SiteID           string            `json:"site_id"`
	TaskID           string            `json:"task_id"`
	Depth            int               `json:"depth"`
	Timestamp        int64             `json:"timestamp"`
	Status           string            `json:"status,omitempty"` // "", "error" or "skipped"
	Error            string            `json:"error,omitempty"`
	CrawlerOperation string            `json:"crawler_operation,omitempty"` // "delete" for vanished urls
	Content          string            `json:"content,omitempty"`           // Text, or base64 when binary
	ContentEncoding  string            `json:"content_encoding,omitempty"`  // "base64" for binary payloads
	Mimetype         string            `json:"mimetype,omitempty"`
	StatusCode       int               `json:"status_code,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Links            []string          `json:"links,omitempty"`
	Metadata         *PageMetadata     `json:"metadata,omitempty"`
	ContentHash      string            `json:"content_hash,omitempty"`
	CrawlerID        string            `json:"crawler_id,omitempty"`
	CrawlerType      string            `json:"crawler_type,omitempty"`
	CleanContent     string            `json:"clean_content,omitempty"`
	DocumentID       int64             `json:"document_id,omitempty"`
	IndexOperation   string            `json:"index_operation,omitempty"`
	PreviousHash     string            `json:"previous_hash,omitempty"` // Pre-edit content hash, set on edits
}

// RefreshPayload is the envelope payload for queue:refresh
type RefreshPayload struct {
	SiteID           string   `json:"site_id"`
	CrawlTaskID      string   `json:"crawl_task_id"`
	Strategy         string   `json:"strategy"`
	URLPatterns      []string `json:"url_patterns,omitempty"`
	ExcludePatterns  []string `json:"exclude_patterns,omitempty"`
	PriorityPatterns []string `json:"priority_patterns,omitempty"`
	MaxAgeDays       int      `json:"max_age_days,omitempty"`
	PolicyID         int64    `json:"policy_id,omitempty"`
	// RefreshIntervalDays lets the refresh worker stamp next_refresh
	// without re-reading the policy
	RefreshIntervalDays int `json:"refresh_interval_days,omitempty"`
}
