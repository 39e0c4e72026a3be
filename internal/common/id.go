package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique crawl task ID with the "task_" prefix
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewEnvelopeID generates a unique queue envelope ID
func NewEnvelopeID() string {
	return uuid.New().String()
}
