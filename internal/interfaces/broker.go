package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/sitesearch/internal/models"
)

// Broker is the queue fabric every worker coordinates through. One logical
// queue Q fans out into pending/processing/completed/failed keys plus a
// bounded processing-time ring and a last-activity stamp.
type Broker interface {
	// Enqueue wraps payload in an envelope (generating a task id when the
	// payload carries none) and pushes it onto the pending list.
	Enqueue(ctx context.Context, queue string, taskID string, payload any) (string, error)

	// ClaimBatch atomically moves up to n envelopes from pending into
	// processing and returns them.
	ClaimBatch(ctx context.Context, queue string, n int) ([]*models.Envelope, error)

	// AckSuccess removes the envelope from processing, records it as
	// completed and pushes the duration into the processing-time ring.
	AckSuccess(ctx context.Context, queue string, env *models.Envelope, duration time.Duration) error

	// AckSkip removes the envelope from processing with no further record
	AckSkip(ctx context.Context, queue string, env *models.Envelope) error

	// AckFailure removes the envelope from processing and records the error
	// in the failed list.
	AckFailure(ctx context.Context, queue string, env *models.Envelope, taskErr error) error

	// Metrics returns point-in-time accounting for the queue
	Metrics(ctx context.Context, queue string) (*models.QueueMetrics, error)

	// Pending returns the pending list length
	Pending(ctx context.Context, queue string) (int64, error)

	// Processing returns the processing list length
	Processing(ctx context.Context, queue string) (int64, error)

	// ClearPending drops all pending envelopes for the queue
	ClearPending(ctx context.Context, queue string) error

	// DeleteQueue removes every key belonging to the queue
	DeleteQueue(ctx context.Context, queue string) error

	// SetAdd adds a member to a broker set, returning true when it was new
	SetAdd(ctx context.Context, key, member string) (bool, error)

	// SetContains reports set membership
	SetContains(ctx context.Context, key, member string) (bool, error)

	// SetCard returns the set cardinality
	SetCard(ctx context.Context, key string) (int64, error)

	// DeleteKeys removes arbitrary broker keys
	DeleteKeys(ctx context.Context, keys ...string) error

	// HashSet stores a field in a broker hash
	HashSet(ctx context.Context, key, field, value string) error

	// HashGet fetches a field from a broker hash; ok is false when missing
	HashGet(ctx context.Context, key, field string) (value string, ok bool, err error)

	// HashDelete removes fields from a broker hash
	HashDelete(ctx context.Context, key string, fields ...string) error

	// Info returns a connection summary for the status report
	Info(ctx context.Context) (*models.BrokerInfo, error)

	// Close releases the underlying connection
	Close() error
}
