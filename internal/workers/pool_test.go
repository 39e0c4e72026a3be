package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/models"
)

type countingProcessor struct {
	queue     string
	processed atomic.Int64
}

func (p *countingProcessor) Queue() string { return p.queue }
func (p *countingProcessor) Name() string  { return "counting" }

func (p *countingProcessor) Process(_ context.Context, _ *models.Envelope) (Result, error) {
	p.processed.Add(1)
	return ResultDone, nil
}

func TestPoolProcessesEnqueuedEnvelopes(t *testing.T) {
	brk := newTestBroker(t)
	proc := &countingProcessor{queue: "poolcheck"}
	pool := NewPool(brk, proc, &common.WorkersConfig{
		BatchSize:    5,
		PollInterval: 5 * time.Millisecond,
	}, common.GetLogger())

	for i := 0; i < 3; i++ {
		_, err := brk.Enqueue(t.Context(), "poolcheck", "task_test", &models.CrawlPayload{URL: "https://example.edu/"})
		require.NoError(t, err)
	}

	pool.Start(t.Context(), 2)
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return proc.processed.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Everything acknowledged: nothing pending or in flight
	pending, err := brk.Pending(t.Context(), "poolcheck")
	require.NoError(t, err)
	processing, err := brk.Processing(t.Context(), "poolcheck")
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, processing)
}

func TestPoolResize(t *testing.T) {
	brk := newTestBroker(t)
	proc := &countingProcessor{queue: "poolcheck"}
	pool := NewPool(brk, proc, &common.WorkersConfig{
		BatchSize:    1,
		PollInterval: 5 * time.Millisecond,
	}, common.GetLogger())

	pool.Start(t.Context(), 1)
	defer pool.Stop()
	assert.Equal(t, 1, pool.Size())

	pool.Resize(4)
	assert.Equal(t, 4, pool.Size())

	pool.Resize(2)
	assert.Equal(t, 2, pool.Size())

	// Surviving workers still drain the queue
	_, err := brk.Enqueue(t.Context(), "poolcheck", "task_test", &models.CrawlPayload{URL: "https://example.edu/"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return proc.processed.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPoolStopWaitsForWorkers(t *testing.T) {
	brk := newTestBroker(t)
	proc := &countingProcessor{queue: "poolcheck"}
	pool := NewPool(brk, proc, &common.WorkersConfig{
		BatchSize:    1,
		PollInterval: 5 * time.Millisecond,
	}, common.GetLogger())

	pool.Start(t.Context(), 3)
	pool.Stop()
	assert.Zero(t, pool.Size())
}
