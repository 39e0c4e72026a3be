// -----------------------------------------------------------------------
// Stage Pool - shared worker pool draining one pipeline queue
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

// Result tells the pool how to acknowledge a processed envelope
type Result int

const (
	// ResultDone acknowledges success and records the processing time
	ResultDone Result = iota
	// ResultSkip acknowledges without recording anything
	ResultSkip
)

// Processor handles envelopes for one pipeline stage. Implementations are
// stateless between envelopes so a pool can run any number of them.
type Processor interface {
	// Queue is the logical queue this stage reads from
	Queue() string

	// Name labels the stage in logs and status reports
	Name() string

	// Process handles one claimed envelope. An error acknowledges the
	// envelope as failed.
	Process(ctx context.Context, env *models.Envelope) (Result, error)
}

// workerRecord is the pool's bookkeeping for one running worker
type workerRecord struct {
	id        string
	startedAt time.Time
	cancel    context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// Pool runs a resizable set of workers over one stage's queue
type Pool struct {
	brk       interfaces.Broker
	processor Processor
	logger    arbor.ILogger

	pollInterval time.Duration
	batchSize    int

	mu      sync.Mutex
	workers []*workerRecord
	wg      sync.WaitGroup
	ctx     context.Context
}

// NewPool creates a stage pool; call Start to spawn workers
func NewPool(brk interfaces.Broker, processor Processor, cfg *common.WorkersConfig, logger arbor.ILogger) *Pool {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Pool{
		brk:          brk,
		processor:    processor,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Start spawns n workers bound to ctx
func (p *Pool) Start(ctx context.Context, n int) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	p.Resize(n)
	p.logger.Info().
		Str("stage", p.processor.Name()).
		Int("workers", n).
		Msg("Stage pool started")
}

// Size returns the current worker count
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Statuses reports the pool's workers for the system status endpoint
func (p *Pool) Statuses(kind models.WorkerKind) []models.WorkerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]models.WorkerStatus, 0, len(p.workers))
	for _, w := range p.workers {
		statuses = append(statuses, models.WorkerStatus{
			ID:        w.id,
			Kind:      kind,
			Queue:     p.processor.Queue(),
			Alive:     true,
			StartedAt: w.startedAt,
			UptimeSec: time.Since(w.startedAt).Seconds(),
			Processed: w.processed.Load(),
			Failed:    w.failed.Load(),
			Skipped:   w.skipped.Load(),
		})
	}
	return statuses
}

// Resize grows or shrinks the pool to target workers. Shrinking cancels
// the newest workers; in-flight envelopes finish before the goroutine
// exits.
func (p *Pool) Resize(target int) {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.workers) > target {
		last := len(p.workers) - 1
		p.workers[last].cancel()
		p.workers = p.workers[:last]
	}

	for len(p.workers) < target {
		workerCtx, cancel := context.WithCancel(p.ctx)
		record := &workerRecord{
			id:        p.processor.Name() + "-" + common.NewEnvelopeID()[:8],
			startedAt: time.Now(),
			cancel:    cancel,
		}
		p.workers = append(p.workers, record)

		p.wg.Add(1)
		go p.run(workerCtx, record)
	}
}

// Stop cancels every worker and waits for in-flight envelopes to finish
func (p *Pool) Stop() {
	p.Resize(0)
	p.wg.Wait()
	p.logger.Info().Str("stage", p.processor.Name()).Msg("Stage pool stopped")
}

func (p *Pool) run(ctx context.Context, record *workerRecord) {
	defer p.wg.Done()

	logger := p.logger.WithCorrelationId(record.id)
	queue := p.processor.Queue()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		envelopes, err := p.brk.ClaimBatch(ctx, queue, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Str("queue", queue).Msg("Claim failed")
			continue
		}

		for _, env := range envelopes {
			p.handle(ctx, logger, record, queue, env)
		}
	}
}

func (p *Pool) handle(ctx context.Context, logger arbor.ILogger, record *workerRecord, queue string, env *models.Envelope) {
	started := time.Now()

	result, err := p.processor.Process(ctx, env)
	switch {
	case err != nil:
		record.failed.Add(1)
		logger.Warn().Err(err).Str("queue", queue).Msg("Stage processing failed")
		_ = p.brk.AckFailure(ctx, queue, env, err)
	case result == ResultSkip:
		record.skipped.Add(1)
		_ = p.brk.AckSkip(ctx, queue, env)
	default:
		record.processed.Add(1)
		_ = p.brk.AckSuccess(ctx, queue, env, time.Since(started))
	}
}
