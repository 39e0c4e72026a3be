// -----------------------------------------------------------------------
// Broker Client - Redis-backed FIFO queue fabric shared by all workers
// -----------------------------------------------------------------------

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitesearch/internal/common"
	"github.com/ternarybob/sitesearch/internal/interfaces"
	"github.com/ternarybob/sitesearch/internal/models"
)

// timesRingSize bounds the per-queue processing duration ring
const timesRingSize = 100

// Client implements interfaces.Broker on a single Redis instance. Claims
// run as a server-side script and acks inside MULTI/EXEC pipelines, which
// is what makes the shared BFS frontier safe for a pool of crawler workers.
type Client struct {
	rdb        redis.UniversalClient
	logger     arbor.ILogger
	opTimeout  time.Duration
	maxRetries int
	backoff    time.Duration
}

// New connects to the broker from config. Fails fast on an unreachable or
// malformed URL; a pipeline with no broker has nothing to do.
func New(cfg *common.BrokerConfig, logger arbor.ILogger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker unreachable at %s: %w", opts.Addr, err)
	}

	logger.Info().Str("addr", opts.Addr).Msg("Broker connected")

	return NewWithClient(rdb, cfg, logger), nil
}

// NewWithClient wraps an existing Redis client (tests inject miniredis here)
func NewWithClient(rdb redis.UniversalClient, cfg *common.BrokerConfig, logger arbor.ILogger) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries < 3 {
		maxRetries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Client{
		rdb:        rdb,
		logger:     logger,
		opTimeout:  cfg.OpTimeout,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// withRetry runs op with exponential backoff on transient broker errors
func (c *Client) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	delay := c.backoff

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		opCtx := ctx
		var cancel context.CancelFunc
		if c.opTimeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, c.opTimeout)
		}
		err := op(opCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err

		if attempt < c.maxRetries {
			c.logger.Warn().
				Str("op", name).
				Int("attempt", attempt).
				Err(err).
				Msg("Broker operation failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("broker %s failed after %d attempts: %w", name, c.maxRetries, lastErr)
}

// Enqueue pushes a payload onto the pending list, wrapping it in an
// envelope. When taskID is empty a fresh one is generated and returned.
func (c *Client) Enqueue(ctx context.Context, queue string, taskID string, payload any) (string, error) {
	if taskID == "" {
		taskID = common.NewEnvelopeID()
	}

	env, err := models.NewEnvelope(taskID, payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	err = c.withRetry(ctx, "enqueue", func(ctx context.Context) error {
		pipe := c.rdb.TxPipeline()
		pipe.LPush(ctx, PendingKey(queue), raw)
		pipe.Set(ctx, ActivityKey(queue), time.Now().Unix(), 0)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	return taskID, nil
}

// claimScript moves up to ARGV[1] elements from pending (KEYS[1]) into
// processing (KEYS[2]) in one atomic step and stamps the activity key
// (KEYS[3]). Each element lands in processing before it leaves pending's
// visibility, so a crash can never strand an envelope between the lists.
// Returns the moved elements oldest-first.
var claimScript = redis.NewScript(`
local moved = {}
for i = 1, tonumber(ARGV[1]) do
	local item = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
	if not item then
		break
	end
	moved[#moved + 1] = item
end
if #moved > 0 then
	redis.call('SET', KEYS[3], ARGV[2])
end
return moved
`)

// ClaimBatch atomically moves up to n envelopes from the tail of the
// pending list into processing, returning them oldest-first.
func (c *Client) ClaimBatch(ctx context.Context, queue string, n int) ([]*models.Envelope, error) {
	if n <= 0 {
		n = 1
	}

	var rawItems []string
	err := c.withRetry(ctx, "claim_batch", func(ctx context.Context) error {
		keys := []string{PendingKey(queue), ProcessingKey(queue), ActivityKey(queue)}
		result, err := claimScript.Run(ctx, c.rdb, keys, n, time.Now().Unix()).StringSlice()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		rawItems = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(rawItems) == 0 {
		return nil, nil
	}

	envs := make([]*models.Envelope, 0, len(rawItems))
	for _, raw := range rawItems {
		var env models.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			c.logger.Warn().Str("queue", queue).Err(err).Msg("Dropping malformed envelope")
			continue
		}
		env.SetRaw(raw)
		envs = append(envs, &env)
	}

	return envs, nil
}

// AckSuccess completes an envelope and records its processing duration in
// the bounded ring.
func (c *Client) AckSuccess(ctx context.Context, queue string, env *models.Envelope, duration time.Duration) error {
	return c.withRetry(ctx, "ack_success", func(ctx context.Context) error {
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, ProcessingKey(queue), 1, env.Raw())
		pipe.LPush(ctx, CompletedKey(queue), env.Raw())
		pipe.LPush(ctx, TimesKey(queue), strconv.FormatFloat(duration.Seconds(), 'f', 6, 64))
		pipe.LTrim(ctx, TimesKey(queue), 0, timesRingSize-1)
		pipe.Set(ctx, ActivityKey(queue), time.Now().Unix(), 0)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// AckSkip drops an envelope from processing with no terminal record
func (c *Client) AckSkip(ctx context.Context, queue string, env *models.Envelope) error {
	return c.withRetry(ctx, "ack_skip", func(ctx context.Context) error {
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, ProcessingKey(queue), 1, env.Raw())
		pipe.Set(ctx, ActivityKey(queue), time.Now().Unix(), 0)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// AckFailure moves an envelope into the failed list with the error attached
func (c *Client) AckFailure(ctx context.Context, queue string, env *models.Envelope, taskErr error) error {
	record := models.FailureRecord{
		Error:     taskErr.Error(),
		Envelope:  env,
		Timestamp: time.Now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal failure record: %w", err)
	}

	return c.withRetry(ctx, "ack_failure", func(ctx context.Context) error {
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, ProcessingKey(queue), 1, env.Raw())
		pipe.LPush(ctx, FailedKey(queue), raw)
		pipe.Set(ctx, ActivityKey(queue), time.Now().Unix(), 0)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Metrics reads the queue's accounting in one pipeline
func (c *Client) Metrics(ctx context.Context, queue string) (*models.QueueMetrics, error) {
	var metrics models.QueueMetrics

	err := c.withRetry(ctx, "metrics", func(ctx context.Context) error {
		pipe := c.rdb.Pipeline()
		pending := pipe.LLen(ctx, PendingKey(queue))
		processing := pipe.LLen(ctx, ProcessingKey(queue))
		completed := pipe.LLen(ctx, CompletedKey(queue))
		failed := pipe.LLen(ctx, FailedKey(queue))
		times := pipe.LRange(ctx, TimesKey(queue), 0, -1)
		activity := pipe.Get(ctx, ActivityKey(queue))
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		metrics.Pending = pending.Val()
		metrics.Processing = processing.Val()
		metrics.Completed = completed.Val()
		metrics.Failed = failed.Val()

		if samples := times.Val(); len(samples) > 0 {
			var sum float64
			var count int
			for _, s := range samples {
				if v, err := strconv.ParseFloat(s, 64); err == nil {
					sum += v
					count++
				}
			}
			if count > 0 {
				metrics.AvgProcessingTime = sum / float64(count)
			}
		}
		if ts, err := strconv.ParseInt(activity.Val(), 10, 64); err == nil {
			metrics.LastActivity = ts
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &metrics, nil
}

// Pending returns the pending list length
func (c *Client) Pending(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := c.withRetry(ctx, "pending", func(ctx context.Context) error {
		var err error
		n, err = c.rdb.LLen(ctx, PendingKey(queue)).Result()
		return err
	})
	return n, err
}

// Processing returns the processing list length
func (c *Client) Processing(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := c.withRetry(ctx, "processing", func(ctx context.Context) error {
		var err error
		n, err = c.rdb.LLen(ctx, ProcessingKey(queue)).Result()
		return err
	})
	return n, err
}

// ClearPending drops the pending list. Used by crawlers when a task hits
// its max_urls cap.
func (c *Client) ClearPending(ctx context.Context, queue string) error {
	return c.withRetry(ctx, "clear_pending", func(ctx context.Context) error {
		return c.rdb.Del(ctx, PendingKey(queue)).Err()
	})
}

// DeleteQueue removes every key belonging to the queue, including the
// crawled-URL dedup set for task frontiers.
func (c *Client) DeleteQueue(ctx context.Context, queue string) error {
	keys := QueueKeys(queue)
	keys = append(keys, CrawledSetKey(queue))
	return c.DeleteKeys(ctx, keys...)
}

// SetAdd adds a member to a set, returning true when it was not present
func (c *Client) SetAdd(ctx context.Context, key, member string) (bool, error) {
	var added bool
	err := c.withRetry(ctx, "set_add", func(ctx context.Context) error {
		n, err := c.rdb.SAdd(ctx, key, member).Result()
		added = n > 0
		return err
	})
	return added, err
}

// SetContains reports set membership
func (c *Client) SetContains(ctx context.Context, key, member string) (bool, error) {
	var ok bool
	err := c.withRetry(ctx, "set_contains", func(ctx context.Context) error {
		var err error
		ok, err = c.rdb.SIsMember(ctx, key, member).Result()
		return err
	})
	return ok, err
}

// SetCard returns the set cardinality
func (c *Client) SetCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := c.withRetry(ctx, "set_card", func(ctx context.Context) error {
		var err error
		n, err = c.rdb.SCard(ctx, key).Result()
		return err
	})
	return n, err
}

// DeleteKeys removes arbitrary broker keys
func (c *Client) DeleteKeys(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.withRetry(ctx, "delete_keys", func(ctx context.Context) error {
		return c.rdb.Del(ctx, keys...).Err()
	})
}

// HashSet stores a field in a hash
func (c *Client) HashSet(ctx context.Context, key, field, value string) error {
	return c.withRetry(ctx, "hash_set", func(ctx context.Context) error {
		return c.rdb.HSet(ctx, key, field, value).Err()
	})
}

// HashGet fetches a field from a hash
func (c *Client) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	var value string
	var ok bool
	err := c.withRetry(ctx, "hash_get", func(ctx context.Context) error {
		v, err := c.rdb.HGet(ctx, key, field).Result()
		if errors.Is(err, redis.Nil) {
			ok = false
			return nil
		}
		if err != nil {
			return err
		}
		value, ok = v, true
		return nil
	})
	return value, ok, err
}

// HashDelete removes fields from a hash
func (c *Client) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return c.withRetry(ctx, "hash_delete", func(ctx context.Context) error {
		return c.rdb.HDel(ctx, key, fields...).Err()
	})
}

// Info summarizes the connection for the status report
func (c *Client) Info(ctx context.Context) (*models.BrokerInfo, error) {
	info := &models.BrokerInfo{}
	if opts, ok := c.rdb.(*redis.Client); ok {
		info.Addr = opts.Options().Addr
	}

	err := c.withRetry(ctx, "info", func(ctx context.Context) error {
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		info.Connected = true
		n, err := c.rdb.DBSize(ctx).Result()
		if err != nil {
			return err
		}
		info.Keys = n
		return nil
	})
	if err != nil {
		info.Connected = false
		return info, nil
	}
	return info, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

var _ interfaces.Broker = (*Client)(nil)
