package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyReady     = "swapflow:queue:ready"
	keyDelayed   = "swapflow:queue:delayed"
	keyCompleted = "swapflow:queue:completed"
	keyFailed    = "swapflow:queue:failed"
	dedupPrefix  = "swapflow:queue:dedup:"

	moverInterval = 250 * time.Millisecond
	popTimeout    = time.Second
)

// RedisQueue implements Queue on a Redis broker: a ready list for immediate
// delivery, a sorted set for backoff-delayed redeliveries and per-key
// reservation keys for dedup.
type RedisQueue struct {
	rdb     redis.UniversalClient
	cfg     Config
	logger  *zap.Logger
	handler Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a Redis-backed queue. The client's lifecycle is
// owned by the caller.
func NewRedisQueue(rdb redis.UniversalClient, cfg Config, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, cfg: cfg.withDefaults(), logger: logger}
}

func dedupKey(key string) string { return dedupPrefix + key }

// Enqueue reserves the key and pushes the job onto the ready list. While the
// reservation is held (job queued or in flight) further enqueues for the
// same key return the reserved job id without pushing anything. Broker
// failures are returned to the caller, never swallowed.
func (q *RedisQueue) Enqueue(ctx context.Context, key string, payload Payload) (string, error) {
	id := uuid.NewString()

	set, err := q.rdb.SetNX(ctx, dedupKey(key), id, q.cfg.FailedAge).Result()
	if err != nil {
		return "", fmt.Errorf("queue transport failure: %w", err)
	}
	if !set {
		existing, err := q.rdb.Get(ctx, dedupKey(key)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("queue transport failure: %w", err)
		}
		q.logger.Debug("Duplicate enqueue ignored", zap.String("key", key))
		return existing, nil
	}

	job := Job{
		ID:          id,
		Key:         key,
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		q.rdb.Del(ctx, dedupKey(key))
		return "", fmt.Errorf("failed to encode job: %w", err)
	}

	if err := q.rdb.RPush(ctx, keyReady, data).Err(); err != nil {
		q.rdb.Del(ctx, dedupKey(key))
		return "", fmt.Errorf("queue transport failure: %w", err)
	}

	q.logger.Info("Job enqueued", zap.String("job_id", id), zap.String("key", key))
	return id, nil
}

// Process registers the delivery handler. Must be called before Start.
func (q *RedisQueue) Process(handler Handler) {
	q.handler = handler
}

// Start launches the worker slots and the delayed-job mover. It does not
// block.
func (q *RedisQueue) Start(ctx context.Context) error {
	if q.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.work(runCtx)
	}
	q.wg.Add(1)
	go q.moveDelayed(runCtx)

	q.logger.Info("Redis queue started",
		zap.Int("concurrency", q.cfg.Concurrency),
		zap.Int("max_attempts", q.cfg.MaxAttempts))
	return nil
}

func (q *RedisQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.rdb.BLPop(ctx, popTimeout, keyReady).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.logger.Error("Failed to pop job", zap.Error(err))
			time.Sleep(popTimeout)
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			q.logger.Error("Discarding undecodable job", zap.Error(err))
			continue
		}
		q.deliver(ctx, job)
	}
}

func (q *RedisQueue) deliver(ctx context.Context, job Job) {
	q.active.Add(1)
	err := q.handler(ctx, job)
	q.active.Add(-1)

	if err == nil {
		q.finish(ctx, job, keyCompleted, q.cfg.KeepCompleted, q.cfg.CompletedAge)
		return
	}

	if job.Attempt >= job.MaxAttempts {
		q.logger.Error("Job permanently failed",
			zap.String("key", job.Key),
			zap.Int("attempts", job.Attempt),
			zap.Error(err))
		q.finish(ctx, job, keyFailed, q.cfg.KeepFailed, q.cfg.FailedAge)
		return
	}

	next := job
	next.Attempt++
	delay := Backoff(q.cfg.BackoffBase, job.Attempt)

	data, merr := json.Marshal(next)
	if merr != nil {
		q.logger.Error("Failed to encode retry job", zap.Error(merr))
		return
	}
	score := float64(time.Now().Add(delay).UnixMilli())
	if zerr := q.rdb.ZAdd(ctx, keyDelayed, redis.Z{Score: score, Member: data}).Err(); zerr != nil {
		q.logger.Error("Failed to schedule retry", zap.Error(zerr), zap.String("key", job.Key))
		return
	}

	q.logger.Info("Job scheduled for retry",
		zap.String("key", job.Key),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", delay))
}

// finish records a terminal delivery with bounded retention and releases the
// key reservation so the order can be enqueued again.
func (q *RedisQueue) finish(ctx context.Context, job Job, listKey string, keep int, age time.Duration) {
	record, _ := json.Marshal(map[string]string{
		"jobId":      job.ID,
		"key":        job.Key,
		"attempts":   strconv.Itoa(job.Attempt),
		"finishedAt": time.Now().Format(time.RFC3339),
	})

	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, listKey, record)
	pipe.LTrim(ctx, listKey, 0, int64(keep)-1)
	pipe.Expire(ctx, listKey, age)
	pipe.Del(ctx, dedupKey(job.Key))
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("Failed to record job completion", zap.Error(err), zap.String("key", job.Key))
	}
}

// moveDelayed shifts due jobs from the delayed set onto the ready list. The
// ZRem guard keeps a job from being moved twice when several processes run
// the mover.
func (q *RedisQueue) moveDelayed(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(moverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		due, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 100,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.logger.Error("Failed to scan delayed jobs", zap.Error(err))
			}
			continue
		}

		for _, member := range due {
			removed, err := q.rdb.ZRem(ctx, keyDelayed, member).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := q.rdb.RPush(ctx, keyReady, member).Err(); err != nil {
				q.logger.Error("Failed to promote delayed job", zap.Error(err))
			}
		}
	}
}

// Counts reports jobs by state from the broker.
func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, keyReady)
	delayed := pipe.ZCard(ctx, keyDelayed)
	completed := pipe.LLen(ctx, keyCompleted)
	failed := pipe.LLen(ctx, keyFailed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue transport failure: %w", err)
	}

	return Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    q.active.Load(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Close stops the workers and waits for in-flight deliveries or ctx expiry.
// The Redis client itself stays open for its owner to close.
func (q *RedisQueue) Close(ctx context.Context) error {
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("Redis queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
