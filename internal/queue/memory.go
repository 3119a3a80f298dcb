package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryQueue implements Queue in process memory. It honors the same
// contract as the Redis engine and backs tests and single-process
// development mode.
type MemoryQueue struct {
	cfg     Config
	logger  *zap.Logger
	handler Handler

	mu       sync.Mutex
	reserved map[string]string // key -> job id, held while queued or in flight
	timers   map[string]*time.Timer
	closed   bool

	ready  chan Job
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active    atomic.Int64
	delayed   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an in-process queue with the given policy.
func NewMemoryQueue(cfg Config, logger *zap.Logger) *MemoryQueue {
	cfg = cfg.withDefaults()
	return &MemoryQueue{
		cfg:      cfg,
		logger:   logger,
		reserved: make(map[string]string),
		timers:   make(map[string]*time.Timer),
		ready:    make(chan Job, 1024),
	}
}

// Enqueue accepts a job unless one with the same key is already queued or
// in flight, in which case the existing job id is returned unchanged.
func (q *MemoryQueue) Enqueue(ctx context.Context, key string, payload Payload) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	if id, ok := q.reserved[key]; ok {
		q.mu.Unlock()
		q.logger.Debug("Duplicate enqueue ignored", zap.String("key", key))
		return id, nil
	}

	job := Job{
		ID:          uuid.NewString(),
		Key:         key,
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  time.Now(),
	}
	q.reserved[key] = job.ID
	q.mu.Unlock()

	select {
	case q.ready <- job:
	case <-ctx.Done():
		q.release(key)
		return "", ctx.Err()
	}
	return job.ID, nil
}

// Process registers the delivery handler. Must be called before Start.
func (q *MemoryQueue) Process(handler Handler) {
	q.handler = handler
}

// Start launches the worker slots. It does not block; deliveries stop when
// ctx is cancelled or Close is called.
func (q *MemoryQueue) Start(ctx context.Context) error {
	if q.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.work(runCtx)
	}

	q.logger.Info("Memory queue started", zap.Int("concurrency", q.cfg.Concurrency))
	return nil
}

func (q *MemoryQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.ready:
			q.deliver(ctx, job)
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, job Job) {
	q.active.Add(1)
	err := q.handler(ctx, job)
	q.active.Add(-1)

	if err == nil {
		q.completed.Add(1)
		q.release(job.Key)
		return
	}

	if job.Attempt >= job.MaxAttempts {
		q.failed.Add(1)
		q.release(job.Key)
		q.logger.Error("Job permanently failed",
			zap.String("key", job.Key),
			zap.Int("attempts", job.Attempt),
			zap.Error(err))
		return
	}

	delay := Backoff(q.cfg.BackoffBase, job.Attempt)
	next := job
	next.Attempt++

	q.logger.Info("Job scheduled for retry",
		zap.String("key", job.Key),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", delay))

	q.delayed.Add(1)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.delayed.Add(-1)
		return
	}
	q.timers[next.ID] = time.AfterFunc(delay, func() {
		q.delayed.Add(-1)
		q.mu.Lock()
		delete(q.timers, next.ID)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		select {
		case q.ready <- next:
		default:
			q.logger.Error("Ready queue full, dropping retry", zap.String("key", next.Key))
			q.release(next.Key)
		}
	})
	q.mu.Unlock()
}

func (q *MemoryQueue) release(key string) {
	q.mu.Lock()
	delete(q.reserved, key)
	q.mu.Unlock()
}

// Counts reports jobs by state.
func (q *MemoryQueue) Counts(ctx context.Context) (Counts, error) {
	return Counts{
		Waiting:   int64(len(q.ready)),
		Delayed:   q.delayed.Load(),
		Active:    q.active.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}, nil
}

// Close stops accepting jobs, cancels pending retries and waits for active
// deliveries to finish or ctx to expire.
func (q *MemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

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
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
