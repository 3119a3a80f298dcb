// Package queue provides the durable job queue the order pipeline runs on:
// at-most-one-in-flight-per-key delivery, bounded concurrency, exponential
// backoff and a bounded retry ceiling. The production engine is Redis; an
// in-process engine with the same contract backs tests and single-process
// development.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrClosed is returned from Enqueue after the queue has shut down.
var ErrClosed = errors.New("queue is closed")

// Payload is the minimal set of order fields a delivery needs to execute.
type Payload struct {
	OrderID  string          `json:"orderId"`
	UserID   string          `json:"userId"`
	Kind     string          `json:"orderType"`
	TokenIn  string          `json:"tokenIn"`
	TokenOut string          `json:"tokenOut"`
	AmountIn decimal.Decimal `json:"amountIn"`
}

// Job is the envelope delivered to a worker slot. Attempt is 1-based and
// incremented by the queue on each redelivery.
type Job struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Payload     Payload   `json:"payload"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Handler processes one delivery. Returning an error schedules a
// backoff-delayed redelivery until the job's attempt ceiling is reached.
type Handler func(ctx context.Context, job Job) error

// Counts is a point-in-time census of jobs by state, kept for operational
// inspection.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Config tunes delivery concurrency, the retry policy and record retention.
type Config struct {
	Concurrency   int
	MaxAttempts   int
	BackoffBase   time.Duration
	KeepCompleted int
	KeepFailed    int
	CompletedAge  time.Duration
	FailedAge     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.KeepCompleted <= 0 {
		c.KeepCompleted = 1000
	}
	if c.KeepFailed <= 0 {
		c.KeepFailed = 5000
	}
	if c.CompletedAge <= 0 {
		c.CompletedAge = 24 * time.Hour
	}
	if c.FailedAge <= 0 {
		c.FailedAge = 7 * 24 * time.Hour
	}
	return c
}

// Queue is the contract the submission path and the worker depend on.
// Enqueue is idempotent per key: while a job with the same key is queued or
// in flight, further calls are no-ops returning the existing job id. A
// transport failure surfaces as an error; it is never swallowed.
type Queue interface {
	Enqueue(ctx context.Context, key string, payload Payload) (string, error)
	Process(handler Handler)
	Start(ctx context.Context) error
	Counts(ctx context.Context) (Counts, error)
	Close(ctx context.Context) error
}

// Backoff returns the delay before redelivering a job that just failed its
// given 1-based attempt: base doubling per attempt (base, 2*base, 4*base, …).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
