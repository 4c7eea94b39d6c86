// Package geoqueue serializes all outbound geocoding requests through a
// single FIFO runner that enforces a minimum interval between jobs.
package geoqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one geocoding request executed by the queue runner.
type Job func(ctx context.Context) (any, error)

// Outcome resolves a queued job. CompletedAt is the runner's completion
// timestamp; for jobs canceled before execution it is zero.
type Outcome struct {
	Value       any
	Err         error
	CompletedAt time.Time
}

type pendingJob struct {
	ctx  context.Context
	job  Job
	done chan Outcome
}

// Queue is the single serialization point shared by all concurrently
// running item pipelines. Construct one per run and pass it by reference;
// tests may instantiate independent queues.
type Queue struct {
	minInterval time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	pending []pendingJob
	running bool
	last    time.Time
}

// New creates a queue with the given minimum interval between job
// completions and the start of the next job.
func New(minInterval time.Duration, logger *zap.Logger) *Queue {
	return &Queue{minInterval: minInterval, logger: logger}
}

// Enqueue appends a job and returns a channel resolving its outcome.
// Jobs run strictly in submission order; at most one runner loop is ever
// active, so concurrent producers never race to execute jobs in parallel.
func (q *Queue) Enqueue(ctx context.Context, job Job) <-chan Outcome {
	done := make(chan Outcome, 1)
	q.mu.Lock()
	q.pending = append(q.pending, pendingJob{ctx: ctx, job: job, done: done})
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()
	if start {
		go q.run()
	}
	return done
}

// Do enqueues job and blocks until it resolves or ctx ends.
func (q *Queue) Do(ctx context.Context, job Job) (any, error) {
	select {
	case outcome := <-q.Enqueue(ctx, job):
		return outcome.Value, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth reports the number of jobs waiting to run.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		last := q.last
		q.mu.Unlock()

		// A job whose producer gave up never contacted the server, so it
		// does not consume a time slot.
		if next.ctx.Err() != nil {
			next.done <- Outcome{Err: next.ctx.Err()}
			continue
		}

		if !last.IsZero() {
			if wait := q.minInterval - time.Since(last); wait > 0 {
				q.pause(next.ctx, wait)
			}
		}
		if next.ctx.Err() != nil {
			next.done <- Outcome{Err: next.ctx.Err()}
			continue
		}

		value, err := next.job(next.ctx)
		completed := time.Now()

		// A failed request may still have reached the server, so the
		// interval clock advances either way.
		q.mu.Lock()
		q.last = completed
		q.mu.Unlock()

		if err != nil {
			q.logger.Debug("geocode job failed", zap.Error(err))
		}
		next.done <- Outcome{Value: value, Err: err, CompletedAt: completed}
	}
}

func (q *Queue) pause(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
