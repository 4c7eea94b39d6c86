package geoqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestQueueRunsJobsInSubmissionOrder(t *testing.T) {
	queue := New(time.Millisecond, zap.NewNop())
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		outcome := queue.Enqueue(ctx, func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		go func() {
			defer wg.Done()
			<-outcome
		}()
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestQueueEnforcesMinimumInterval(t *testing.T) {
	const interval = 30 * time.Millisecond
	queue := New(interval, zap.NewNop())
	ctx := context.Background()

	var completions []time.Time
	for i := 0; i < 3; i++ {
		_, err := queue.Do(ctx, func(context.Context) (any, error) {
			completions = append(completions, time.Now())
			return nil, nil
		})
		if err != nil {
			t.Fatalf("job %d failed: %v", i, err)
		}
	}

	for i := 1; i < len(completions); i++ {
		gap := completions[i].Sub(completions[i-1])
		// Allow a small scheduling tolerance below the configured interval.
		if gap < interval-5*time.Millisecond {
			t.Errorf("gap %d too small: %v", i, gap)
		}
	}
}

func TestQueueFailedJobDoesNotBlockFollowers(t *testing.T) {
	const interval = 30 * time.Millisecond
	queue := New(interval, zap.NewNop())
	ctx := context.Background()

	wantErr := errors.New("boom")
	outcome := <-queue.Enqueue(ctx, func(context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(outcome.Err, wantErr) {
		t.Fatalf("expected job error, got %v", outcome.Err)
	}
	if outcome.CompletedAt.IsZero() {
		t.Fatal("failed job must record a completion time")
	}

	var startedAt time.Time
	value, err := queue.Do(ctx, func(context.Context) (any, error) {
		startedAt = time.Now()
		return "ok", nil
	})
	if err != nil || value != "ok" {
		t.Fatalf("follower job failed: %v %v", value, err)
	}

	// A failed request may still have reached the server, so it consumes a
	// time slot like any other job.
	if gap := startedAt.Sub(outcome.CompletedAt); gap < interval-5*time.Millisecond {
		t.Errorf("follower started %v after the failed job, want at least %v", gap, interval)
	}
}

func TestQueueCanceledJobResolvesWithoutRunning(t *testing.T) {
	queue := New(time.Millisecond, zap.NewNop())
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	outcome := <-queue.Enqueue(canceled, func(context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	if !errors.Is(outcome.Err, context.Canceled) {
		t.Fatalf("expected context error, got %v", outcome.Err)
	}
	if ran {
		t.Fatal("canceled job must not execute")
	}
	if !outcome.CompletedAt.IsZero() {
		t.Fatal("canceled job must not advance the completion clock")
	}
}

func TestQueueDepth(t *testing.T) {
	queue := New(time.Millisecond, zap.NewNop())
	if queue.Depth() != 0 {
		t.Fatalf("fresh queue should be empty, depth %d", queue.Depth())
	}
}
