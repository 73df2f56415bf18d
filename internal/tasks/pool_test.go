package tasks_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/netvora/billing/internal/tasks"
	"go.uber.org/zap"
)

func TestPool_RunsDispatchedTask(t *testing.T) {
	pool := tasks.NewPool(tasks.PoolConfig{Workers: 2, QueueSize: 8}, zap.NewNop())
	pool.Start()

	done := make(chan struct{})
	err := pool.Dispatch(context.Background(), tasks.Task{
		Name: "test.unit",
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
	pool.Stop()
}

func TestPool_RetriesLockContention(t *testing.T) {
	pool := tasks.NewPool(tasks.PoolConfig{
		Workers:     1,
		QueueSize:   4,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, zap.NewNop())
	pool.Start()

	var attempts int32
	done := make(chan struct{})
	err := pool.Dispatch(context.Background(), tasks.Task{
		Name: "test.contended",
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return errors.New("database is locked")
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never succeeded")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	pool.Stop()
}

func TestPool_DoesNotRetryPermanentFailure(t *testing.T) {
	pool := tasks.NewPool(tasks.PoolConfig{
		Workers:     1,
		QueueSize:   4,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}, zap.NewNop())
	pool.Start()

	var attempts int32
	if err := pool.Dispatch(context.Background(), tasks.Task{
		Name: "test.broken",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("constraint violation")
		},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	pool.Stop() // drains the queue before returning
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent errors)", got)
	}
}

func TestPool_QueueFull(t *testing.T) {
	pool := tasks.NewPool(tasks.PoolConfig{Workers: 1, QueueSize: 1}, zap.NewNop())
	// Not started: nothing drains the queue.

	block := tasks.Task{Name: "test.filler", Run: func(ctx context.Context) error { return nil }}
	if err := pool.Dispatch(context.Background(), block); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	err := pool.Dispatch(context.Background(), block)
	if !errors.Is(err, tasks.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestSynchronous_RunsInline(t *testing.T) {
	ran := false
	err := tasks.Synchronous{}.Dispatch(context.Background(), tasks.Task{
		Name: "test.inline",
		Run: func(ctx context.Context) error {
			ran = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ran {
		t.Error("task must run before Dispatch returns")
	}
}
