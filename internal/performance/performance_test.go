package performance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// BenchmarkWorkerPool benchmarks the worker pool performance.
func BenchmarkWorkerPool(b *testing.B) {
	pool := NewWorkerPool(4, 0)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		if !pool.Submit(wg.Done) {
			wg.Done()
		}
	}
	wg.Wait()
}

// BenchmarkMap benchmarks ordered fan-out.
func BenchmarkMap(b *testing.B) {
	pool := NewWorkerPool(8, 0)
	pool.Start()
	defer pool.Stop()

	items := make([]int, 256)
	for i := range items {
		items[i] = i
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Map(context.Background(), pool, items, func(n int) int { return n * n }); err != nil {
			b.Fatal(err)
		}
	}
}

// TestWorkerPoolFunctionality tests worker pool basic functionality.
func TestWorkerPoolFunctionality(t *testing.T) {
	pool := NewWorkerPool(4, 0)
	pool.Start()

	var counter int64
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		submitted := pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
			wg.Done()
		})
		if !submitted {
			wg.Done() // Decrement if not submitted
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for tasks to complete")
	}

	pool.Stop()

	if counter != 100 {
		t.Errorf("Expected 100 tasks completed, got %d", counter)
	}

	stats := pool.Stats()
	if stats.Running {
		t.Error("pool should report stopped")
	}
	if stats.TasksDone != stats.TasksTotal {
		t.Errorf("TasksDone=%d TasksTotal=%d", stats.TasksDone, stats.TasksTotal)
	}
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(2, 4)
	pool.Start()
	pool.Stop()
	pool.Stop() // idempotent

	if pool.Submit(func() {}) {
		t.Error("Submit should fail on a stopped pool")
	}
	if err := pool.SubmitContext(context.Background(), func() {}); err != ErrPoolStopped {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}

func TestWorkerPoolSubmitContextBlocksUntilCancelled(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.Start()
	defer pool.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	pool.SubmitContext(context.Background(), func() {
		close(started)
		<-release
	})
	<-started
	// Worker busy, queue slot free: this one queues.
	if err := pool.SubmitContext(context.Background(), func() {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.SubmitContext(ctx, func() {}); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(release)
}

func TestMapPreservesOrder(t *testing.T) {
	pool := NewWorkerPool(4, 2)
	pool.Start()
	defer pool.Stop()

	items := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g"}
	got, err := Map(context.Background(), pool, items, func(s string) int {
		time.Sleep(time.Duration(7-len(s)) * time.Millisecond)
		return len(s)
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 3, 4, 5, 6, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result %d = %d, want %d", i, got[i], want[i])
		}
	}
}
