package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWorkerPool_SubmitRejectsDuplicateKey(t *testing.T) {
	wp := NewWorkerPool(1, 0, 10, time.Second)

	if err := wp.Submit(&MockJob{key: "connection:1"}); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := wp.Submit(&MockJob{key: "connection:1"}); !errors.Is(err, ErrJobInFlight) {
		t.Errorf("second Submit() error = %v, want ErrJobInFlight", err)
	}
	if err := wp.Submit(&MockJob{key: "connection:2"}); err != nil {
		t.Errorf("Submit() for another key error = %v", err)
	}
}

func TestWorkerPool_SubmitQueueFull(t *testing.T) {
	wp := NewWorkerPool(1, 0, 1, time.Second)

	if err := wp.Submit(&MockJob{key: "a"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := wp.Submit(&MockJob{key: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() error = %v, want ErrQueueFull", err)
	}
	// a dropped job is not left marked in flight
	wp.mu.Lock()
	_, marked := wp.inflight["b"]
	wp.mu.Unlock()
	if marked {
		t.Error("dropped job still marked in flight")
	}
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	wp := NewWorkerPool(1, 0, 1, time.Second)
	wp.Start()
	wp.Shutdown(time.Second)

	if err := wp.Submit(&MockJob{key: "a"}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit() error = %v, want ErrPoolStopped", err)
	}
	// second shutdown is a no-op
	wp.Shutdown(time.Second)
}

func TestWorkerPool_RunsJobsAndReleasesKey(t *testing.T) {
	wp := NewWorkerPool(2, 0, 10, time.Second)
	wp.Start()
	defer wp.Shutdown(time.Second)

	ran := make(chan string, 2)
	for _, key := range []string{"a", "b"} {
		key := key
		job := &MockJob{key: key, ExecuteFunc: func(ctx context.Context) error {
			ran <- key
			return nil
		}}
		if err := wp.Submit(job); err != nil {
			t.Fatalf("Submit(%s) error = %v", key, err)
		}
	}

	seen := map[string]bool{}
	for range 2 {
		select {
		case key := <-ran:
			seen[key] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("ran = %v, want a and b", seen)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := wp.Submit(&MockJob{key: "a"}); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("key a was never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerPool_JobTimeout(t *testing.T) {
	wp := NewWorkerPool(1, 0, 1, 20*time.Millisecond)
	wp.Start()
	defer wp.Shutdown(time.Second)

	errc := make(chan error, 1)
	job := &MockJob{key: "slow", ExecuteFunc: func(ctx context.Context) error {
		<-ctx.Done()
		errc <- ctx.Err()
		return ctx.Err()
	}}
	if err := wp.Submit(job); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("job ctx error = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job was never cancelled")
	}
}

func TestWorkerPool_SubmitBatch(t *testing.T) {
	wp := NewWorkerPool(1, 0, 2, time.Second)

	if err := wp.Submit(&MockJob{key: "a"}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// a is in flight and counts, b fills the queue, c is dropped
	got := wp.SubmitBatch([]Job{&MockJob{key: "a"}, &MockJob{key: "b"}, &MockJob{key: "c"}})
	if got != 2 {
		t.Errorf("SubmitBatch() = %d, want 2", got)
	}
}
