package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryJobQueue_PriorityOrder(t *testing.T) {
	q := NewInMemoryJobQueue()
	ctx := context.Background()

	must(t, q.Enqueue(ctx, &Job{ID: "low", Priority: 1}))
	must(t, q.Enqueue(ctx, &Job{ID: "high", Priority: 10}))
	must(t, q.Enqueue(ctx, &Job{ID: "mid", Priority: 5}))

	for _, want := range []string{"high", "mid", "low"} {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if job.ID != want {
			t.Fatalf("expected %q, got %q", want, job.ID)
		}
	}
}

func TestInMemoryJobQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewInMemoryJobQueue()
	ctx := context.Background()

	result := make(chan *Job, 1)
	go func() {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		result <- job
	}()

	time.Sleep(20 * time.Millisecond) // give Dequeue a chance to block first
	must(t, q.Enqueue(ctx, &Job{ID: "late-arrival", Priority: 1}))

	select {
	case job := <-result:
		if job.ID != "late-arrival" {
			t.Fatalf("expected late-arrival, got %q", job.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Enqueue")
	}
}

func TestInMemoryJobQueue_CloseUnblocksDequeue(t *testing.T) {
	q := NewInMemoryJobQueue()
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	must(t, q.Close())

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error from Dequeue on a closed empty queue")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Close")
	}
}

func newTestRedisQueue(t *testing.T) (*RedisJobQueue, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(srv.Close)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	return NewRedisJobQueue(client, "test:jobs"), srv
}

func TestRedisJobQueue_EnqueueDequeueRoundTrip(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	must(t, q.Enqueue(ctx, &Job{ID: "job-1", WorkflowID: "wf-1", Priority: 3}))

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job.ID != "job-1" || job.WorkflowID != "wf-1" {
		t.Fatalf("unexpected job after round trip: %+v", job)
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty queue after dequeue, got len %d", n)
	}
}

// TestRedisJobQueue_DequeueSurvivesEmptyQueue guards against the bug where a
// one-shot ZPOPMIN-based Dequeue returned (nil, nil) on an empty queue,
// which Dispatcher.Run treats as a permanent shutdown signal. Dequeue must
// keep polling instead of giving up the first time the queue is empty.
func TestRedisJobQueue_DequeueSurvivesEmptyQueue(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*redisPollInterval)
	defer cancel()

	result := make(chan *Job, 1)
	errCh := make(chan error, 1)
	go func() {
		job, err := q.Dequeue(ctx)
		if err != nil {
			errCh <- err
			return
		}
		result <- job
	}()

	time.Sleep(50 * time.Millisecond) // queue starts empty
	must(t, q.Enqueue(context.Background(), &Job{ID: "delayed", Priority: 1}))

	select {
	case job := <-result:
		if job.ID != "delayed" {
			t.Fatalf("expected delayed, got %q", job.ID)
		}
	case err := <-errCh:
		t.Fatalf("Dequeue returned an error instead of polling through the empty queue: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Dequeue never returned the delayed job")
	}
}

func TestRedisJobQueue_CloseUnblocksDequeue(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	must(t, q.Close())

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error from Dequeue on a closed empty queue")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Dequeue did not unblock after Close")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
