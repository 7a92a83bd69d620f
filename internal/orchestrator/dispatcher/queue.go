package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobQueue is the priority queue of pending jobs, §4.7.4. Grounded on the
// teacher's engine.TaskQueue interface (internal/engine/queue.go), narrowed
// to what the dispatcher needs: no separate Ack/Nack since job lifecycle
// transitions are tracked on the Job itself via the dispatcher, not the
// queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context) (*Job, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}

// InMemoryJobQueue is a mutex-guarded priority-ordered slice, the same
// insertion-sort-by-priority shape as the teacher's InMemoryQueue.
type InMemoryJobQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []*Job
	closed bool
}

// NewInMemoryJobQueue builds an empty queue.
func NewInMemoryJobQueue() *InMemoryJobQueue {
	q := &InMemoryJobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *InMemoryJobQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("job queue is closed")
	}

	inserted := false
	for i, existing := range q.jobs {
		if job.Priority > existing.Priority {
			q.jobs = append(q.jobs[:i], append([]*Job{job}, q.jobs[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		q.jobs = append(q.jobs, job)
	}
	q.cond.Signal()
	return nil
}

func (q *InMemoryJobQueue) Dequeue(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed && len(q.jobs) == 0 {
		return nil, fmt.Errorf("job queue is closed")
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *InMemoryJobQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}

func (q *InMemoryJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}

const redisPollInterval = 2 * time.Second

// RedisJobQueue is a distributed alternative backed by a sorted set keyed on
// a priority-biased score, the same ZADD/BZPOPMIN shape as the teacher's
// RedisQueue, so multiple orchestrator replicas can share one dispatch queue.
type RedisJobQueue struct {
	client   *redis.Client
	queueKey string

	mu     sync.RWMutex
	closed bool
}

// NewRedisJobQueue builds a queue against an already-connected client.
func NewRedisJobQueue(client *redis.Client, queueName string) *RedisJobQueue {
	if queueName == "" {
		queueName = "linkflow:jobs"
	}
	return &RedisJobQueue{client: client, queueKey: queueName}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	score := float64(time.Now().UnixNano()) - float64(job.Priority)*1e9
	return q.client.ZAdd(ctx, q.queueKey, redis.Z{Score: score, Member: data}).Err()
}

// Dequeue blocks until a job is available, ctx is cancelled, or the queue is
// closed. It polls BZPOPMIN in short waits rather than one indefinite block
// so a concurrent Close unblocks it promptly instead of waiting out a long
// Redis-side timeout.
func (q *RedisJobQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.mu.RLock()
		closed := q.closed
		q.mu.RUnlock()
		if closed {
			return nil, fmt.Errorf("job queue is closed")
		}

		result, err := q.client.BZPopMin(ctx, redisPollInterval, q.queueKey).Result()
		if err == redis.Nil {
			continue // timed out waiting, nothing enqueued yet
		}
		if err != nil {
			return nil, err
		}

		data, ok := result.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected job queue member type %T", result.Member)
		}
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		return &job, nil
	}
}

func (q *RedisJobQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey).Result()
}

func (q *RedisJobQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.client.Close()
}
