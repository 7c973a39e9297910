package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/permitchain/permit-backend/internal/ledger"
	"github.com/permitchain/permit-backend/internal/projects/domain"
)

const (
	tasksKey      = "reconcile:tasks"      // pending tasks, oldest first
	processingKey = "reconcile:processing" // tasks taken by a worker and not yet acknowledged
	pendingKey    = "reconcile:pending"    // idempotency keys of queued or in-flight tasks
	deadKey       = "reconcile:dead"       // tasks that used up their attempts
)

// Task asks for one reconciliation pass over a project.
type Task struct {
	ID             string            `json:"id"`
	Kind           domain.RepairKind `json:"kind"`
	ProjectAddress common.Address    `json:"project_address"`
	// Orphan is the project record to restore for RepairOrphan tasks.
	Orphan    *domain.Project `json:"orphan,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	raw string
}

// Key is the idempotency key: one queued task per kind and project.
func (t Task) Key() string {
	return string(t.Kind) + ":" + ledger.Key(t.ProjectAddress)
}

// Queue is a redis-backed task list with at-least-once delivery.
type Queue struct {
	client      *redis.Client
	maxAttempts int
}

func NewQueue(client *redis.Client, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{client: client, maxAttempts: maxAttempts}
}

// Schedule queues a repair for contract.
func (q *Queue) Schedule(ctx context.Context, kind domain.RepairKind, contract common.Address, orphan *domain.Project) error {
	_, err := q.Enqueue(ctx, Task{Kind: kind, ProjectAddress: contract, Orphan: orphan})
	return err
}

// Enqueue adds t unless a task with the same key is already queued or running.
func (q *Queue) Enqueue(ctx context.Context, t Task) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task: %w", err)
	}

	added, err := q.client.SAdd(ctx, pendingKey, t.Key()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark task pending: %w", err)
	}
	if added == 0 {
		return false, nil
	}
	if err := q.client.RPush(ctx, tasksKey, data).Err(); err != nil {
		q.client.SRem(ctx, pendingKey, t.Key())
		return false, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("[reconcile] enqueued id=%s kind=%s project=%s", t.ID, t.Kind, t.ProjectAddress.Hex())
	return true, nil
}

// Dequeue moves the oldest task to the processing list. It returns nil when
// the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	data, err := q.client.LMove(ctx, tasksKey, processingKey, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		// unreadable payloads cannot be retried
		q.client.LRem(ctx, processingKey, 1, data)
		q.client.RPush(ctx, deadKey, data)
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	t.raw = data
	return &t, nil
}

// Done acknowledges a task taken with Dequeue.
func (q *Queue) Done(ctx context.Context, t *Task) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, t.raw)
	pipe.SRem(ctx, pendingKey, t.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	return nil
}

// Retry puts a failed task back at the tail of the queue, or on the dead
// list once it has used all its attempts. It reports whether the task was
// dead-lettered.
func (q *Queue) Retry(ctx context.Context, t *Task, cause error) (bool, error) {
	raw := t.raw
	t.Attempts++
	t.LastError = cause.Error()
	data, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task: %w", err)
	}

	dead := t.Attempts >= q.maxAttempts
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, raw)
	if dead {
		pipe.RPush(ctx, deadKey, data)
		pipe.SRem(ctx, pendingKey, t.Key())
	} else {
		pipe.RPush(ctx, tasksKey, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to requeue task: %w", err)
	}
	t.raw = string(data)
	return dead, nil
}

// Recover returns tasks left in processing by a crashed worker to the queue.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.LMove(ctx, processingKey, tasksKey, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover tasks: %w", err)
		}
		n++
	}
}

// Len reports the number of queued tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, tasksKey).Result()
}

// Dead lists dead-lettered tasks, oldest first.
func (q *Queue) Dead(ctx context.Context) ([]Task, error) {
	items, err := q.client.LRange(ctx, deadKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead tasks: %w", err)
	}
	out := make([]Task, 0, len(items))
	for _, item := range items {
		var t Task
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
