package flowkit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// DefaultQueueKey is the list key the durable queue uses unless
// configured otherwise.
const DefaultQueueKey = "workflow:executions:queue"

// ListStore is the minimal list contract the durable queue needs:
// push to the tail, pop from the head, report the length. Any store
// with rpush/lpop/llen-equivalent operations on a named list can back
// it.
type ListStore interface {

	// RPush appends a value to the tail of the named list.
	RPush(ctx context.Context, key string, value []byte) error

	// LPop removes and returns the head of the named list. An empty
	// list returns (nil, nil).
	LPop(ctx context.Context, key string) ([]byte, error)

	// LLen returns the current length of the named list.
	LLen(ctx context.Context, key string) (int64, error)
}

// QueuedJob is a serialized execution request: the execution identity
// plus a snapshot of the graph at enqueue time. Edits made to the
// workflow after enqueue do not affect the job.
type QueuedJob struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	WorkflowID   string         `json:"workflow_id"`
	UserID       string         `json:"user_id"`
	TriggerType  TriggerType    `json:"trigger_type"`
	Nodes        []*Node        `json:"nodes"`
	Edges        []*Edge        `json:"edges"`
	TriggerInput map[string]any `json:"trigger_input,omitempty"`
	EnqueuedAt   time.Time      `json:"enqueued_at"`
}

// JobQueue is a first-in-first-out durable queue of execution
// requests, decoupling trigger-time from execution-time.
//
// Delivery is at-most-once: a popped job is gone from the queue even
// if processing later fails or the process crashes mid-run. There is
// no visibility timeout or acknowledgment; the orphaned Execution row
// (stuck in running) is the only trace of a lost job.
type JobQueue struct {
	store ListStore
	key   string
}

// NewJobQueue returns a JobQueue over the given list store. An empty
// key selects DefaultQueueKey.
func NewJobQueue(store ListStore, key string) *JobQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &JobQueue{store: store, key: key}
}

// Enqueue appends a job to the tail of the queue. It never blocks on
// downstream processing; a store failure is surfaced synchronously to
// the caller.
func (q *JobQueue) Enqueue(ctx context.Context, job *QueuedJob) error {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return NewPersistenceError("failed to encode queued job", err)
	}
	if err := q.store.RPush(ctx, q.key, data); err != nil {
		return NewPersistenceError("failed to enqueue job", err)
	}
	return nil
}

// Dequeue removes and returns the head of the queue, or (nil, nil)
// when the queue is empty. The pop is destructive.
func (q *JobQueue) Dequeue(ctx context.Context) (*QueuedJob, error) {
	data, err := q.store.LPop(ctx, q.key)
	if err != nil {
		return nil, NewPersistenceError("failed to dequeue job", err)
	}
	if data == nil {
		return nil, nil
	}
	var job QueuedJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, NewPersistenceError("failed to decode queued job", err)
	}
	return &job, nil
}

// Length returns the current queue depth.
func (q *JobQueue) Length(ctx context.Context) (int64, error) {
	return q.store.LLen(ctx, q.key)
}

// MemoryListStore is an in-memory ListStore for tests and the
// single-process daemon mode. The pop is atomic under the mutex, so it
// honors the one-job-one-worker guarantee within a process.
type MemoryListStore struct {
	mutex sync.Mutex
	lists map[string][][]byte
}

// NewMemoryListStore returns an empty MemoryListStore.
func NewMemoryListStore() *MemoryListStore {
	return &MemoryListStore{lists: map[string][][]byte{}}
}

func (s *MemoryListStore) RPush(ctx context.Context, key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c := make([]byte, len(value))
	copy(c, value)
	s.lists[key] = append(s.lists[key], c)
	return nil
}

func (s *MemoryListStore) LPop(ctx context.Context, key string) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return nil, nil
	}
	head := list[0]
	s.lists[key] = list[1:]
	return head, nil
}

func (s *MemoryListStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return int64(len(s.lists[key])), nil
}
