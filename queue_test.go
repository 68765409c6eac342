package flowkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("dequeue on empty queue returns nil without error", func(t *testing.T) {
		queue := NewJobQueue(NewMemoryListStore(), "")
		job, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		require.Nil(t, job)
	})

	t.Run("job round trips once then queue is empty", func(t *testing.T) {
		queue := NewJobQueue(NewMemoryListStore(), "")
		original := &QueuedJob{
			ExecutionID: "exec-1",
			WorkflowID:  "wf-1",
			UserID:      "user-1",
			TriggerType: TriggerTypeManual,
			Nodes:       []*Node{{ID: "a", Type: "trigger:webhook"}},
			TriggerInput: map[string]any{
				"name": "Ada",
			},
		}
		require.NoError(t, queue.Enqueue(ctx, original))

		length, err := queue.Length(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), length)

		popped, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, popped)
		require.Equal(t, "exec-1", popped.ExecutionID)
		require.Equal(t, TriggerTypeManual, popped.TriggerType)
		require.Equal(t, "Ada", popped.TriggerInput["name"])
		require.Len(t, popped.Nodes, 1)

		again, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		require.Nil(t, again, "a popped job is gone from the queue")
	})

	t.Run("jobs come out in FIFO order", func(t *testing.T) {
		queue := NewJobQueue(NewMemoryListStore(), "")
		for _, id := range []string{"first", "second", "third"} {
			require.NoError(t, queue.Enqueue(ctx, &QueuedJob{ExecutionID: id}))
		}
		for _, want := range []string{"first", "second", "third"} {
			job, err := queue.Dequeue(ctx)
			require.NoError(t, err)
			require.Equal(t, want, job.ExecutionID)
		}
	})

	t.Run("enqueue stamps id and time", func(t *testing.T) {
		queue := NewJobQueue(NewMemoryListStore(), "custom:key")
		job := &QueuedJob{ExecutionID: "exec-2"}
		before := time.Now().UTC()
		require.NoError(t, queue.Enqueue(ctx, job))
		require.NotEmpty(t, job.ID)
		require.False(t, job.EnqueuedAt.Before(before.Truncate(time.Second)))
	})

	t.Run("queues with different keys are independent", func(t *testing.T) {
		store := NewMemoryListStore()
		a := NewJobQueue(store, "queue:a")
		b := NewJobQueue(store, "queue:b")
		require.NoError(t, a.Enqueue(ctx, &QueuedJob{ExecutionID: "only-a"}))

		job, err := b.Dequeue(ctx)
		require.NoError(t, err)
		require.Nil(t, job)

		job, err = a.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, "only-a", job.ExecutionID)
	})
}
