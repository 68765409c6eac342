package flowkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggerHelpers(t *testing.T) {
	ctx := context.Background()

	workflow := &Workflow{
		ID:     "wf-1",
		UserID: "user-1",
		Nodes:  []*Node{{ID: "hook", Type: "trigger:webhook"}},
	}

	t.Run("manual trigger creates queued execution and job", func(t *testing.T) {
		store := NewMemoryStore()
		queue := NewJobQueue(NewMemoryListStore(), "")
		opts := TriggerOptions{Store: store, Queue: queue}

		execution, err := TriggerManual(ctx, opts, workflow, map[string]any{"input": 1})
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusQueued, execution.Status)
		require.Equal(t, TriggerTypeManual, execution.TriggerType)
		require.Equal(t, "user-1", execution.UserID)

		stored, err := store.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusQueued, stored.Status)

		job, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, execution.ID, job.ExecutionID)
		require.Equal(t, TriggerTypeManual, job.TriggerType)
		require.Len(t, job.Nodes, 1, "job snapshots the graph at enqueue time")
	})

	t.Run("webhook trigger carries the payload as input", func(t *testing.T) {
		store := NewMemoryStore()
		queue := NewJobQueue(NewMemoryListStore(), "")
		opts := TriggerOptions{Store: store, Queue: queue}

		payload := map[string]any{"event": "push", "ref": "main"}
		execution, err := TriggerWebhook(ctx, opts, workflow, payload)
		require.NoError(t, err)
		require.Equal(t, TriggerTypeWebhook, execution.TriggerType)

		job, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, "push", job.TriggerInput["event"])
	})
}
