package flowkit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newWorkerFixture(t *testing.T, handlers ...Handler) (*Worker, *MemoryStore, *JobQueue) {
	t.Helper()
	store := NewMemoryStore()
	queue := NewJobQueue(NewMemoryListStore(), "")
	engine := newTestEngine(t, store, handlers...)
	worker, err := NewWorker(WorkerOptions{Queue: queue, Engine: engine, BatchSize: 3})
	require.NoError(t, err)
	return worker, store, queue
}

func TestWorkerProcessOne(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue reports no work", func(t *testing.T) {
		worker, _, _ := newWorkerFixture(t)
		ok, err := worker.ProcessOne(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("runs a queued job through the engine", func(t *testing.T) {
		worker, store, queue := newWorkerFixture(t, echoHandler("trigger:webhook", "hooked"))

		job := newTestJob(t, store, TriggerTypeWebhook,
			[]*Node{{ID: "hook", Type: "trigger:webhook"}}, nil, nil)
		require.NoError(t, queue.Enqueue(ctx, job))

		ok, err := worker.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		execution, err := store.GetExecution(ctx, job.ExecutionID)
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusSuccess, execution.Status)
	})

	t.Run("failed run does not bubble up as worker error", func(t *testing.T) {
		worker, store, queue := newWorkerFixture(t,
			NewHandlerFunc("trigger:webhook", func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
				return nil, fmt.Errorf("boom")
			}),
		)
		job := newTestJob(t, store, TriggerTypeWebhook,
			[]*Node{{ID: "hook", Type: "trigger:webhook"}}, nil, nil)
		require.NoError(t, queue.Enqueue(ctx, job))

		ok, err := worker.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		execution, err := store.GetExecution(ctx, job.ExecutionID)
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusFailed, execution.Status)
		require.Equal(t, "boom", execution.ErrorMessage)

		// The job is gone regardless of the failure.
		length, err := queue.Length(ctx)
		require.NoError(t, err)
		require.Zero(t, length)
	})
}

func TestWorkerDrain(t *testing.T) {
	ctx := context.Background()

	t.Run("stops at the batch cap", func(t *testing.T) {
		worker, store, queue := newWorkerFixture(t, echoHandler("trigger:webhook", "hooked"))

		for i := 0; i < 5; i++ {
			job := newTestJob(t, store, TriggerTypeWebhook,
				[]*Node{{ID: "hook", Type: "trigger:webhook"}}, nil, nil)
			require.NoError(t, queue.Enqueue(ctx, job))
		}

		processed, err := worker.Drain(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, processed, "drain is capped at the batch size")

		length, err := queue.Length(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(2), length)
	})

	t.Run("stops early when the queue reports empty", func(t *testing.T) {
		worker, store, queue := newWorkerFixture(t, echoHandler("trigger:webhook", "hooked"))
		job := newTestJob(t, store, TriggerTypeWebhook,
			[]*Node{{ID: "hook", Type: "trigger:webhook"}}, nil, nil)
		require.NoError(t, queue.Enqueue(ctx, job))

		processed, err := worker.Drain(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, processed)
	})
}
