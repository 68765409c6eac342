package flowkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func scheduledWorkflow(schedule string) *Workflow {
	return &Workflow{
		ID:       "wf-sched",
		UserID:   "user-1",
		Name:     "nightly report",
		IsActive: true,
		Nodes: []*Node{
			{ID: "cron", Type: "trigger:schedule", Config: map[string]any{"schedule": schedule}},
			{ID: "send", Type: "action:email", Config: map[string]any{"to": "a@b.c", "subject": "hi"}},
		},
		Edges: []*Edge{{Source: "cron", Target: "send"}},
	}
}

func newSchedulerFixture(t *testing.T, now time.Time) (*Scheduler, *MemoryStore, *JobQueue, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	queue := NewJobQueue(NewMemoryListStore(), "")
	clock := now
	scheduler, err := NewScheduler(SchedulerOptions{
		Source: store,
		Store:  store,
		Queue:  queue,
		Now:    func() time.Time { return clock },
	})
	require.NoError(t, err)
	return scheduler, store, queue, &clock
}

func TestSchedulerTick(t *testing.T) {
	ctx := context.Background()
	// Second 5 of a fresh minute: the "* * * * *" fire at second 0 is
	// five seconds old, well inside the due window.
	tickTime := time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC)

	t.Run("due schedule fires exactly one execution", func(t *testing.T) {
		scheduler, store, queue, _ := newSchedulerFixture(t, tickTime)
		store.AddWorkflow(scheduledWorkflow("* * * * *"))

		triggered, err := scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, triggered)

		length, err := queue.Length(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), length)

		job, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, "wf-sched", job.WorkflowID)
		require.Equal(t, TriggerTypeSchedule, job.TriggerType)
		require.Equal(t, string(TriggerTypeSchedule), job.TriggerInput["trigger_type"])
		require.Equal(t, "* * * * *", job.TriggerInput["schedule"])
		require.Len(t, job.Nodes, 2, "job carries the graph snapshot")

		execution, err := store.GetExecution(ctx, job.ExecutionID)
		require.NoError(t, err)
		require.Equal(t, ExecutionStatusQueued, execution.Status)
		require.Equal(t, TriggerTypeSchedule, execution.TriggerType)
	})

	t.Run("second tick in the same window is deduplicated", func(t *testing.T) {
		scheduler, store, _, clock := newSchedulerFixture(t, tickTime)
		store.AddWorkflow(scheduledWorkflow("* * * * *"))

		triggered, err := scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, triggered)

		// 30 seconds later, same minute: still due, but the execution
		// created above falls inside the 90s dedup window.
		*clock = tickTime.Add(30 * time.Second)
		triggered, err = scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Zero(t, triggered)
	})

	t.Run("fires again once the dedup window has passed", func(t *testing.T) {
		scheduler, store, _, clock := newSchedulerFixture(t, tickTime)
		store.AddWorkflow(scheduledWorkflow("* * * * *"))

		triggered, err := scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, triggered)

		*clock = tickTime.Add(2 * time.Minute)
		triggered, err = scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, triggered)
	})

	t.Run("schedule outside the due window does not fire", func(t *testing.T) {
		scheduler, store, _, _ := newSchedulerFixture(t, tickTime)
		// Daily at midnight; the tick runs at 12:30.
		store.AddWorkflow(scheduledWorkflow("0 0 * * *"))

		triggered, err := scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Zero(t, triggered)
	})

	t.Run("inactive workflows are ignored", func(t *testing.T) {
		scheduler, store, _, _ := newSchedulerFixture(t, tickTime)
		wf := scheduledWorkflow("* * * * *")
		wf.IsActive = false
		store.AddWorkflow(wf)

		triggered, err := scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Zero(t, triggered)
	})

	t.Run("workflow without schedule trigger is ignored", func(t *testing.T) {
		scheduler, store, _, _ := newSchedulerFixture(t, tickTime)
		store.AddWorkflow(&Workflow{
			ID:       "wf-hook",
			UserID:   "user-1",
			IsActive: true,
			Nodes:    []*Node{{ID: "hook", Type: "trigger:webhook"}},
		})

		triggered, err := scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Zero(t, triggered)
	})

	t.Run("bad cron expression skips the workflow, not the tick", func(t *testing.T) {
		scheduler, store, queue, _ := newSchedulerFixture(t, tickTime)
		broken := scheduledWorkflow("not a cron")
		broken.ID = "wf-broken"
		store.AddWorkflow(broken)
		store.AddWorkflow(scheduledWorkflow("* * * * *"))

		triggered, err := scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, triggered, "healthy workflow still fires")

		length, err := queue.Length(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), length)
	})
}

func TestScheduleDue(t *testing.T) {
	t.Run("fire five seconds ago is due", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC)
		due, err := scheduleDue("* * * * *", now)
		require.NoError(t, err)
		require.True(t, due)
	})

	t.Run("hourly fire thirty minutes ago is not due", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC)
		due, err := scheduleDue("0 * * * *", now)
		require.NoError(t, err)
		require.False(t, due)
	})

	t.Run("hourly fire within the window is due", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 0, 59, 0, time.UTC)
		due, err := scheduleDue("0 * * * *", now)
		require.NoError(t, err)
		require.True(t, due)
	})

	t.Run("invalid expression is a config error", func(t *testing.T) {
		_, err := scheduleDue("99 99 * * *", time.Now())
		require.Error(t, err)
		require.True(t, IsErrorType(err, ErrorTypeConfig))
	})
}
