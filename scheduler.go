package flowkit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// dueWindow is how far past the nominal fire time a tick still
	// counts a schedule as due.
	dueWindow = 60 * time.Second

	// dedupWindow is how far back the scheduler looks for an existing
	// schedule execution before firing again. It is wider than
	// dueWindow to absorb tick jitter.
	dedupWindow = 90 * time.Second
)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Source WorkflowSource
	Store  ExecutionStore
	Queue  *JobQueue
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Scheduler decides, on each polling tick, which active workflows with
// a schedule trigger must fire now, and enqueues exactly one execution
// per due fire.
//
// Correctness is polling-based: the tick interval must stay below the
// due window. The dedup check is check-then-insert, so two concurrent
// scheduler instances can both fire the same window; treat the dedup
// as best-effort and run one scheduler, or use a store that enforces
// the schedule-execution uniqueness guard.
type Scheduler struct {
	source WorkflowSource
	store  ExecutionStore
	queue  *JobQueue
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler returns a Scheduler configured with the given options.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("workflow source is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		source: opts.Source,
		store:  opts.Store,
		queue:  opts.Queue,
		logger: opts.Logger,
		now:    opts.Now,
	}, nil
}

// Tick evaluates every active workflow once and returns how many
// executions were triggered. Per-workflow errors are logged and
// skipped; they never abort the rest of the tick.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	workflows, err := s.source.ListActiveWorkflows(ctx)
	if err != nil {
		return 0, NewPersistenceError("failed to list active workflows", err)
	}

	now := s.now().UTC()
	triggered := 0
	for _, workflow := range workflows {
		fired, err := s.evaluateWorkflow(ctx, workflow, now)
		if err != nil {
			s.logger.Error("failed to evaluate workflow schedule",
				"workflow_id", workflow.ID, "error", err)
			continue
		}
		triggered += fired
	}

	s.logger.Debug("schedule tick complete", "workflows", len(workflows), "triggered", triggered)
	return triggered, nil
}

// evaluateWorkflow checks every schedule-trigger node of one workflow
// and fires those that are due and not already fired in the dedup
// window.
func (s *Scheduler) evaluateWorkflow(ctx context.Context, workflow *Workflow, now time.Time) (int, error) {
	fired := 0
	for _, node := range workflow.Nodes {
		if node.Type != "trigger:schedule" {
			continue
		}
		var config ScheduleTriggerConfig
		if err := DecodeConfig(node.Config, &config); err != nil {
			return fired, NewConfigError("node %q: malformed schedule config: %s", node.ID, err.Error())
		}
		if config.Schedule == "" {
			continue
		}

		due, err := scheduleDue(config.Schedule, now)
		if err != nil {
			return fired, err
		}
		if !due {
			continue
		}

		// Dedup: a schedule execution created in the last 90 seconds
		// means this window already fired.
		recent, err := s.store.LatestScheduleExecution(ctx, workflow.ID, now.Add(-dedupWindow))
		if err != nil {
			return fired, NewPersistenceError("failed to check recent executions", err)
		}
		if recent != nil {
			s.logger.Debug("skipping workflow, already fired in dedup window",
				"workflow_id", workflow.ID, "recent_execution_id", recent.ID)
			continue
		}

		if err := s.fire(ctx, workflow, config.Schedule, now); err != nil {
			return fired, err
		}
		fired++
	}
	return fired, nil
}

// scheduleDue reports whether the most recent fire time of the cron
// expression falls within the due window before now. The previous fire
// is found by asking for the next fire strictly after now-60s: if that
// lands at or before now, a nominal fire occurred within the window.
func scheduleDue(schedule string, now time.Time) (bool, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return false, NewConfigError("invalid cron expression %q: %s", schedule, err.Error())
	}
	prev := sched.Next(now.Add(-dueWindow))
	return !prev.After(now), nil
}

// fire creates a queued execution and enqueues a job carrying the
// workflow's current graph snapshot.
func (s *Scheduler) fire(ctx context.Context, workflow *Workflow, schedule string, now time.Time) error {
	execution := &Execution{
		ID:          NewExecutionID(),
		WorkflowID:  workflow.ID,
		UserID:      workflow.UserID,
		Status:      ExecutionStatusQueued,
		TriggerType: TriggerTypeSchedule,
		CreatedAt:   now,
	}
	if err := s.store.CreateExecution(ctx, execution); err != nil {
		return NewPersistenceError("failed to create execution", err)
	}

	job := &QueuedJob{
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		UserID:      workflow.UserID,
		TriggerType: TriggerTypeSchedule,
		Nodes:       workflow.Nodes,
		Edges:       workflow.Edges,
		TriggerInput: map[string]any{
			"trigger_type": string(TriggerTypeSchedule),
			"schedule":     schedule,
			"triggered_at": now.Format(time.RFC3339),
		},
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return err
	}

	s.logger.Info("triggered scheduled execution",
		"workflow_id", workflow.ID, "execution_id", execution.ID, "schedule", schedule)
	return nil
}

// Run ticks on an interval until the context is canceled. The interval
// must stay below the due window for fires not to be missed.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("schedule tick failed", "error", err)
			}
		}
	}
}
