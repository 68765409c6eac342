package flowkit

import (
	"context"
	"time"
)

// Trigger helpers shared by every surface that starts a run (the
// manual execute endpoint, webhook receivers, scripts). Each creates
// the execution record in queued status and enqueues a job carrying a
// snapshot of the graph; the caller returns immediately while a worker
// picks the job up off the request path.

// TriggerOptions configures trigger helpers.
type TriggerOptions struct {
	Store ExecutionStore
	Queue *JobQueue

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// TriggerManual starts a manual run of a workflow with an arbitrary
// input mapping. Trigger nodes will be skipped during execution and
// their children fed the input directly.
func TriggerManual(ctx context.Context, opts TriggerOptions, workflow *Workflow, input map[string]any) (*Execution, error) {
	return trigger(ctx, opts, workflow, TriggerTypeManual, input)
}

// TriggerWebhook starts a run from a received webhook, with the parsed
// request body as the trigger input.
func TriggerWebhook(ctx context.Context, opts TriggerOptions, workflow *Workflow, payload map[string]any) (*Execution, error) {
	return trigger(ctx, opts, workflow, TriggerTypeWebhook, payload)
}

func trigger(ctx context.Context, opts TriggerOptions, workflow *Workflow, triggerType TriggerType, input map[string]any) (*Execution, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	execution := &Execution{
		ID:          NewExecutionID(),
		WorkflowID:  workflow.ID,
		UserID:      workflow.UserID,
		Status:      ExecutionStatusQueued,
		TriggerType: triggerType,
		CreatedAt:   now().UTC(),
	}
	if err := opts.Store.CreateExecution(ctx, execution); err != nil {
		return nil, NewPersistenceError("failed to create execution", err)
	}

	job := &QueuedJob{
		ExecutionID:  execution.ID,
		WorkflowID:   workflow.ID,
		UserID:       workflow.UserID,
		TriggerType:  triggerType,
		Nodes:        workflow.Nodes,
		Edges:        workflow.Edges,
		TriggerInput: input,
	}
	if err := opts.Queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return execution, nil
}
