package flowkit

import (
	"context"
	"time"
)

// ExecutionStore persists Execution and ExecutionStep records. The
// contract is per-id insert-then-update with last-write-wins
// semantics; the engine exclusively owns mutation of a run's records
// while the run is in flight, so implementations need no row locking
// beyond atomic single-record writes.
type ExecutionStore interface {

	// CreateExecution inserts a new execution record.
	CreateExecution(ctx context.Context, execution *Execution) error

	// UpdateExecution overwrites an execution record by ID.
	UpdateExecution(ctx context.Context, execution *Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// CreateStep inserts a new execution step record.
	CreateStep(ctx context.Context, step *ExecutionStep) error

	// UpdateStep overwrites a step record by ID.
	UpdateStep(ctx context.Context, step *ExecutionStep) error

	// ListSteps returns all steps for an execution in creation order.
	ListSteps(ctx context.Context, executionID string) ([]*ExecutionStep, error)

	// LatestScheduleExecution returns the most recent execution for
	// the workflow with trigger type "schedule" created at or after
	// since, or nil when there is none. The scheduler uses this as its
	// dedup window check.
	LatestScheduleExecution(ctx context.Context, workflowID string, since time.Time) (*Execution, error)
}

// IntegrationStore loads a user's active integration credentials.
type IntegrationStore interface {

	// ActiveIntegrations returns the user's active credentials keyed
	// by provider name.
	ActiveIntegrations(ctx context.Context, userID string) (map[string]Integration, error)
}

// WorkflowSource lists the stored workflows the scheduler evaluates.
type WorkflowSource interface {

	// ListActiveWorkflows returns all workflows marked active.
	ListActiveWorkflows(ctx context.Context) ([]*Workflow, error)
}
