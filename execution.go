package flowkit

import (
	"time"

	"go.jetify.com/typeid"
)

// NewExecutionID returns a new prefixed ID for an execution.
func NewExecutionID() string {
	return newID("exec")
}

// NewStepID returns a new prefixed ID for an execution step.
func NewStepID() string {
	return newID("step")
}

// NewJobID returns a new prefixed ID for a queued job.
func NewJobID() string {
	return newID("job")
}

func newID(prefix string) string {
	id, err := typeid.WithPrefix(prefix)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the lifecycle status of an execution.
// Success and failed are terminal; an execution is never deleted by
// this subsystem.
type ExecutionStatus string

const (
	ExecutionStatusQueued  ExecutionStatus = "queued"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// Terminal reports whether the status is terminal.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

// StepStatus represents the lifecycle status of a single step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
)

// TriggerType identifies what started an execution.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
)

// Execution is one run of a workflow graph. It is created by a trigger
// and mutated only by the engine for the duration of the run.
// DurationMS is the sum of step durations, not wall-clock time.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	UserID       string          `json:"user_id"`
	Status       ExecutionStatus `json:"status"`
	TriggerType  TriggerType     `json:"trigger_type"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at,omitzero"`
	CompletedAt  time.Time       `json:"completed_at,omitzero"`
	DurationMS   int64           `json:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at,omitzero"`
}

// ExecutionStep is one node's execution within an Execution. A step is
// created in running status immediately before the node runs and
// updated exactly once to a terminal status; it is never re-executed
// within the same execution.
type ExecutionStep struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	NodeID       string         `json:"node_id"`
	NodeType     string         `json:"node_type"`
	Status       StepStatus     `json:"status"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitzero"`
	CompletedAt  time.Time      `json:"completed_at,omitzero"`
	DurationMS   int64          `json:"duration_ms"`
}

// Workflow is a stored workflow definition as seen by the scheduler and
// trigger helpers: the subsystems here never edit one, they only
// snapshot its graph into queued jobs.
type Workflow struct {
	ID       string  `json:"id"`
	UserID   string  `json:"user_id"`
	Name     string  `json:"name"`
	IsActive bool    `json:"is_active"`
	Nodes    []*Node `json:"nodes"`
	Edges    []*Edge `json:"edges"`
}

// Integration is an active credential for an external provider,
// loaded once per run and exposed read-only to handlers.
type Integration struct {
	Provider    string         `json:"provider"`
	AccessToken string         `json:"access_token"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// copyMap creates a shallow copy of a map.
func copyMap(m map[string]any) map[string]any {
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
