package flowkit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"dario.cat/mergo"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Registry     *Registry
	Store        ExecutionStore
	Integrations IntegrationStore
	Logger       *slog.Logger
}

// Engine executes one workflow graph against one trigger input,
// end-to-end, and persists the outcome. It owns all mutation of the
// Execution and ExecutionStep records for the duration of a run.
//
// A run is strictly sequential: nodes execute one at a time in the
// computed order, with no intra-run parallelism even across
// independent branches.
type Engine struct {
	registry     *Registry
	store        ExecutionStore
	integrations IntegrationStore
	logger       *slog.Logger
}

// NewEngine returns an Engine configured with the given options.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("handler registry is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		registry:     opts.Registry,
		store:        opts.Store,
		integrations: opts.Integrations,
		logger:       opts.Logger,
	}, nil
}

// RunResult summarizes a completed run.
type RunResult struct {
	ExecutionID  string
	Status       ExecutionStatus
	ErrorMessage string

	// Outputs maps node IDs to their outputs.
	Outputs map[string]map[string]any
}

// runState tracks one in-flight run.
type runState struct {
	execution    *Execution
	graph        *Graph
	triggerInput map[string]any
	outputs      map[string]map[string]any
	rc           *RunContext
	firstErr     error
}

// Execute runs a queued job to completion. The execution record moves
// queued|running -> running -> success|failed; the transition to a
// terminal state happens exactly once, whether or not node execution
// failed.
//
// Node-level failures do not produce a non-nil error: they fail the
// run and are reported through the result and the persisted records.
// The returned error is reserved for infrastructure failures
// (persistence writes, malformed job), which are logged and re-raised
// and may leave the execution in a non-terminal status.
func (e *Engine) Execute(ctx context.Context, job *QueuedJob) (*RunResult, error) {
	logger := e.logger.With("execution_id", job.ExecutionID, "workflow_id", job.WorkflowID)

	execution, err := e.store.GetExecution(ctx, job.ExecutionID)
	if err != nil {
		return nil, NewPersistenceError("failed to load execution", err)
	}

	execution.Status = ExecutionStatusRunning
	execution.StartedAt = time.Now().UTC()
	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		logger.Error("failed to mark execution running", "error", err)
		return nil, NewPersistenceError("failed to mark execution running", err)
	}

	run := &runState{
		execution:    execution,
		triggerInput: job.TriggerInput,
		outputs:      map[string]map[string]any{},
	}
	if run.triggerInput == nil {
		run.triggerInput = map[string]any{}
	}

	runErr := e.run(ctx, job, run, logger)

	// Terminal status write. This always runs, whether or not node
	// execution failed; if the write itself fails the execution is
	// left in whatever status it last reached.
	if err := e.finalize(ctx, run, logger); err != nil {
		return nil, err
	}

	// Persistence failures are re-raised; node and graph failures are
	// reported through the result.
	if runErr != nil && IsErrorType(runErr, ErrorTypePersistence) {
		return nil, runErr
	}

	return &RunResult{
		ExecutionID:  execution.ID,
		Status:       execution.Status,
		ErrorMessage: execution.ErrorMessage,
		Outputs:      run.outputs,
	}, nil
}

// run walks the graph and executes each node in order, failing fast on
// the first node error.
func (e *Engine) run(ctx context.Context, job *QueuedJob, run *runState, logger *slog.Logger) error {
	graph, err := NewGraph(GraphOptions{Nodes: job.Nodes, Edges: job.Edges})
	if err != nil {
		run.firstErr = err
		return err
	}
	run.graph = graph

	integrations, err := e.loadIntegrations(ctx, job.UserID)
	if err != nil {
		run.firstErr = err
		return err
	}

	run.rc = &RunContext{
		UserID:          job.UserID,
		ExecutionID:     job.ExecutionID,
		WorkflowID:      job.WorkflowID,
		TriggerType:     job.TriggerType,
		PreviousOutputs: run.outputs,
		Integrations:    integrations,
		Logger:          logger,
	}

	// Manual runs skip trigger nodes: they get no step record and
	// their children receive the trigger input in their place.
	skipTriggers := job.TriggerType == TriggerTypeManual
	order, err := graph.ExecutionOrder(skipTriggers)
	if err != nil {
		run.firstErr = err
		return err
	}

	for _, nodeID := range order {
		if err := e.executeNode(ctx, nodeID, run, logger); err != nil {
			if run.firstErr == nil {
				run.firstErr = err
			}
			return err
		}
	}
	return nil
}

// executeNode runs a single node: create a running step, resolve the
// merged input, dispatch to the handler, and persist the terminal step
// state.
func (e *Engine) executeNode(ctx context.Context, nodeID string, run *runState, logger *slog.Logger) error {
	node, ok := run.graph.Node(nodeID)
	if !ok {
		return NewGraphError(fmt.Sprintf("node %q not found in node set", nodeID))
	}

	logger.Debug("executing node", "node_id", nodeID, "node_type", node.Type)

	input, err := e.nodeInput(run, nodeID)
	if err != nil {
		return err
	}

	startTime := time.Now()
	step := &ExecutionStep{
		ID:          NewStepID(),
		ExecutionID: run.execution.ID,
		NodeID:      nodeID,
		NodeType:    node.Type,
		Status:      StepStatusRunning,
		InputData:   input,
		StartedAt:   startTime.UTC(),
	}
	if err := e.store.CreateStep(ctx, step); err != nil {
		logger.Error("failed to create step record", "node_id", nodeID, "error", err)
		return NewPersistenceError("failed to create step record", err)
	}

	output, nodeErr := e.dispatch(ctx, node, input, run.rc)

	step.CompletedAt = time.Now().UTC()
	step.DurationMS = time.Since(startTime).Milliseconds()
	if nodeErr != nil {
		step.Status = StepStatusFailed
		step.ErrorMessage = nodeErr.Error()
	} else {
		step.Status = StepStatusSuccess
		step.OutputData = output
		run.outputs[nodeID] = output
	}
	if err := e.store.UpdateStep(ctx, step); err != nil {
		logger.Error("failed to persist step result", "node_id", nodeID, "error", err)
		return NewPersistenceError("failed to persist step result", err)
	}

	if nodeErr != nil {
		logger.Error("node failed", "node_id", nodeID, "node_type", node.Type, "error", nodeErr)
		return nodeErr
	}
	return nil
}

// dispatch looks up and invokes the handler for a node.
func (e *Engine) dispatch(ctx context.Context, node *Node, input map[string]any, rc *RunContext) (map[string]any, error) {
	handler, err := e.registry.Lookup(node.Type)
	if err != nil {
		return nil, err
	}
	return handler.Execute(ctx, node.Config, input, rc)
}

// nodeInput computes the merged input for a node. A node with no
// incoming edges receives the original trigger input. Otherwise the
// outputs of all parents are shallow-merged in edge-list order, later
// parents overwriting overlapping keys; a parent that was a skipped
// trigger contributes the trigger input as if it were its output. A
// parent with no stored output yet contributes nothing.
func (e *Engine) nodeInput(run *runState, nodeID string) (map[string]any, error) {
	parents := run.graph.Parents(nodeID)
	if len(parents) == 0 {
		return copyMap(run.triggerInput), nil
	}

	skipTriggers := run.rc.TriggerType == TriggerTypeManual
	input := map[string]any{}
	for _, edge := range parents {
		var parentOutput map[string]any
		if parent, ok := run.graph.Node(edge.Source); ok && skipTriggers && parent.IsTrigger() {
			parentOutput = run.triggerInput
		} else {
			parentOutput = run.outputs[edge.Source]
		}
		if parentOutput == nil {
			continue
		}
		if err := mergo.Merge(&input, copyMap(parentOutput), mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge parent outputs for node %q: %w", nodeID, err)
		}
	}
	return input, nil
}

// loadIntegrations snapshots the user's active credentials for the
// whole run.
func (e *Engine) loadIntegrations(ctx context.Context, userID string) (map[string]Integration, error) {
	if e.integrations == nil {
		return map[string]Integration{}, nil
	}
	integrations, err := e.integrations.ActiveIntegrations(ctx, userID)
	if err != nil {
		return nil, NewPersistenceError("failed to load integrations", err)
	}
	return integrations, nil
}

// finalize recomputes the execution duration as the sum of persisted
// step durations and writes the terminal status exactly once.
func (e *Engine) finalize(ctx context.Context, run *runState, logger *slog.Logger) error {
	execution := run.execution

	steps, err := e.store.ListSteps(ctx, execution.ID)
	if err != nil {
		logger.Error("failed to list steps for duration", "error", err)
		return NewPersistenceError("failed to list steps", err)
	}
	var totalDuration int64
	for _, step := range steps {
		totalDuration += step.DurationMS
	}

	execution.DurationMS = totalDuration
	execution.CompletedAt = time.Now().UTC()
	if run.firstErr != nil {
		execution.Status = ExecutionStatusFailed
		execution.ErrorMessage = run.firstErr.Error()
	} else {
		execution.Status = ExecutionStatusSuccess
		execution.ErrorMessage = ""
	}

	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		logger.Error("failed to write terminal execution status", "error", err)
		return NewPersistenceError("failed to write terminal execution status", err)
	}

	logger.Info("execution finished",
		"status", execution.Status,
		"duration_ms", execution.DurationMS,
		"steps", len(steps))
	return nil
}
