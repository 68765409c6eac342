package flowkit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoHandler returns its merged input plus a marker key.
func echoHandler(nodeType, marker string) Handler {
	return NewHandlerFunc(nodeType, func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
		out := copyMap(input)
		out[marker] = true
		return out, nil
	})
}

func newTestEngine(t *testing.T, store *MemoryStore, handlers ...Handler) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineOptions{
		Registry:     NewRegistry(handlers...),
		Store:        store,
		Integrations: store,
	})
	require.NoError(t, err)
	return engine
}

func newTestJob(t *testing.T, store *MemoryStore, triggerType TriggerType, nodes []*Node, edges []*Edge, input map[string]any) *QueuedJob {
	t.Helper()
	execution := &Execution{
		ID:          NewExecutionID(),
		WorkflowID:  "wf-1",
		UserID:      "user-1",
		Status:      ExecutionStatusQueued,
		TriggerType: triggerType,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateExecution(context.Background(), execution))
	return &QueuedJob{
		ExecutionID:  execution.ID,
		WorkflowID:   execution.WorkflowID,
		UserID:       execution.UserID,
		TriggerType:  triggerType,
		Nodes:        nodes,
		Edges:        edges,
		TriggerInput: input,
	}
}

func TestEngineExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store,
		echoHandler("trigger:webhook", "hooked"),
		echoHandler("logic:transform", "transformed"),
	)

	job := newTestJob(t, store, TriggerTypeWebhook,
		[]*Node{
			{ID: "hook", Type: "trigger:webhook"},
			{ID: "work", Type: "logic:transform"},
		},
		[]*Edge{{Source: "hook", Target: "work"}},
		map[string]any{"payload": "hello"},
	)

	result, err := engine.Execute(ctx, job)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusSuccess, result.Status)

	execution, err := store.GetExecution(ctx, job.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusSuccess, execution.Status)
	require.Empty(t, execution.ErrorMessage)
	require.False(t, execution.StartedAt.IsZero())
	require.False(t, execution.CompletedAt.IsZero())

	steps, err := store.ListSteps(ctx, job.ExecutionID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "hook", steps[0].NodeID)
	require.Equal(t, "work", steps[1].NodeID)
	for _, step := range steps {
		require.Equal(t, StepStatusSuccess, step.Status)
	}

	// The downstream node received the trigger node's output.
	require.Equal(t, true, steps[1].InputData["hooked"])
	require.Equal(t, "hello", steps[1].InputData["payload"])

	// Execution duration is the sum of step durations.
	var total int64
	for _, step := range steps {
		total += step.DurationMS
	}
	require.Equal(t, total, execution.DurationMS)
}

func TestEngineManualTriggerSkip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	triggerRan := false
	engine := newTestEngine(t, store,
		NewHandlerFunc("trigger:webhook", func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
			triggerRan = true
			return map[string]any{"from_trigger": true}, nil
		}),
		echoHandler("logic:transform", "transformed"),
	)

	input := map[string]any{"name": "manual-input"}
	job := newTestJob(t, store, TriggerTypeManual,
		[]*Node{
			{ID: "hook", Type: "trigger:webhook"},
			{ID: "work", Type: "logic:transform"},
		},
		[]*Edge{{Source: "hook", Target: "work"}},
		input,
	)

	result, err := engine.Execute(ctx, job)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusSuccess, result.Status)
	require.False(t, triggerRan, "trigger handler must not run for manual executions")

	steps, err := store.ListSteps(ctx, job.ExecutionID)
	require.NoError(t, err)
	require.Len(t, steps, 1, "skipped trigger gets no step record")
	require.Equal(t, "work", steps[0].NodeID)

	// The child received the original trigger input in place of the
	// trigger's output.
	require.Equal(t, "manual-input", steps[0].InputData["name"])
}

func TestEngineWebhookRunsTriggerNode(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store, echoHandler("trigger:webhook", "hooked"))

	job := newTestJob(t, store, TriggerTypeWebhook,
		[]*Node{{ID: "hook", Type: "trigger:webhook"}}, nil,
		map[string]any{"event": "push"},
	)

	result, err := engine.Execute(ctx, job)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusSuccess, result.Status)

	steps, err := store.ListSteps(ctx, job.ExecutionID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, "hook", steps[0].NodeID)
	require.Equal(t, true, steps[0].OutputData["hooked"])
}

func TestEngineFailFast(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var ranAfterFailure bool
	engine := newTestEngine(t, store,
		echoHandler("trigger:webhook", "hooked"),
		NewHandlerFunc("data:weather", func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
			return nil, fmt.Errorf("weather API unavailable")
		}),
		NewHandlerFunc("action:email", func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
			ranAfterFailure = true
			return map[string]any{}, nil
		}),
	)

	job := newTestJob(t, store, TriggerTypeWebhook,
		[]*Node{
			{ID: "hook", Type: "trigger:webhook"},
			{ID: "fetch", Type: "data:weather"},
			{ID: "send", Type: "action:email"},
		},
		[]*Edge{
			{Source: "hook", Target: "fetch"},
			{Source: "fetch", Target: "send"},
		},
		nil,
	)

	result, err := engine.Execute(ctx, job)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusFailed, result.Status)
	require.Equal(t, "weather API unavailable", result.ErrorMessage)
	require.False(t, ranAfterFailure, "nodes after a failure must not run")

	execution, err := store.GetExecution(ctx, job.ExecutionID)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusFailed, execution.Status)
	require.Equal(t, "weather API unavailable", execution.ErrorMessage)

	steps, err := store.ListSteps(ctx, job.ExecutionID)
	require.NoError(t, err)
	require.Len(t, steps, 2, "exactly one failed step, zero steps after it")
	require.Equal(t, StepStatusSuccess, steps[0].Status)
	require.Equal(t, StepStatusFailed, steps[1].Status)
	require.Equal(t, "weather API unavailable", steps[1].ErrorMessage)

	// Duration is still the sum of the steps that did run.
	var total int64
	for _, step := range steps {
		total += step.DurationMS
	}
	require.Equal(t, total, execution.DurationMS)
}

func TestEngineMergesParentOutputs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	engine := newTestEngine(t, store,
		NewHandlerFunc("trigger:webhook", func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
			return map[string]any{}, nil
		}),
		NewHandlerFunc("data:weather", func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
			return map[string]any{"shared": "from-weather", "temperature": 20}, nil
		}),
		NewHandlerFunc("data:github", func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
			return map[string]any{"shared": "from-github", "commits": 3}, nil
		}),
		echoHandler("action:email", "sent"),
	)

	// hook -> weather -> sink, hook -> github -> sink. The sink's
	// parent edges list weather first, github second.
	job := newTestJob(t, store, TriggerTypeWebhook,
		[]*Node{
			{ID: "hook", Type: "trigger:webhook"},
			{ID: "weather", Type: "data:weather"},
			{ID: "github", Type: "data:github"},
			{ID: "sink", Type: "action:email"},
		},
		[]*Edge{
			{Source: "hook", Target: "weather"},
			{Source: "hook", Target: "github"},
			{Source: "weather", Target: "sink"},
			{Source: "github", Target: "sink"},
		},
		nil,
	)

	result, err := engine.Execute(ctx, job)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusSuccess, result.Status)

	steps, err := store.ListSteps(ctx, job.ExecutionID)
	require.NoError(t, err)
	var sinkStep *ExecutionStep
	for _, step := range steps {
		if step.NodeID == "sink" {
			sinkStep = step
		}
	}
	require.NotNil(t, sinkStep)

	// Both parents contributed; the later parent in edge-list order
	// wins the overlapping key.
	require.Equal(t, 20, sinkStep.InputData["temperature"])
	require.Equal(t, 3, sinkStep.InputData["commits"])
	require.Equal(t, "from-github", sinkStep.InputData["shared"])
}

func TestEngineMissingHandlerFailsRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store, echoHandler("trigger:webhook", "hooked"))

	job := newTestJob(t, store, TriggerTypeWebhook,
		[]*Node{
			{ID: "hook", Type: "trigger:webhook"},
			{ID: "mystery", Type: "action:teleport"},
		},
		[]*Edge{{Source: "hook", Target: "mystery"}},
		nil,
	)

	result, err := engine.Execute(ctx, job)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusFailed, result.Status)
	require.Contains(t, result.ErrorMessage, "no handler found for node type: action:teleport")
}

func TestEngineCyclicGraphFailsBeforeSteps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	engine := newTestEngine(t, store, echoHandler("trigger:webhook", "hooked"))

	job := newTestJob(t, store, TriggerTypeWebhook,
		[]*Node{
			{ID: "hook", Type: "trigger:webhook"},
			{ID: "a", Type: "logic:transform"},
			{ID: "b", Type: "logic:transform"},
		},
		[]*Edge{
			{Source: "hook", Target: "a"},
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
		nil,
	)

	result, err := engine.Execute(ctx, job)
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusFailed, result.Status)
	require.Contains(t, result.ErrorMessage, "cycle")

	steps, err := store.ListSteps(ctx, job.ExecutionID)
	require.NoError(t, err)
	require.Empty(t, steps, "graph errors surface before any step record is written")
}

func TestEngineExposesIntegrations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetIntegration("user-1", Integration{Provider: "github", AccessToken: "tok-123"})

	var seen map[string]Integration
	engine := newTestEngine(t, store,
		NewHandlerFunc("trigger:webhook", func(ctx context.Context, config, input map[string]any, rc *RunContext) (map[string]any, error) {
			seen = rc.Integrations
			return map[string]any{}, nil
		}),
	)

	job := newTestJob(t, store, TriggerTypeWebhook,
		[]*Node{{ID: "hook", Type: "trigger:webhook"}}, nil, nil)

	_, err := engine.Execute(ctx, job)
	require.NoError(t, err)
	require.Contains(t, seen, "github")
	require.Equal(t, "tok-123", seen["github"].AccessToken)
}
