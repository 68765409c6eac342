package flowkit

import (
	"context"
	"fmt"
	"log/slog"
)

// RunContext carries per-run state into a node handler. Handlers are
// stateless with respect to the registry; everything they need flows
// through the context and the merged input.
type RunContext struct {
	UserID      string
	ExecutionID string
	WorkflowID  string
	TriggerType TriggerType

	// PreviousOutputs maps node IDs to the outputs of nodes that
	// already ran in this execution.
	PreviousOutputs map[string]map[string]any

	// Integrations maps provider names to the user's active
	// credentials, snapshotted once at the start of the run.
	Integrations map[string]Integration

	Logger *slog.Logger
}

// Integration returns the active credential for a provider, or a
// config error naming the provider when it is not connected.
func (rc *RunContext) Integration(provider string) (Integration, error) {
	integration, ok := rc.Integrations[provider]
	if !ok {
		return Integration{}, NewConfigError("%s integration not connected", provider)
	}
	return integration, nil
}

// Handler executes one node type. Failure is signaled by returning an
// error with a human-readable message; the engine treats any handler
// error as fatal to the node and the run.
type Handler interface {

	// Type returns the node type this handler serves.
	Type() string

	// Execute runs the node with its config and merged input.
	Execute(ctx context.Context, config map[string]any, input map[string]any, rc *RunContext) (map[string]any, error)
}

// ExecuteHandlerFunc is the function signature of a node handler.
type ExecuteHandlerFunc func(ctx context.Context, config map[string]any, input map[string]any, rc *RunContext) (map[string]any, error)

// HandlerFunc wraps a function for use as a Handler.
type HandlerFunc struct {
	nodeType string
	fn       ExecuteHandlerFunc
}

// NewHandlerFunc returns a Handler for the given function.
func NewHandlerFunc(nodeType string, fn ExecuteHandlerFunc) *HandlerFunc {
	return &HandlerFunc{nodeType: nodeType, fn: fn}
}

// Type of node this handler serves.
func (h *HandlerFunc) Type() string {
	return h.nodeType
}

// Execute the handler.
func (h *HandlerFunc) Execute(ctx context.Context, config map[string]any, input map[string]any, rc *RunContext) (map[string]any, error) {
	return h.fn(ctx, config, input, rc)
}

// Registry maps node types to handlers. It is an explicit object
// constructed once at startup and passed into the engine, not
// process-global state. It is not safe for concurrent mutation;
// register everything before executing.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry holding the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Type()] = h
	}
	return r
}

// Register adds a handler, replacing any existing handler for the same
// node type.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Lookup returns the handler for a node type.
func (r *Registry) Lookup(nodeType string) (Handler, error) {
	h, ok := r.handlers[nodeType]
	if !ok {
		return nil, fmt.Errorf("no handler found for node type: %s", nodeType)
	}
	return h, nil
}

// Types returns the registered node types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
