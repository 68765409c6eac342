package flowkit

import (
	"errors"
	"fmt"
)

// Error type constants for classification. Node-level errors are always
// fatal to the run; the types exist for diagnostics, not retry routing.
const (
	// ErrorTypeConfig indicates a missing or invalid node config field
	// or a missing integration credential.
	ErrorTypeConfig = "config_error"

	// ErrorTypeTransport indicates a failed external call, e.g. a
	// non-2xx response from a provider API.
	ErrorTypeTransport = "transport_error"

	// ErrorTypeGraph indicates a structural problem with the workflow
	// graph: an edge to a missing node, or a cycle.
	ErrorTypeGraph = "graph_error"

	// ErrorTypePersistence indicates the record store or queue store
	// was unreachable or rejected a write.
	ErrorTypePersistence = "persistence_error"

	// ErrorTypeNodeFailed is the default classification for any other
	// error raised by a node handler.
	ErrorTypeNodeFailed = "node_failed"
)

// FlowError is a structured error with a type classification. It
// supports Go's error wrapping patterns with Unwrap().
type FlowError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface. The cause text is what gets
// surfaced verbatim in ErrorMessage fields.
func (e *FlowError) Error() string {
	return e.Cause
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *FlowError) Unwrap() error {
	return e.Wrapped
}

// NewConfigError creates a configuration error.
func NewConfigError(format string, args ...any) *FlowError {
	return &FlowError{Type: ErrorTypeConfig, Cause: fmt.Sprintf(format, args...)}
}

// NewTransportError creates a transport error.
func NewTransportError(format string, args ...any) *FlowError {
	return &FlowError{Type: ErrorTypeTransport, Cause: fmt.Sprintf(format, args...)}
}

// NewGraphError creates a graph structure error.
func NewGraphError(cause string) *FlowError {
	return &FlowError{Type: ErrorTypeGraph, Cause: cause}
}

// NewPersistenceError wraps a store failure.
func NewPersistenceError(op string, err error) *FlowError {
	return &FlowError{
		Type:    ErrorTypePersistence,
		Cause:   fmt.Sprintf("%s: %s", op, err.Error()),
		Wrapped: err,
	}
}

// Classify converts any error into a FlowError. Errors that are
// already typed pass through; everything else becomes a node failure.
func Classify(err error) *FlowError {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr
	}
	return &FlowError{
		Type:    ErrorTypeNodeFailed,
		Cause:   err.Error(),
		Wrapped: err,
	}
}

// IsErrorType reports whether an error classifies to the given type.
func IsErrorType(err error, errorType string) bool {
	return Classify(err).Type == errorType
}
