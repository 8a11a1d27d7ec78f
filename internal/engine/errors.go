package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorax/gorax/internal/statemachine"
)

// ErrorKind classifies why a node or run failed, the taxonomy every
// durable node.execution/workflow.execution event and API response
// carries instead of an opaque string.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindTransient         ErrorKind = "transient"
	ErrorKindProtocolViolation ErrorKind = "protocol_violation"
	ErrorKindNodeApplication   ErrorKind = "node_application"
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindCanceled          ErrorKind = "canceled"
	ErrorKindSignatureInvalid  ErrorKind = "signature_invalid"
)

// ErrNodeTimeout marks a node execution that exceeded its run/per-node
// timeout and did not return within the grace period.
var ErrNodeTimeout = errors.New("engine: node execution timed out")

// ExecutionError is the sanitized error shape that crosses the API
// boundary: Kind is safe for a caller to branch on, Message is safe to
// surface directly, and the wrapped cause stays available to
// errors.Unwrap for logging but is never rendered to a client verbatim.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

// NewExecutionError constructs an ExecutionError of the given kind.
func NewExecutionError(kind ErrorKind, message string, cause error) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: message, cause: cause}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.cause
}

// ClassifyError maps an error surfaced by the Engine to an
// ExecutionError, so handlers can branch on Kind instead of matching
// error strings. Already-classified errors pass through unchanged.
func ClassifyError(err error) *ExecutionError {
	if err == nil {
		return nil
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	var protoErr *statemachine.ErrProtocolViolation
	if errors.As(err, &protoErr) {
		return NewExecutionError(ErrorKindProtocolViolation, protoErr.Error(), err)
	}
	if errors.Is(err, ErrNodeTimeout) {
		return NewExecutionError(ErrorKindTimeout, "node execution timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewExecutionError(ErrorKindCanceled, "run canceled", err)
	}
	if errors.Is(err, ErrNotFound) {
		return NewExecutionError(ErrorKindValidation, err.Error(), err)
	}
	return NewExecutionError(ErrorKindNodeApplication, err.Error(), err)
}
