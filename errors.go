package sagastack

import (
	"errors"
	"fmt"
)

var (
	// ErrUndoNotFound is returned when an undo action name has no registration.
	ErrUndoNotFound = errors.New("undo action not found")

	// ErrDuplicateUndo is returned when an undo action name is registered twice.
	ErrDuplicateUndo = errors.New("undo action already registered")

	// ErrAlreadyCompensating is returned by Compensate when a compensation is
	// already running on the same stack.
	ErrAlreadyCompensating = errors.New("stack is already compensating")

	// ErrRouteNotFound is returned when a routing key does not resolve to an
	// execution context.
	ErrRouteNotFound = errors.New("routing key not found")

	// ErrInvalidEntry is returned for entries that break the entry invariants.
	ErrInvalidEntry = errors.New("invalid compensation entry")
)

// CodecError represents a failure to encode or decode compensation data.
type CodecError struct {
	error
}

// SerializeFailed indicates a failure to serialize compensation data.
func SerializeFailed(message string) error {
	return &CodecError{fmt.Errorf("serialize failed: %s", message)}
}

// DeserializeFailed indicates a failure to deserialize compensation data.
func DeserializeFailed(message string) error {
	return &CodecError{fmt.Errorf("deserialize failed: %s", message)}
}

// CompensationError represents a failed undo action. Entry is the entry that
// was popped when the failure happened. When compensation halted, Remaining
// holds the entries still owed, oldest first, with the failed entry on top.
// A run that drained the stack despite failures reports them with a nil Entry
// and an empty, non-nil Remaining. Remaining is nil on the per-entry errors
// collected by such a run.
type CompensationError struct {
	Entry     Entry
	Err       error
	Remaining []Entry
}

// UndoFailed wraps the error returned while undoing entry.
func UndoFailed(entry Entry, err error) error {
	return &CompensationError{Entry: entry, Err: err}
}

func (e *CompensationError) Error() string {
	if e.Entry == nil {
		return fmt.Sprintf("compensation finished with failures: %v", e.Err)
	}
	return fmt.Sprintf("compensation of %v failed: %v", e.Entry, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// RoutingError represents a nested entry whose routing key no longer resolves.
// It is fatal under every CompensationPolicy.
//
// Unrouted holds the compensations of a nested process that could not be
// addressed at all, so the host can still undo them.
type RoutingError struct {
	RoutingKey string
	Err        error
	Unrouted   []Entry
}

// RouteFailed wraps err as a RoutingError for routingKey.
func RouteFailed(routingKey string, err error) error {
	return &RoutingError{RoutingKey: routingKey, Err: err}
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing to %q failed: %v", e.RoutingKey, e.Err)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

// IsRoutingFailure reports whether err is, or wraps, a RoutingError.
func IsRoutingFailure(err error) bool {
	var re *RoutingError
	return errors.As(err, &re)
}
