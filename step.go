package sagastack

import "context"

// StepResult is the outcome of a compensable step: the value handed back to
// the caller and the data its undo action needs. The two may differ from each
// other and from the step's input.
type StepResult[R, C any] struct {
	Result           R
	CompensationArgs C
}

// NewStepResult creates a StepResult.
func NewStepResult[R, C any](result R, compensationArgs C) StepResult[R, C] {
	return StepResult[R, C]{Result: result, CompensationArgs: compensationArgs}
}

// FuncStep is a compensable step producing a caller-visible result.
type FuncStep[A, R, C any] func(ctx context.Context, arg A) (StepResult[R, C], error)

// ProcStep is a compensable step that only produces compensation data.
type ProcStep[A, C any] func(ctx context.Context, arg A) (C, error)

// ChildResult is returned by a nested process that completed successfully.
// Compensations is the nested process's exported stack and RoutingKey is the
// execution context the nested process was dispatched to.
type ChildResult[R any] struct {
	Result        R
	Compensations []Entry
	RoutingKey    string
}

// ChildInvoker runs a nested process and reports where it ran.
type ChildInvoker[A, R any] func(ctx context.Context, arg A) (ChildResult[R], error)
