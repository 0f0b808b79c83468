package sagastack

import (
	"context"
	"fmt"
)

func checkUndo(undo UndoAction) error {
	if undo == nil {
		return fmt.Errorf("%w: nil undo action", ErrInvalidEntry)
	}
	if undo.Name() == "" {
		return fmt.Errorf("%w: undo action has no name", ErrInvalidEntry)
	}
	return nil
}

// ExecuteFunc runs step synchronously. On success it registers undo with the
// step's compensation args and returns the step's result. If the step fails
// nothing is registered and the step's error is returned unchanged.
func ExecuteFunc[A, R, C any](ctx context.Context, s *Stack, step FuncStep[A, R, C], arg A, undo UndoAction) (R, error) {
	var zero R
	if err := checkUndo(undo); err != nil {
		return zero, err
	}
	res, err := step(ctx, arg)
	if err != nil {
		return zero, err
	}
	s.pushActivity(undo, res.CompensationArgs)
	return res.Result, nil
}

// ExecuteFuncAsync runs step in its own goroutine. The undo is registered
// before the returned future completes, so a completed future always means
// the compensation is on the stack.
func ExecuteFuncAsync[A, R, C any](ctx context.Context, s *Stack, step FuncStep[A, R, C], arg A, undo UndoAction) *Future[R] {
	f := newFuture[R]()
	var zero R
	if err := checkUndo(undo); err != nil {
		f.complete(zero, err)
		return f
	}
	go func() {
		res, err := step(ctx, arg)
		if err != nil {
			f.complete(zero, err)
			return
		}
		s.pushActivity(undo, res.CompensationArgs)
		f.complete(res.Result, nil)
	}()
	return f
}

// ExecuteProc is ExecuteFunc for steps whose only output is compensation
// data.
func ExecuteProc[A, C any](ctx context.Context, s *Stack, step ProcStep[A, C], arg A, undo UndoAction) error {
	if err := checkUndo(undo); err != nil {
		return err
	}
	compensationArgs, err := step(ctx, arg)
	if err != nil {
		return err
	}
	s.pushActivity(undo, compensationArgs)
	return nil
}

// ExecuteProcAsync is ExecuteFuncAsync for steps whose only output is
// compensation data.
func ExecuteProcAsync[A, C any](ctx context.Context, s *Stack, step ProcStep[A, C], arg A, undo UndoAction) *Future[struct{}] {
	f := newFuture[struct{}]()
	if err := checkUndo(undo); err != nil {
		f.complete(struct{}{}, err)
		return f
	}
	go func() {
		compensationArgs, err := step(ctx, arg)
		if err != nil {
			f.complete(struct{}{}, err)
			return
		}
		s.pushActivity(undo, compensationArgs)
		f.complete(struct{}{}, nil)
	}()
	return f
}

// WithCompensation registers undo for a step result produced elsewhere and
// unwraps it.
func WithCompensation[R, C any](s *Stack, res StepResult[R, C], undo UndoAction) (R, error) {
	if err := checkUndo(undo); err != nil {
		var zero R
		return zero, err
	}
	s.pushActivity(undo, res.CompensationArgs)
	return res.Result, nil
}

// Compensated returns WithCompensation bound to s and undo, for use as a
// continuation:
//
//	greeting := sagastack.Then(f, sagastack.Compensated[string, string](stack, undo))
func Compensated[R, C any](s *Stack, undo UndoAction) func(StepResult[R, C]) (R, error) {
	return func(res StepResult[R, C]) (R, error) {
		return WithCompensation(s, res, undo)
	}
}

// WithCompensationAsync registers undo once f completes successfully and
// returns a future of the unwrapped result.
func WithCompensationAsync[R, C any](s *Stack, f *Future[StepResult[R, C]], undo UndoAction) *Future[R] {
	return Then(f, Compensated[R, C](s, undo))
}

// ExecuteChildFuncAsync runs a nested process in its own goroutine. When the
// nested process succeeds its exported entries are pushed as one NestedEntry
// addressed to the routing key the nested process reported, before the
// returned future completes.
//
// A ChildResult without a routing key is rejected with a RoutingError
// carrying the nested compensations in Unrouted; there is no fallback key.
func ExecuteChildFuncAsync[A, R any](ctx context.Context, s *Stack, child ChildInvoker[A, R], arg A) *Future[R] {
	f := newFuture[R]()
	go func() {
		var zero R
		res, err := child(ctx, arg)
		if err != nil {
			f.complete(zero, err)
			return
		}
		if res.RoutingKey == "" {
			s.logger.Errorw("nested process returned no routing key, its compensations are dropped",
				"process_id", s.id, "entries", len(res.Compensations))
			f.complete(zero, &RoutingError{
				Err:      fmt.Errorf("%w: nested process reported no routing key", ErrInvalidEntry),
				Unrouted: copyEntries(res.Compensations),
			})
			return
		}
		s.push(NestedEntry{RoutingKey: res.RoutingKey, Entries: copyEntries(res.Compensations)})
		f.complete(res.Result, nil)
	}()
	return f
}
