package sagastack

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// RoutingKey identifies the worker. Nested processes dispatched to the
	// worker report it, and their compensation is routed back to it.
	RoutingKey string

	// Registry resolves the undo actions of stacks created on the worker. A
	// new registry is created when nil.
	Registry *UndoRegistry

	// Router replays nested entries of stacks created on the worker.
	Router Router

	// Logger defaults to a no-op logger.
	Logger *zap.SugaredLogger

	// StackOptions are applied to every stack the worker creates.
	StackOptions []Option

	// Store, if set, receives a snapshot of every nested process the worker
	// completes.
	Store Store
}

// Worker is one execution context: a routing key, the undo actions
// registered under it and the ability to run nested processes and replay
// their compensation.
type Worker struct {
	cfg    WorkerConfig
	logger *zap.SugaredLogger
}

// NewWorker creates a Worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.RoutingKey == "" {
		return nil, fmt.Errorf("worker routing key is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewUndoRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Worker{
		cfg:    cfg,
		logger: cfg.Logger.With("routing_key", cfg.RoutingKey),
	}, nil
}

// RoutingKey returns the worker's routing key.
func (w *Worker) RoutingKey() string {
	return w.cfg.RoutingKey
}

// Registry returns the worker's undo registry.
func (w *Worker) Registry() *UndoRegistry {
	return w.cfg.Registry
}

// NewStack creates a stack bound to the worker's registry and router.
func (w *Worker) NewStack(opts ...Option) *Stack {
	all := make([]Option, 0, len(w.cfg.StackOptions)+len(opts)+1)
	all = append(all, WithLogger(w.logger))
	all = append(all, w.cfg.StackOptions...)
	all = append(all, opts...)
	return NewStack(w.cfg.Registry, w.cfg.Router, all...)
}

// ReplayCompensation is the standalone compensation entry point of the
// worker: it adopts entries exported by a nested process that ran here and
// compensates them.
func (w *Worker) ReplayCompensation(ctx context.Context, entries []Entry) error {
	stack := w.NewStack()
	if err := stack.Import(entries); err != nil {
		return err
	}
	w.logger.Infow("replaying compensation", "process_id", stack.ID(), "entries", len(entries))
	return stack.Compensate(ctx)
}

// ReplayStored replays the snapshot stored under processID and records the
// outcome in the worker's store.
func (w *Worker) ReplayStored(ctx context.Context, processID string) error {
	if w.cfg.Store == nil {
		return fmt.Errorf("worker %s has no store", w.cfg.RoutingKey)
	}
	snapshot, err := w.cfg.Store.Load(ctx, processID)
	if err != nil {
		return err
	}
	if snapshot.RoutingKey != w.cfg.RoutingKey {
		return RouteFailed(snapshot.RoutingKey, fmt.Errorf("%w: snapshot %s belongs to another worker", ErrRouteNotFound, processID))
	}

	replayErr := w.ReplayCompensation(ctx, snapshot.Entries)
	snapshot.Status = SnapshotStatusCompensated
	if replayErr != nil {
		snapshot.Status = SnapshotStatusFailed
	}
	if err := w.cfg.Store.Save(ctx, *snapshot); err != nil {
		return multierr.Append(replayErr, fmt.Errorf("failed to save snapshot %s: %w", processID, err))
	}
	return replayErr
}

// SaveSnapshot stores the current contents of stack in the worker's store.
func (w *Worker) SaveSnapshot(ctx context.Context, name string, stack *Stack) error {
	if w.cfg.Store == nil {
		return nil
	}
	now := time.Now()
	return w.cfg.Store.Save(ctx, Snapshot{
		ProcessID:  stack.ID(),
		Name:       name,
		RoutingKey: w.cfg.RoutingKey,
		Status:     SnapshotStatusCompleted,
		Entries:    stack.Export(),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// ChildProcess is the body of a nested process. It receives the nested
// process's own stack.
type ChildProcess[A, R any] func(ctx context.Context, stack *Stack, arg A) (R, error)

// Dispatch returns a ChildInvoker that runs process on w with a fresh stack.
// On success the invoker returns the exported stack and w's routing key. On
// failure the nested process compensates its own stack before the error is
// returned, so the caller never owns its obligations.
func Dispatch[A, R any](w *Worker, name string, process ChildProcess[A, R]) ChildInvoker[A, R] {
	return func(ctx context.Context, arg A) (ChildResult[R], error) {
		stack := w.NewStack()
		w.logger.Debugw("nested process started", "name", name, "process_id", stack.ID())

		result, err := process(ctx, stack, arg)
		if err != nil {
			w.logger.Warnw("nested process failed, compensating", "name", name, "process_id", stack.ID(), "error", err)
			if cerr := stack.Compensate(ctx); cerr != nil {
				return ChildResult[R]{}, multierr.Append(err, cerr)
			}
			return ChildResult[R]{}, err
		}

		if err := w.SaveSnapshot(ctx, name, stack); err != nil {
			w.logger.Warnw("failed to save nested process snapshot", "name", name, "process_id", stack.ID(), "error", err)
		}
		return ChildResult[R]{
			Result:        result,
			Compensations: stack.Export(),
			RoutingKey:    w.cfg.RoutingKey,
		}, nil
	}
}
