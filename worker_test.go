package sagastack

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type testTopology struct {
	router *LocalRouter
	parent *Worker
	child  *Worker
	rec    *undoRecorder
}

func newTestTopology(t *testing.T, opts ...Option) *testTopology {
	t.Helper()
	topo := &testTopology{router: NewLocalRouter(), rec: &undoRecorder{}}

	var err error
	topo.parent, err = NewWorker(WorkerConfig{RoutingKey: "parent", Router: topo.router, StackOptions: opts})
	require.NoError(t, err)
	topo.child, err = NewWorker(WorkerConfig{RoutingKey: "child", Router: topo.router, StackOptions: opts})
	require.NoError(t, err)

	topo.parent.Registry().MustRegister(recordingUndo("u1", topo.rec))
	topo.child.Registry().MustRegister(recordingUndo("u1'", topo.rec))

	require.NoError(t, topo.router.Register(topo.parent))
	require.NoError(t, topo.router.Register(topo.child))
	return topo
}

func (topo *testTopology) undo(t *testing.T, w *Worker, name ActionName) UndoAction {
	t.Helper()
	undo, err := w.Registry().Get(name)
	require.NoError(t, err)
	return undo
}

func TestNestedCompensationRunsBeforeParentEntries(t *testing.T) {
	ctx := context.Background()
	topo := newTestTopology(t)

	childUndo := topo.undo(t, topo.child, "u1'")
	child := Dispatch(topo.child, "compose", func(ctx context.Context, stack *Stack, name string) (string, error) {
		return ExecuteFunc(ctx, stack, greetStep("hello from child"), name, childUndo)
	})

	stack := topo.parent.NewStack()
	_, err := ExecuteFunc(ctx, stack, greetStep("hello"), "s1", topo.undo(t, topo.parent, "u1"))
	require.NoError(t, err)

	greeting, err := ExecuteChildFuncAsync(ctx, stack, child, "p").Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello from child p", greeting)

	exported := stack.Export()
	require.Len(t, exported, 2)
	assert.Equal(t, NestedEntry{
		RoutingKey: "child",
		Entries:    []Entry{ActivityEntry{Undo: "u1'", Args: "p"}},
	}, exported[1])

	require.NoError(t, stack.Compensate(ctx))
	assert.Equal(t, []string{"u1'(p)", "u1(s1)"}, topo.rec.Calls())
}

func TestDeeplyNestedCompensation(t *testing.T) {
	ctx := context.Background()
	topo := newTestTopology(t)
	childUndo := topo.undo(t, topo.child, "u1'")

	var compose ChildProcess[string, string]
	compose = func(ctx context.Context, stack *Stack, name string) (string, error) {
		greeting, err := ExecuteFunc(ctx, stack, greetStep("hello"), name, childUndo)
		if err != nil {
			return "", err
		}
		if len(name) < 4 {
			if _, err := ExecuteChildFuncAsync(ctx, stack, Dispatch(topo.child, "compose", compose), "_"+name).Get(ctx); err != nil {
				return "", err
			}
		}
		return greeting, nil
	}

	stack := topo.parent.NewStack()
	_, err := ExecuteChildFuncAsync(ctx, stack, Dispatch(topo.child, "compose", compose), "a").Get(ctx)
	require.NoError(t, err)

	require.NoError(t, stack.Compensate(ctx))
	assert.Equal(t, []string{"u1'(___a)", "u1'(__a)", "u1'(_a)", "u1'(a)"}, topo.rec.Calls())
}

func TestNestedRoutingKeyIsTheDispatchedWorker(t *testing.T) {
	ctx := context.Background()
	topo := newTestTopology(t)

	other, err := NewWorker(WorkerConfig{RoutingKey: "other", Router: topo.router})
	require.NoError(t, err)
	other.Registry().MustRegister(recordingUndo("u1'", topo.rec))
	require.NoError(t, topo.router.Register(other))

	process := func(ctx context.Context, stack *Stack, name string) (string, error) {
		undo, err := stack.Registry().Get("u1'")
		if err != nil {
			return "", err
		}
		return ExecuteFunc(ctx, stack, greetStep("hi"), name, undo)
	}

	stack := topo.parent.NewStack()
	_, err = ExecuteChildFuncAsync(ctx, stack, Dispatch(topo.child, "p", process), "one").Get(ctx)
	require.NoError(t, err)
	_, err = ExecuteChildFuncAsync(ctx, stack, Dispatch(other, "p", process), "two").Get(ctx)
	require.NoError(t, err)

	exported := stack.Export()
	require.Len(t, exported, 2)
	keys := []string{exported[0].(NestedEntry).RoutingKey, exported[1].(NestedEntry).RoutingKey}
	assert.ElementsMatch(t, []string{"child", "other"}, keys)
}

func TestChildWithoutRoutingKeyIsRejected(t *testing.T) {
	ctx := context.Background()
	stack := NewStack(nil, nil)

	anonymous := func(ctx context.Context, arg string) (ChildResult[string], error) {
		return ChildResult[string]{Result: arg, Compensations: []Entry{ActivityEntry{Undo: "x"}}}, nil
	}

	_, err := ExecuteChildFuncAsync(ctx, stack, anonymous, "a").Get(ctx)
	require.Error(t, err)
	assert.True(t, IsRoutingFailure(err))
	assert.Equal(t, 0, stack.Len())

	var re *RoutingError
	require.ErrorAs(t, err, &re)
	assert.Empty(t, re.RoutingKey)
	assert.Equal(t, []Entry{ActivityEntry{Undo: "x"}}, re.Unrouted, "the nested compensations are handed back")
}

func TestFailedChildCompensatesItself(t *testing.T) {
	ctx := context.Background()
	topo := newTestTopology(t)
	boom := errors.New("boom")
	childUndo := topo.undo(t, topo.child, "u1'")

	child := Dispatch(topo.child, "compose", func(ctx context.Context, stack *Stack, name string) (string, error) {
		if _, err := ExecuteFunc(ctx, stack, greetStep("hello"), name, childUndo); err != nil {
			return "", err
		}
		return "", boom
	})

	stack := topo.parent.NewStack()
	_, err := ExecuteChildFuncAsync(ctx, stack, child, "p").Get(ctx)
	assert.Same(t, boom, err)
	assert.Equal(t, 0, stack.Len(), "a failed child hands no obligations to its caller")
	assert.Equal(t, []string{"u1'(p)"}, topo.rec.Calls())
}

func TestMissingRouteHaltsCompensation(t *testing.T) {
	ctx := context.Background()
	topo := newTestTopology(t, WithPolicy(ContinueWithError))
	childUndo := topo.undo(t, topo.child, "u1'")

	stack := topo.parent.NewStack()
	_, err := ExecuteFunc(ctx, stack, greetStep("hello"), "s1", topo.undo(t, topo.parent, "u1"))
	require.NoError(t, err)
	_, err = ExecuteChildFuncAsync(ctx, stack, Dispatch(topo.child, "compose", func(ctx context.Context, s *Stack, name string) (string, error) {
		return ExecuteFunc(ctx, s, greetStep("hello"), name, childUndo)
	}), "p").Get(ctx)
	require.NoError(t, err)

	topo.router.Deregister("child")

	err = stack.Compensate(ctx)
	require.Error(t, err)
	assert.True(t, IsRoutingFailure(err))
	assert.ErrorIs(t, err, ErrRouteNotFound)

	var re *RoutingError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "child", re.RoutingKey)

	assert.Empty(t, topo.rec.Calls(), "nothing below the unroutable entry is undone")
	assert.Equal(t, 2, stack.Len())
}

func TestHaltedNestedEntryKeepsOnlyRemainingEntries(t *testing.T) {
	ctx := context.Background()
	topo := newTestTopology(t)

	failures := 1
	flaky := NewUndoFunc[string]("flaky", func(ctx context.Context, arg string) error {
		if failures > 0 {
			failures--
			return errors.New("transient")
		}
		topo.rec.record("flaky(" + arg + ")")
		return nil
	})
	topo.child.Registry().MustRegister(flaky)
	childUndo := topo.undo(t, topo.child, "u1'")

	child := Dispatch(topo.child, "compose", func(ctx context.Context, s *Stack, name string) (string, error) {
		if _, err := ExecuteFunc(ctx, s, greetStep("hello"), name+"-a", childUndo); err != nil {
			return "", err
		}
		if _, err := ExecuteFunc(ctx, s, greetStep("hello"), name+"-b", flaky); err != nil {
			return "", err
		}
		return ExecuteFunc(ctx, s, greetStep("hello"), name+"-c", childUndo)
	})

	stack := topo.parent.NewStack()
	_, err := ExecuteFunc(ctx, stack, greetStep("hello"), "s1", topo.undo(t, topo.parent, "u1"))
	require.NoError(t, err)
	_, err = ExecuteChildFuncAsync(ctx, stack, child, "p").Get(ctx)
	require.NoError(t, err)

	err = stack.Compensate(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"u1'(p-c)"}, topo.rec.Calls())

	exported := stack.Export()
	require.Len(t, exported, 2)
	nested, ok := exported[1].(NestedEntry)
	require.True(t, ok)
	assert.Len(t, nested.Entries, 2, "the undone nested entry is not owed again")

	require.NoError(t, stack.Compensate(ctx))
	assert.Equal(t, []string{"u1'(p-c)", "flaky(p-b)", "u1'(p-a)", "u1(s1)"}, topo.rec.Calls())
}

// TestNestedPolicyPairings runs a parent holding s1 and a nested process
// holding p-a and p-b, where the undo of p-b fails once, under every mix of
// parent and child policies, then compensates the parent again.
func TestNestedPolicyPairings(t *testing.T) {
	tests := []struct {
		name       string
		parent     CompensationPolicy
		child      CompensationPolicy
		firstCalls []string
		remaining  int
		childOwed  int
		retryCalls []string
	}{
		{
			name:       "halt over continue",
			parent:     HaltOnFirstFailure,
			child:      ContinueWithError,
			firstCalls: []string{"u1'(p-a)"},
			remaining:  1,
			retryCalls: []string{"u1'(p-a)", "u1(s1)"},
		},
		{
			name:       "continue over continue",
			parent:     ContinueWithError,
			child:      ContinueWithError,
			firstCalls: []string{"u1'(p-a)", "u1(s1)"},
			retryCalls: []string{"u1'(p-a)", "u1(s1)"},
		},
		{
			name:       "continue over halt",
			parent:     ContinueWithError,
			child:      HaltOnFirstFailure,
			firstCalls: []string{"u1(s1)"},
			childOwed:  2,
			retryCalls: []string{"u1(s1)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			topo := newTestTopology(t, WithPolicy(tt.child))

			failures := 1
			flaky := NewUndoFunc[string]("flaky", func(ctx context.Context, arg string) error {
				if failures > 0 {
					failures--
					return errors.New("transient")
				}
				topo.rec.record("flaky(" + arg + ")")
				return nil
			})
			topo.child.Registry().MustRegister(flaky)
			childUndo := topo.undo(t, topo.child, "u1'")

			child := Dispatch(topo.child, "compose", func(ctx context.Context, s *Stack, name string) (string, error) {
				if _, err := ExecuteFunc(ctx, s, greetStep("hello"), name+"-a", childUndo); err != nil {
					return "", err
				}
				return ExecuteFunc(ctx, s, greetStep("hello"), name+"-b", flaky)
			})

			stack := topo.parent.NewStack(WithPolicy(tt.parent))
			_, err := ExecuteFunc(ctx, stack, greetStep("hello"), "s1", topo.undo(t, topo.parent, "u1"))
			require.NoError(t, err)
			_, err = ExecuteChildFuncAsync(ctx, stack, child, "p").Get(ctx)
			require.NoError(t, err)

			err = stack.Compensate(ctx)
			require.Error(t, err)
			assert.Equal(t, tt.firstCalls, topo.rec.Calls())
			assert.Equal(t, tt.remaining, stack.Len())

			var ce *CompensationError
			require.ErrorAs(t, err, &ce)
			assert.Len(t, ce.Remaining, tt.remaining)

			if tt.childOwed > 0 {
				failed := multierr.Errors(ce.Err)
				require.Len(t, failed, 1)
				var nested *CompensationError
				require.ErrorAs(t, failed[0], &nested)
				assert.IsType(t, NestedEntry{}, nested.Entry)
				var owed *CompensationError
				require.ErrorAs(t, nested.Err, &owed)
				assert.Len(t, owed.Remaining, tt.childOwed, "the child reports what it still owes")
			}

			require.NoError(t, stack.Compensate(ctx))
			assert.Equal(t, tt.retryCalls, topo.rec.Calls(), "no entry is undone twice")
			assert.Equal(t, 0, stack.Len())
		})
	}
}

func TestReplayStored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &undoRecorder{}

	w, err := NewWorker(WorkerConfig{RoutingKey: "provisioner", Store: store})
	require.NoError(t, err)
	w.Registry().MustRegister(recordingUndo("delete", rec))
	undo := topoUndo(t, w, "delete")

	stack := w.NewStack(WithProcessID("deploy-1"))
	_, err = ExecuteFunc(ctx, stack, greetStep("create"), "db", undo)
	require.NoError(t, err)
	_, err = ExecuteFunc(ctx, stack, greetStep("create"), "server", undo)
	require.NoError(t, err)
	require.NoError(t, w.SaveSnapshot(ctx, "deploy", stack))

	snapshot, err := store.Load(ctx, "deploy-1")
	require.NoError(t, err)
	assert.Equal(t, SnapshotStatusCompleted, snapshot.Status)
	assert.Equal(t, "provisioner", snapshot.RoutingKey)

	require.NoError(t, w.ReplayStored(ctx, "deploy-1"))
	assert.Equal(t, []string{"delete(server)", "delete(db)"}, rec.Calls())

	snapshot, err = store.Load(ctx, "deploy-1")
	require.NoError(t, err)
	assert.Equal(t, SnapshotStatusCompensated, snapshot.Status)
}

func TestReplayStoredRejectsForeignSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Save(ctx, Snapshot{ProcessID: "p1", RoutingKey: "elsewhere"}))

	w, err := NewWorker(WorkerConfig{RoutingKey: "here", Store: store})
	require.NoError(t, err)

	err = w.ReplayStored(ctx, "p1")
	assert.True(t, IsRoutingFailure(err))
}

func TestDispatchSavesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w, err := NewWorker(WorkerConfig{RoutingKey: "child", Store: store})
	require.NoError(t, err)
	w.Registry().MustRegister(recordingUndo("undo", &undoRecorder{}))
	undo := topoUndo(t, w, "undo")

	res, err := Dispatch(w, "compose", func(ctx context.Context, s *Stack, name string) (string, error) {
		return ExecuteFunc(ctx, s, greetStep("hello"), name, undo)
	})(ctx, "x")
	require.NoError(t, err)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	snapshot, err := store.Load(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "compose", snapshot.Name)
	assert.Equal(t, res.Compensations, snapshot.Entries)
}

func TestNewWorkerRequiresRoutingKey(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	assert.Error(t, err)
}

func topoUndo(t *testing.T, w *Worker, name ActionName) UndoAction {
	t.Helper()
	undo, err := w.Registry().Get(name)
	require.NoError(t, err)
	return undo
}
