package sagastack

import (
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/puzpuzpuz/xsync/v3"
)

// ActionName is the stable identifier of an undo action. It is chosen by the
// caller at registration time and must not change across restarts, since it
// travels inside exported entries.
type ActionName string

// UndoAction is the inverse operation registered alongside a successful step.
type UndoAction interface {
	Name() ActionName
	UndoIt(ctx context.Context, args any) error
}

// UndoFunc is an UndoAction backed by an ordinary function taking a typed
// argument.
type UndoFunc[C any] struct {
	name ActionName
	fn   func(ctx context.Context, args C) error
}

// NewUndoFunc constructs an UndoFunc from a name and a function.
func NewUndoFunc[C any](name ActionName, fn func(ctx context.Context, args C) error) *UndoFunc[C] {
	return &UndoFunc[C]{name: name, fn: fn}
}

// Name implements the UndoAction interface for UndoFunc.
func (u *UndoFunc[C]) Name() ActionName {
	return u.name
}

// UndoIt implements the UndoAction interface for UndoFunc.
func (u *UndoFunc[C]) UndoIt(ctx context.Context, args any) error {
	typed, err := decodeArgs[C](args)
	if err != nil {
		return fmt.Errorf("undo %s: %w", u.name, err)
	}
	return u.fn(ctx, typed)
}

// String implements the fmt.Stringer interface for UndoFunc.
func (u *UndoFunc[C]) String() string {
	return fmt.Sprintf("UndoFunc[%s]", u.name)
}

// decodeArgs converts compensation args into C. Args recorded in-process keep
// their Go type; args that crossed a process boundary arrive as
// json.RawMessage and are unmarshaled.
func decodeArgs[C any](args any) (C, error) {
	var zero C
	if args == nil {
		return zero, nil
	}
	if typed, ok := args.(C); ok {
		return typed, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		var out C
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, DeserializeFailed(err.Error())
		}
		return out, nil
	}
	return zero, DeserializeFailed(fmt.Sprintf("cannot convert %T to %T", args, zero))
}

// UndoRegistry maps stable action names to undo actions for one execution
// context.
//
// An exported entry only carries the ActionName of its undo action. When the
// entry is replayed, possibly by a different worker after a restart, the name
// is the only thing left to recover the callable, so every undo action that
// may appear in an entry must be registered under the same name wherever the
// entry can be compensated.
type UndoRegistry struct {
	actions *xsync.MapOf[ActionName, UndoAction]
}

// NewUndoRegistry creates a new UndoRegistry.
func NewUndoRegistry() *UndoRegistry {
	return &UndoRegistry{
		actions: xsync.NewMapOf[ActionName, UndoAction](),
	}
}

// Register adds an undo action to the registry.
func (r *UndoRegistry) Register(action UndoAction) error {
	if action.Name() == "" {
		return fmt.Errorf("%w: empty undo action name", ErrInvalidEntry)
	}
	if _, loaded := r.actions.LoadOrStore(action.Name(), action); loaded {
		return fmt.Errorf("%w: %q", ErrDuplicateUndo, action.Name())
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *UndoRegistry) MustRegister(actions ...UndoAction) {
	for _, action := range actions {
		if err := r.Register(action); err != nil {
			panic(err)
		}
	}
}

// Get retrieves an undo action by its name.
func (r *UndoRegistry) Get(name ActionName) (UndoAction, error) {
	action, ok := r.actions.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUndoNotFound, name)
	}
	return action, nil
}

// ensure registers action unless an action with the same name exists.
func (r *UndoRegistry) ensure(action UndoAction) {
	r.actions.LoadOrStore(action.Name(), action)
}

// Names returns the registered names in sorted order.
func (r *UndoRegistry) Names() []ActionName {
	names := make([]ActionName, 0, r.actions.Size())
	r.actions.Range(func(name ActionName, _ UndoAction) bool {
		names = append(names, name)
		return true
	})
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
