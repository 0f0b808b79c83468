package sagastack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CompensationPolicy decides what Compensate does when an undo fails.
type CompensationPolicy int

const (
	// HaltOnFirstFailure stops at the first failed undo and leaves the failed
	// entry and everything below it on the stack.
	HaltOnFirstFailure CompensationPolicy = iota
	// ContinueWithError runs every entry and returns the aggregated failures.
	ContinueWithError
)

// String implements the fmt.Stringer interface for CompensationPolicy.
func (p CompensationPolicy) String() string {
	switch p {
	case HaltOnFirstFailure:
		return "halt_on_first_failure"
	case ContinueWithError:
		return "continue_with_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParsePolicy parses the String form of a CompensationPolicy. The empty
// string selects HaltOnFirstFailure.
func ParsePolicy(s string) (CompensationPolicy, error) {
	switch s {
	case "", HaltOnFirstFailure.String():
		return HaltOnFirstFailure, nil
	case ContinueWithError.String():
		return ContinueWithError, nil
	default:
		return HaltOnFirstFailure, fmt.Errorf("unknown compensation policy %q", s)
	}
}

// Router replays the exported entries of a nested process on the execution
// context identified by routingKey. Replay returns the error of the replaying
// stack's Compensate unchanged, so the caller can tell what is still owed.
type Router interface {
	Replay(ctx context.Context, routingKey string, entries []Entry) error
}

// Stack lifecycle states.
const (
	StateEmpty        = "empty"
	StateAccumulating = "accumulating"
	StateCompensating = "compensating"
	StateExported     = "exported"
)

const (
	eventPush       = "push"
	eventExport     = "export"
	eventCompensate = "compensate"
	eventDrained    = "drained"
	eventHalted     = "halted"
)

type slot struct {
	id    EntryID
	entry Entry
}

// Stack is the compensation stack of one process instance. Every successful
// compensable step pushes an entry; Compensate pops and undoes them newest
// first.
//
// All mutations are serialised by the stack, so completions of asynchronous
// steps may push concurrently. Entries are ordered by completion, not by the
// order the steps were issued in.
type Stack struct {
	mu     sync.Mutex
	id     string
	slots  []slot
	nextID EntryID

	registry    *UndoRegistry
	router      Router
	policy      CompensationPolicy
	undoTimeout time.Duration

	logger  *zap.SugaredLogger
	metrics *Metrics
	log     *CompensationLog
	state   *fsm.FSM
}

// Option configures a Stack.
type Option func(*Stack)

// WithPolicy sets the compensation failure policy.
func WithPolicy(policy CompensationPolicy) Option {
	return func(s *Stack) { s.policy = policy }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Stack) { s.logger = logger }
}

// WithMetrics sets the counters the stack reports to.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Stack) { s.metrics = metrics }
}

// WithUndoTimeout bounds every activity undo. Zero means no bound.
func WithUndoTimeout(d time.Duration) Option {
	return func(s *Stack) { s.undoTimeout = d }
}

// WithProcessID sets the process instance ID. The default is a random UUID.
func WithProcessID(id string) Option {
	return func(s *Stack) { s.id = id }
}

// WithLog sets the compensation log the stack records into.
func WithLog(log *CompensationLog) Option {
	return func(s *Stack) { s.log = log }
}

// NewStack creates an empty stack. Undo actions are resolved through registry
// and nested entries are replayed through router; router may be nil for a
// process that never runs nested processes.
func NewStack(registry *UndoRegistry, router Router, opts ...Option) *Stack {
	s := &Stack{
		registry: registry,
		router:   router,
		policy:   HaltOnFirstFailure,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewUndoRegistry()
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	if s.log == nil {
		s.log = NewCompensationLog(s.id)
	}

	s.state = fsm.NewFSM(
		StateEmpty,
		fsm.Events{
			{Name: eventPush, Src: []string{StateEmpty, StateAccumulating, StateExported}, Dst: StateAccumulating},
			{Name: eventExport, Src: []string{StateAccumulating, StateExported}, Dst: StateExported},
			{Name: eventCompensate, Src: []string{StateEmpty, StateAccumulating, StateExported}, Dst: StateCompensating},
			{Name: eventDrained, Src: []string{StateCompensating}, Dst: StateEmpty},
			{Name: eventHalted, Src: []string{StateCompensating}, Dst: StateAccumulating},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debugw("stack state changed", "process_id", s.id, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return s
}

// ID returns the process instance ID of the stack.
func (s *Stack) ID() string {
	return s.id
}

// Registry returns the registry undo actions are resolved through.
func (s *Stack) Registry() *UndoRegistry {
	return s.registry
}

// Log returns the compensation log of the stack.
func (s *Stack) Log() *CompensationLog {
	return s.log
}

// Len returns the number of entries on the stack.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// State returns the lifecycle state of the stack.
func (s *Stack) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Current()
}

// transition fires event, treating a transition to the current state as a
// success. Callers hold s.mu.
func (s *Stack) transition(event string) error {
	err := s.state.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return err
	}
	return nil
}

func (s *Stack) record(id EntryID, entry Entry, eventType EntryEventType) {
	if err := s.log.Record(&EntryEvent{EntryID: id, Entry: entry, EventType: eventType}); err != nil {
		s.logger.Warnw("compensation log rejected event", "process_id", s.id, "error", err)
	}
}

// push registers entry on top of the stack.
func (s *Stack) push(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLocked(entry)
}

func (s *Stack) pushLocked(entry Entry) {
	id := s.nextID
	s.nextID++
	s.slots = append(s.slots, slot{id: id, entry: entry})

	// A running Compensate pops this entry in its next iteration.
	if s.state.Current() != StateCompensating {
		if err := s.transition(eventPush); err != nil {
			s.logger.Warnw("unexpected stack transition failure", "process_id", s.id, "error", err)
		}
	}

	s.record(id, entry, EventPushed)
	s.metrics.observePush(entry.Kind())
	s.logger.Debugw("compensation registered", "process_id", s.id, "entry", entry, "depth", len(s.slots))
}

func (s *Stack) pushActivity(undo UndoAction, args any) {
	s.registry.ensure(undo)
	s.push(ActivityEntry{Undo: undo.Name(), Args: args})
}

// Export returns a copy of the stack contents, oldest entry first, for a
// process to hand to its caller. Exporting does not clear the stack.
func (s *Stack) Export() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, len(s.slots))
	for i, sl := range s.slots {
		entries[i] = sl.entry
	}
	if s.state.Can(eventExport) {
		if err := s.transition(eventExport); err != nil {
			s.logger.Warnw("unexpected stack transition failure", "process_id", s.id, "error", err)
		}
	}
	return copyEntries(entries)
}

// Import appends previously exported entries, oldest first, so that the last
// imported entry is undone first.
func (s *Stack) Import(entries []Entry) error {
	if err := ValidateEntries(s.registry, entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range copyEntries(entries) {
		s.pushLocked(e)
	}
	return nil
}

// Compensate pops entries until the stack is empty, undoing each one before
// popping the next. Nested entries are replayed through the router and must
// finish before the next entry is popped.
//
// Under HaltOnFirstFailure the first failure stops the loop: the failed entry
// is put back and the stack returns to the accumulating state, so Compensate
// may be called again. A nested entry whose replay halted is put back holding
// only the nested entries still owed, and is dropped when it owes nothing.
// Under ContinueWithError every entry is popped and the failures are returned
// inside a *CompensationError with an empty, non-nil Remaining. A RoutingError
// always halts.
//
// The first *CompensationError found by errors.As in the returned error
// describes this stack: its Remaining lists what is still owed.
func (s *Stack) Compensate(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Current() == StateCompensating {
		s.mu.Unlock()
		return ErrAlreadyCompensating
	}
	if err := s.transition(eventCompensate); err != nil {
		s.mu.Unlock()
		return err
	}
	depth := len(s.slots)
	s.mu.Unlock()

	s.logger.Infow("compensation started", "process_id", s.id, "entries", depth, "policy", s.policy)

	var errs error
	for {
		s.mu.Lock()
		if len(s.slots) == 0 {
			break
		}
		top := s.slots[len(s.slots)-1]
		s.slots = s.slots[:len(s.slots)-1]
		s.mu.Unlock()

		entry, err := s.undo(ctx, top)
		if err == nil {
			continue
		}

		if s.policy == ContinueWithError && !IsRoutingFailure(err) {
			s.logger.Warnw("undo failed, continuing", "process_id", s.id, "entry", top.entry, "error", err)
			errs = multierr.Append(errs, UndoFailed(top.entry, err))
			continue
		}

		s.mu.Lock()
		if entry != nil {
			s.reinsertLocked(slot{id: top.id, entry: entry})
		}
		remaining := make([]Entry, len(s.slots))
		for i, sl := range s.slots {
			remaining[i] = sl.entry
		}
		if terr := s.transition(eventHalted); terr != nil {
			s.logger.Warnw("unexpected stack transition failure", "process_id", s.id, "error", terr)
		}
		s.mu.Unlock()

		s.logger.Errorw("compensation halted", "process_id", s.id, "entry", top.entry, "remaining", len(remaining), "error", err)
		halt := &CompensationError{Entry: top.entry, Err: err, Remaining: copyEntries(remaining)}
		errs = multierr.Combine(halt, errs)
		s.metrics.observeCompensation(errs)
		return errs
	}

	if err := s.transition(eventDrained); err != nil {
		s.logger.Warnw("unexpected stack transition failure", "process_id", s.id, "error", err)
	}
	s.mu.Unlock()

	s.metrics.observeCompensation(errs)
	if errs == nil {
		s.logger.Infow("compensation finished", "process_id", s.id, "entries", depth)
		return nil
	}
	s.logger.Warnw("compensation finished with errors", "process_id", s.id, "error", errs)
	// Drained: every failure is reported and nothing is owed.
	return &CompensationError{Err: errs, Remaining: []Entry{}}
}

// reinsertLocked puts a failed slot back in push order. Entries pushed while
// its undo was running stay above it.
func (s *Stack) reinsertLocked(sl slot) {
	i := len(s.slots)
	for i > 0 && s.slots[i-1].id > sl.id {
		i--
	}
	s.slots = append(s.slots, slot{})
	copy(s.slots[i+1:], s.slots[i:])
	s.slots[i] = sl
}

// undo runs the inverse of one entry. On failure the returned entry replaces
// the popped one if it has to go back on the stack: a nested entry that halted
// part way only owes the nested entries that were not undone, and a nested
// replay that drained its stack owes nothing, reported as a nil entry.
func (s *Stack) undo(ctx context.Context, sl slot) (Entry, error) {
	s.record(sl.id, sl.entry, EventUndoStarted)

	entry := sl.entry
	var err error
	switch e := sl.entry.(type) {
	case ActivityEntry:
		err = s.undoActivity(ctx, e)
	case NestedEntry:
		err = s.replayNested(ctx, e)
		var ce *CompensationError
		if err != nil && errors.As(err, &ce) && ce.Remaining != nil {
			if len(ce.Remaining) == 0 {
				entry = nil
			} else {
				e.Entries = ce.Remaining
				entry = e
			}
		}
	default:
		err = fmt.Errorf("%w: unsupported entry type %T", ErrInvalidEntry, sl.entry)
	}

	if err != nil {
		s.record(sl.id, sl.entry, EventUndoFailed)
	} else {
		s.record(sl.id, sl.entry, EventUndoFinished)
	}
	s.metrics.observeUndo(sl.entry.Kind(), err)
	return entry, err
}

func (s *Stack) undoActivity(ctx context.Context, e ActivityEntry) error {
	action, err := s.registry.Get(e.Undo)
	if err != nil {
		return err
	}
	if s.undoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.undoTimeout)
		defer cancel()
	}
	s.logger.Debugw("running undo", "process_id", s.id, "undo", e.Undo)
	return action.UndoIt(ctx, e.Args)
}

func (s *Stack) replayNested(ctx context.Context, e NestedEntry) error {
	if s.router == nil {
		return RouteFailed(e.RoutingKey, fmt.Errorf("%w: stack has no router", ErrRouteNotFound))
	}
	s.logger.Debugw("replaying nested compensation", "process_id", s.id, "routing_key", e.RoutingKey, "entries", len(e.Entries))
	return s.router.Replay(ctx, e.RoutingKey, copyEntries(e.Entries))
}
