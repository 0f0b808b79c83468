package sagastack

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EntryKind identifies which case of the Entry sum type a value holds.
type EntryKind int

const (
	KindActivity EntryKind = iota
	KindNested
)

// String implements the fmt.Stringer interface for EntryKind.
func (k EntryKind) String() string {
	switch k {
	case KindActivity:
		return "activity"
	case KindNested:
		return "nested"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Entry is one undoable unit on a compensation stack.
//
// There are exactly two kinds of entries:
//
//   - an _activity_ entry (see ActivityEntry), which names an undo action
//     registered in an UndoRegistry and carries the argument to call it with
//   - a _nested_ entry (see NestedEntry), which wraps the exported stack of a
//     nested process together with the routing key of the execution context
//     that ran it
//
// The set of implementations is closed; callers switch on the concrete type.
type Entry interface {
	Kind() EntryKind
	isEntry()
}

// ActivityEntry undoes a single step by invoking a registered undo action.
type ActivityEntry struct {
	Undo ActionName
	Args any
}

func (ActivityEntry) isEntry() {}
func (ActivityEntry) Kind() EntryKind { return KindActivity }

// String implements the fmt.Stringer interface for ActivityEntry.
func (e ActivityEntry) String() string {
	return fmt.Sprintf("activity(%s)", e.Undo)
}

// NestedEntry undoes a nested process by replaying its exported entries on the
// execution context identified by RoutingKey.
type NestedEntry struct {
	RoutingKey string
	Entries    []Entry
}

func (NestedEntry) isEntry() {}
func (NestedEntry) Kind() EntryKind { return KindNested }

// String implements the fmt.Stringer interface for NestedEntry.
func (e NestedEntry) String() string {
	return fmt.Sprintf("nested(%s, %d entries)", e.RoutingKey, len(e.Entries))
}

// copyEntries returns a copy of entries. Nested entry lists are copied
// recursively so the result shares no slices with the input.
func copyEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if nested, ok := e.(NestedEntry); ok {
			nested.Entries = copyEntries(nested.Entries)
			e = nested
		}
		out[i] = e
	}
	return out
}

// entryEnvelope is the tagged wire form of an Entry.
type entryEnvelope struct {
	Kind       string          `json:"kind"`
	Undo       string          `json:"undo,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	RoutingKey string          `json:"routing_key,omitempty"`
	Entries    []entryEnvelope `json:"entries,omitempty"`
}

// MarshalEntries encodes an entry list for transport across a process
// boundary. Entries keep their order.
func MarshalEntries(entries []Entry) ([]byte, error) {
	envs, err := toEnvelopes(entries)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(envs)
	if err != nil {
		return nil, SerializeFailed(err.Error())
	}
	return data, nil
}

// UnmarshalEntries decodes an entry list produced by MarshalEntries. The Args
// of decoded activity entries are json.RawMessage values.
func UnmarshalEntries(data []byte) ([]Entry, error) {
	var envs []entryEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, DeserializeFailed(err.Error())
	}
	return fromEnvelopes(envs)
}

func toEnvelopes(entries []Entry) ([]entryEnvelope, error) {
	envs := make([]entryEnvelope, 0, len(entries))
	for _, e := range entries {
		switch e := e.(type) {
		case ActivityEntry:
			env := entryEnvelope{Kind: KindActivity.String(), Undo: string(e.Undo)}
			if e.Args != nil {
				raw, err := json.Marshal(e.Args)
				if err != nil {
					return nil, SerializeFailed(fmt.Sprintf("args of %s: %v", e.Undo, err))
				}
				env.Args = raw
			}
			envs = append(envs, env)
		case NestedEntry:
			children, err := toEnvelopes(e.Entries)
			if err != nil {
				return nil, err
			}
			envs = append(envs, entryEnvelope{
				Kind:       KindNested.String(),
				RoutingKey: e.RoutingKey,
				Entries:    children,
			})
		default:
			return nil, fmt.Errorf("%w: unsupported entry type %T", ErrInvalidEntry, e)
		}
	}
	return envs, nil
}

func fromEnvelopes(envs []entryEnvelope) ([]Entry, error) {
	entries := make([]Entry, 0, len(envs))
	for _, env := range envs {
		switch env.Kind {
		case KindActivity.String():
			var args any
			if len(env.Args) > 0 {
				args = env.Args
			}
			entries = append(entries, ActivityEntry{Undo: ActionName(env.Undo), Args: args})
		case KindNested.String():
			children, err := fromEnvelopes(env.Entries)
			if err != nil {
				return nil, err
			}
			entries = append(entries, NestedEntry{RoutingKey: env.RoutingKey, Entries: children})
		default:
			return nil, DeserializeFailed(fmt.Sprintf("unknown entry kind %q", env.Kind))
		}
	}
	return entries, nil
}
