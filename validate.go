package sagastack

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fortressi/sagastack/set"
)

// ValidateEntries checks entries before they are adopted by a stack. Activity
// entries must name an undo action registered in registry; nested entries
// must carry a routing key. Nested entry lists are not resolved here: they are
// checked by the execution context that replays them.
func ValidateEntries(registry *UndoRegistry, entries []Entry) error {
	var missing set.Set[ActionName]
	for i, e := range entries {
		switch e := e.(type) {
		case ActivityEntry:
			if e.Undo == "" {
				return fmt.Errorf("%w: entry %d has no undo action", ErrInvalidEntry, i)
			}
			if missing.Contains(e.Undo) {
				continue
			}
			if _, err := registry.Get(e.Undo); err != nil {
				missing.Insert(e.Undo)
			}
		case NestedEntry:
			if e.RoutingKey == "" {
				return fmt.Errorf("%w: nested entry %d has no routing key", ErrInvalidEntry, i)
			}
		case nil:
			return fmt.Errorf("%w: entry %d is nil", ErrInvalidEntry, i)
		default:
			return fmt.Errorf("%w: entry %d has unsupported type %T", ErrInvalidEntry, i, e)
		}
	}

	if missing.Len() == 0 {
		return nil
	}
	names := make([]string, 0, missing.Len())
	for _, name := range missing.Values() {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return fmt.Errorf("%w: %s", ErrUndoNotFound, strings.Join(names, ", "))
}
