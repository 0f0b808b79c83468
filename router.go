package sagastack

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/btree"
)

// LocalRouter routes nested compensation to workers in the same process.
// Entries are passed through the wire codec on every replay, as they would
// be when crossing to a remote worker.
type LocalRouter struct {
	mu      sync.RWMutex
	workers *btree.Map[string, *Worker]
}

// NewLocalRouter creates an empty LocalRouter.
func NewLocalRouter() *LocalRouter {
	return &LocalRouter{
		workers: btree.NewMap[string, *Worker](0),
	}
}

// Register makes w reachable under its routing key.
func (r *LocalRouter) Register(w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers.Get(w.RoutingKey()); ok {
		return fmt.Errorf("worker with routing key '%s' already registered", w.RoutingKey())
	}
	r.workers.Set(w.RoutingKey(), w)
	return nil
}

// Deregister removes the worker registered under routingKey.
func (r *LocalRouter) Deregister(routingKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workers.Delete(routingKey)
}

// Worker returns the worker registered under routingKey.
func (r *LocalRouter) Worker(routingKey string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.workers.Get(routingKey)
}

// RoutingKeys returns the registered routing keys in sorted order.
func (r *LocalRouter) RoutingKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.workers.Keys()
}

// Replay implements the Router interface for LocalRouter.
func (r *LocalRouter) Replay(ctx context.Context, routingKey string, entries []Entry) error {
	w, ok := r.Worker(routingKey)
	if !ok {
		return RouteFailed(routingKey, ErrRouteNotFound)
	}

	data, err := MarshalEntries(entries)
	if err != nil {
		return err
	}
	decoded, err := UnmarshalEntries(data)
	if err != nil {
		return err
	}
	return w.ReplayCompensation(ctx, decoded)
}
