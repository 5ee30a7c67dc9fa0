package agent

import (
	"container/list"
	"sync"

	"github.com/coral-mesh/coral-trace/internal/operation"
)

// Handle identifies a registered operation. Handles are never reused, so a
// background task holding the handle of a removed operation finds nothing
// rather than a newer operation.
type Handle uint64

// Entry is a registered operation with its handle.
type Entry struct {
	Handle    Handle
	Operation *operation.Operation
}

// Registry holds the in-flight operations in start order.
type Registry struct {
	mu      sync.RWMutex
	order   *list.List
	entries map[Handle]*list.Element
	next    Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		order:   list.New(),
		entries: make(map[Handle]*list.Element),
	}
}

// Add appends op. Operations must be added in start order.
func (r *Registry) Add(op *operation.Operation) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.entries[h] = r.order.PushBack(Entry{Handle: h, Operation: op})
	return h
}

// Remove deletes the operation registered under h. It reports whether it
// was present.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.entries[h]
	if !ok {
		return false
	}
	r.order.Remove(el)
	delete(r.entries, h)
	return true
}

// Lookup returns the operation registered under h.
func (r *Registry) Lookup(h Handle) (*operation.Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	el, ok := r.entries[h]
	if !ok {
		return nil, false
	}
	return el.Value.(Entry).Operation, true
}

// Find returns the operation with the given id.
func (r *Registry) Find(id string) (*operation.Operation, bool) {
	if id == "" {
		return nil, false
	}
	var found *operation.Operation
	r.Scan(func(_ Handle, op *operation.Operation) bool {
		if op.ID() == id {
			found = op
			return false
		}
		return true
	})
	return found, found != nil
}

// Scan calls fn for each operation, oldest first, until fn returns false.
// fn must not add or remove operations.
func (r *Registry) Scan(fn func(Handle, *operation.Operation) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for el := r.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(Entry)
		if !fn(e.Handle, e.Operation) {
			return
		}
	}
}

// Snapshot returns the registered operations, oldest first.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Entry))
	}
	return out
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order.Len()
}
