// Package flushlist implements the append-only event log behind operation
// traces: one goroutine appends while any other goroutine may iterate or
// flush, and neither side ever blocks the writer.
package flushlist

import (
	"iter"
	"sync/atomic"
)

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Terminatable is a lock-free singly-linked list that can be permanently
// closed to further appends. Appends use a Michael-Scott style enqueue: link
// the new node onto the last node with a CAS, then swing the tail.
// Termination links a list-private sentinel in the same way, so an append
// racing a termination either lands before the sentinel or fails.
type Terminatable[T any] struct {
	head     *node[T]
	tail     atomic.Pointer[node[T]]
	terminal *node[T]
}

// NewTerminatable creates an empty open list.
func NewTerminatable[T any]() *Terminatable[T] {
	h := &node[T]{}
	l := &Terminatable[T]{head: h, terminal: &node[T]{}}
	l.tail.Store(h)
	return l
}

// Add appends v. It returns false if the list has been terminated.
func (l *Terminatable[T]) Add(v T) bool {
	n := &node[T]{value: v}
	for {
		t := l.tail.Load()
		next := t.next.Load()
		if next == l.terminal {
			return false
		}
		if next != nil {
			// Tail is lagging behind; help it along.
			l.tail.CompareAndSwap(t, next)
			continue
		}
		if t.next.CompareAndSwap(nil, n) {
			l.tail.CompareAndSwap(t, n)
			return true
		}
	}
}

// Terminate closes the list. It returns false if it was already terminated.
func (l *Terminatable[T]) Terminate() bool {
	for {
		t := l.tail.Load()
		next := t.next.Load()
		if next == l.terminal {
			return false
		}
		if next != nil {
			l.tail.CompareAndSwap(t, next)
			continue
		}
		if t.next.CompareAndSwap(nil, l.terminal) {
			return true
		}
	}
}

// All iterates the elements in append order. Iteration is weakly
// consistent: elements appended during iteration may or may not be seen.
func (l *Terminatable[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for n := l.head.next.Load(); n != nil && n != l.terminal; n = n.next.Load() {
			if !yield(n.value) {
				return
			}
		}
	}
}

// Last returns up to n of the most recently appended elements, oldest first.
func (l *Terminatable[T]) Last(n int) []T {
	if n <= 0 {
		return nil
	}
	ring := make([]T, 0, n)
	start := 0
	for v := range l.All() {
		if len(ring) < n {
			ring = append(ring, v)
			continue
		}
		ring[start] = v
		start = (start + 1) % n
	}
	out := make([]T, 0, len(ring))
	out = append(out, ring[start:]...)
	return append(out, ring[:start]...)
}

// Len counts the elements currently visible.
func (l *Terminatable[T]) Len() int {
	n := 0
	for range l.All() {
		n++
	}
	return n
}
