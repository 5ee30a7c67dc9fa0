package flushlist

import (
	"iter"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Indexed is implemented by list elements. Indices must be unique and
// increase in append order.
type Indexed interface {
	Index() int
}

// Options configures a List.
type Options struct {
	// RetainFirst is the number of earliest elements kept permanently and
	// included in every flush.
	RetainFirst int
	// RetainLast is the number of trailing elements carried into the new
	// segment after a flush, so that windowed consumers keep context.
	RetainLast int
}

// DefaultOptions returns the defaults used for operation traces.
func DefaultOptions() Options {
	return Options{RetainFirst: 100, RetainLast: 20}
}

// List is written by exactly one goroutine and may be iterated or flushed
// by any other. Flush terminates the current segment and the writer rolls
// over to a new one seeded with trailing context; the writer never waits on
// a flush.
type List[T Indexed] struct {
	opts Options

	first      *Terminatable[T]
	firstCount int // writer only

	current atomic.Pointer[Terminatable[T]]
	updates atomic.Pointer[Terminatable[T]]
	flushed atomic.Bool

	flushMu sync.Mutex
}

// New creates an empty list.
func New[T Indexed](opts Options) *List[T] {
	if opts.RetainFirst < 0 {
		opts.RetainFirst = 0
	}
	if opts.RetainLast < 0 {
		opts.RetainLast = 0
	}
	l := &List[T]{
		opts:  opts,
		first: NewTerminatable[T](),
	}
	l.current.Store(NewTerminatable[T]())
	l.updates.Store(NewTerminatable[T]())
	return l
}

// Add appends e. Only the owning writer may call Add.
func (l *List[T]) Add(e T) {
	if l.firstCount < l.opts.RetainFirst {
		l.first.Add(e)
		l.firstCount++
	}
	for {
		cur := l.current.Load()
		if cur.Add(e) {
			return
		}
		l.rollover(cur)
	}
}

// JustUpdatedPossiblyFlushedElement records that e, which may already have
// been handed out by a previous Flush, has changed. The next Flush includes e
// if it precedes that flush's own elements; otherwise the update is dropped
// because e is part of the flush anyway.
func (l *List[T]) JustUpdatedPossiblyFlushedElement(e T) {
	if !l.flushed.Load() {
		// Nothing has been handed out yet.
		return
	}
	for {
		u := l.updates.Load()
		if u.Add(e) {
			return
		}
		l.updates.CompareAndSwap(u, NewTerminatable[T]())
	}
}

// rollover installs a successor for the terminated segment old. Both the
// writer and a flusher may race to do this; old is immutable by then so
// both compute the same seed and only one CAS wins.
func (l *List[T]) rollover(old *Terminatable[T]) {
	next := NewTerminatable[T]()
	for _, v := range old.Last(l.opts.RetainLast) {
		next.Add(v)
	}
	l.current.CompareAndSwap(old, next)
}

// Snapshot is the result of a Flush.
type Snapshot[T Indexed] struct {
	prior    []T
	segment  *Terminatable[T]
	firstIdx int
}

// All yields the retained first elements and updated prior elements that
// precede the flushed segment, in index order, followed by the segment.
func (s *Snapshot[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s.prior {
			if !yield(v) {
				return
			}
		}
		for v := range s.segment.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// FirstIndex is the index of the first element of the flushed segment, or
// math.MaxInt if the segment was empty.
func (s *Snapshot[T]) FirstIndex() int {
	return s.firstIdx
}

// Slice materialises the snapshot.
func (s *Snapshot[T]) Slice() []T {
	var out []T
	for v := range s.All() {
		out = append(out, v)
	}
	return out
}

// Flush terminates the current segment and returns everything written up to
// the termination point, stitched with retained first elements and updates
// to previously flushed elements. Concurrent flushes are serialised.
func (l *List[T]) Flush() *Snapshot[T] {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	// Must be visible before the segment is terminated so that any update
	// the writer skips happened before the termination.
	l.flushed.Store(true)

	seg := l.current.Load()
	seg.Terminate()
	l.rollover(seg)

	upd := l.updates.Load()
	upd.Terminate()
	l.updates.CompareAndSwap(upd, NewTerminatable[T]())

	firstIdx := math.MaxInt
	for v := range seg.All() {
		firstIdx = v.Index()
		break
	}

	return &Snapshot[T]{
		prior:    priorElements(firstIdx, l.first.All(), upd.All()),
		segment:  seg,
		firstIdx: firstIdx,
	}
}

// All returns a live, weakly consistent view of the retained first elements
// and the current segment without flushing.
func (l *List[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		cur := l.current.Load()
		firstIdx := math.MaxInt
		for v := range cur.All() {
			firstIdx = v.Index()
			break
		}
		for v := range l.first.All() {
			if v.Index() >= firstIdx {
				break
			}
			if !yield(v) {
				return
			}
		}
		for v := range cur.All() {
			if !yield(v) {
				return
			}
		}
	}
}

func priorElements[T Indexed](firstIdx int, sources ...iter.Seq[T]) []T {
	byIndex := make(map[int]T)
	for _, src := range sources {
		for v := range src {
			if v.Index() < firstIdx {
				byIndex[v.Index()] = v
			}
		}
	}
	out := make([]T, 0, len(byIndex))
	for _, v := range byIndex {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}
