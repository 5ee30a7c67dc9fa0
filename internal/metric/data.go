// Package metric aggregates per-operation summary timings keyed by name.
package metric

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Item is a point-in-time view of one aggregated key.
type Item struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Total int64  `json:"total_ns"`
	Min   int64  `json:"min_ns"`
	Max   int64  `json:"max_ns"`
}

// Average returns Total/Count using integer division.
// Callers must not call it on an item with a zero count.
func (i Item) Average() int64 {
	return i.Total / i.Count
}

type item struct {
	count atomic.Int64
	total atomic.Int64
	min   atomic.Int64
	max   atomic.Int64
}

func newItem() *item {
	it := &item{}
	it.min.Store(math.MaxInt64)
	it.max.Store(math.MinInt64)
	return it
}

func (it *item) record(nanos int64) {
	it.count.Add(1)
	it.total.Add(nanos)
	for {
		cur := it.min.Load()
		if nanos >= cur || it.min.CompareAndSwap(cur, nanos) {
			break
		}
	}
	for {
		cur := it.max.Load()
		if nanos <= cur || it.max.CompareAndSwap(cur, nanos) {
			break
		}
	}
}

// Data is a keyed set of timing aggregates. Record is lock-free and may be
// called from any goroutine while other goroutines read Items.
type Data struct {
	items sync.Map // string -> *item
}

// New creates an empty Data.
func New() *Data {
	return &Data{}
}

// Record adds one timing in nanoseconds under key.
func (d *Data) Record(key string, nanos int64) {
	v, ok := d.items.Load(key)
	if !ok {
		v, _ = d.items.LoadOrStore(key, newItem())
	}
	v.(*item).record(nanos)
}

// Get returns the aggregate for key.
func (d *Data) Get(key string) (Item, bool) {
	v, ok := d.items.Load(key)
	if !ok {
		return Item{}, false
	}
	return snapshot(key, v.(*item)), true
}

// Items returns all aggregates ordered by descending total, then name.
func (d *Data) Items() []Item {
	var out []Item
	d.items.Range(func(k, v any) bool {
		out = append(out, snapshot(k.(string), v.(*item)))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func snapshot(name string, it *item) Item {
	return Item{
		Name:  name,
		Count: it.count.Load(),
		Total: it.total.Load(),
		Min:   it.min.Load(),
		Max:   it.max.Load(),
	}
}
