package tracked

import (
	"iter"
	"sync"
)

type entry[V any] struct {
	value V
	live  bool
}

type slot[V any] struct {
	cell     *Cell[entry[V]]
	assigned bool
}

// Collection is a tracked map that remembers first-assignment order.
//
// Every key that is ever set keeps its cell for the life of the collection;
// Delete writes a tombstone into that cell instead of removing it. Size
// counts every key ever assigned, tombstoned or not.
type Collection[K comparable, V any] struct {
	mu      sync.Mutex
	slots   map[K]*slot[V]
	order   []K
	version uint64
	shape   *Cell[uint64]
}

// NewCollection returns an empty collection.
func NewCollection[K comparable, V any]() *Collection[K, V] {
	return &Collection[K, V]{
		slots: make(map[K]*slot[V]),
		shape: NewCell[uint64](0),
	}
}

// cell returns the slot cell for k. With create set, a missing key gets an
// unassigned cell so a tracked reader is reached by a later Set.
func (c *Collection[K, V]) cell(k K, create bool) *Cell[entry[V]] {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.slots[k]
	if !ok {
		if !create {
			return nil
		}
		sl = &slot[V]{cell: NewCell(entry[V]{})}
		c.slots[k] = sl
	}
	return sl.cell
}

func (c *Collection[K, V]) bump() {
	c.mu.Lock()
	c.version++
	v := c.version
	c.mu.Unlock()
	c.shape.Set(v)
}

// Size returns the number of keys ever assigned, tombstones included.
func (c *Collection[K, V]) Size(s *Scope) int {
	c.shape.Get(s)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Has reports whether k holds a live value.
func (c *Collection[K, V]) Has(s *Scope, k K) bool {
	_, ok := c.Get(s, k)
	return ok
}

// Get returns the value at k. The boolean is false for keys never set and
// for tombstoned keys.
func (c *Collection[K, V]) Get(s *Scope, k K) (V, bool) {
	cell := c.cell(k, s != nil)
	if cell == nil {
		var zero V
		return zero, false
	}
	e := cell.Get(s)
	return e.value, e.live
}

// Set assigns v to k, reviving k if it was tombstoned.
func (c *Collection[K, V]) Set(k K, v V) {
	c.mu.Lock()
	sl, ok := c.slots[k]
	if !ok {
		sl = &slot[V]{cell: NewCell(entry[V]{})}
		c.slots[k] = sl
	}
	if !sl.assigned {
		sl.assigned = true
		c.order = append(c.order, k)
	}
	c.mu.Unlock()

	sl.cell.Set(entry[V]{value: v, live: true})
	c.bump()
}

// Delete tombstones k. It reports whether k was live.
func (c *Collection[K, V]) Delete(k K) bool {
	c.mu.Lock()
	sl, ok := c.slots[k]
	c.mu.Unlock()
	if !ok || !sl.cell.Get(nil).live {
		return false
	}
	sl.cell.Set(entry[V]{})
	c.bump()
	return true
}

// All iterates live entries in first-assignment order.
func (c *Collection[K, V]) All(s *Scope) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		c.shape.Get(s)
		c.mu.Lock()
		keys := make([]K, len(c.order))
		copy(keys, c.order)
		cells := make([]*Cell[entry[V]], len(keys))
		for i, k := range keys {
			cells[i] = c.slots[k].cell
		}
		c.mu.Unlock()

		for i, k := range keys {
			e := cells[i].Get(s)
			if !e.live {
				continue
			}
			if !yield(k, e.value) {
				return
			}
		}
	}
}

// ForEach calls fn for each live entry. The index counts live entries only.
func (c *Collection[K, V]) ForEach(s *Scope, fn func(v V, k K, i int)) {
	i := 0
	for k, v := range c.All(s) {
		fn(v, k, i)
		i++
	}
}

// Keys returns the live keys in order.
func (c *Collection[K, V]) Keys(s *Scope) []K {
	var out []K
	for k := range c.All(s) {
		out = append(out, k)
	}
	return out
}

// Values returns the live values in order.
func (c *Collection[K, V]) Values(s *Scope) []V {
	var out []V
	for _, v := range c.All(s) {
		out = append(out, v)
	}
	return out
}

// Map applies fn to each live entry of c in order.
func Map[K comparable, V, R any](s *Scope, c *Collection[K, V], fn func(v V, k K, i int) R) []R {
	out := make([]R, 0)
	c.ForEach(s, func(v V, k K, i int) {
		out = append(out, fn(v, k, i))
	})
	return out
}
