package tracked

import "sync"

// observer is a node that can be told its inputs changed.
type observer interface {
	invalidate()
}

// source is a node that can be read under a Scope.
type source interface {
	unobserve(o observer)
}

// Scope records the dependencies read by one evaluation of a Computed.
// A Scope belongs to a single evaluation and must not be retained.
type Scope struct {
	owner observer
	deps  []source
}

func (s *Scope) add(src source) {
	s.deps = append(s.deps, src)
}

// observers is a set of dependents guarded by its owner's mutex.
type observers map[observer]struct{}

// drain empties the set and returns what it held.
func (o *observers) drain() []observer {
	if len(*o) == 0 {
		return nil
	}
	out := make([]observer, 0, len(*o))
	for obs := range *o {
		out = append(out, obs)
	}
	*o = make(observers)
	return out
}

func notify(list []observer) {
	for _, o := range list {
		o.invalidate()
	}
}

// Cell is a mutable value whose reads are tracked.
type Cell[T any] struct {
	mu        sync.Mutex
	value     T
	observers observers
}

// NewCell returns a cell holding v.
func NewCell[T any](v T) *Cell[T] {
	return &Cell[T]{value: v, observers: make(observers)}
}

// Get returns the current value and, when s is non-nil, records the read.
func (c *Cell[T]) Get(s *Scope) T {
	c.mu.Lock()
	v := c.value
	if s != nil {
		c.observers[s.owner] = struct{}{}
	}
	c.mu.Unlock()
	if s != nil {
		s.add(c)
	}
	return v
}

// Set stores v and invalidates every observer.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	obs := c.observers.drain()
	c.mu.Unlock()
	notify(obs)
}

// Update replaces the value with fn(current) atomically with respect to
// other writers of this cell.
func (c *Cell[T]) Update(fn func(T) T) {
	c.mu.Lock()
	c.value = fn(c.value)
	obs := c.observers.drain()
	c.mu.Unlock()
	notify(obs)
}

func (c *Cell[T]) unobserve(o observer) {
	c.mu.Lock()
	delete(c.observers, o)
	c.mu.Unlock()
}

// Computed is a lazily derived value.
type Computed[T any] struct {
	fn func(*Scope) T

	mu        sync.Mutex
	value     T
	valid     bool
	epoch     uint64
	deps      []source
	observers observers
}

// NewComputed returns a derivation of fn. fn must read its inputs through
// the Scope it is given; it runs on first Get and after any invalidation.
func NewComputed[T any](fn func(*Scope) T) *Computed[T] {
	return &Computed[T]{fn: fn, observers: make(observers)}
}

// Get returns the derived value, recomputing it if an input changed since
// the last evaluation.
func (c *Computed[T]) Get(s *Scope) T {
	c.mu.Lock()
	if s != nil {
		c.observers[s.owner] = struct{}{}
	}
	if c.valid {
		v := c.value
		c.mu.Unlock()
		if s != nil {
			s.add(c)
		}
		return v
	}
	epoch := c.epoch
	stale := c.deps
	c.deps = nil
	c.mu.Unlock()

	for _, d := range stale {
		d.unobserve(c)
	}

	scope := &Scope{owner: c}
	v := c.fn(scope)

	c.mu.Lock()
	c.deps = append(c.deps, scope.deps...)
	// An input written while fn ran bumped the epoch; leave the result
	// uncached so the next Get sees the write.
	if c.epoch == epoch {
		c.value = v
		c.valid = true
	}
	c.mu.Unlock()

	if s != nil {
		s.add(c)
	}
	return v
}

func (c *Computed[T]) invalidate() {
	c.mu.Lock()
	c.epoch++
	c.valid = false
	obs := c.observers.drain()
	c.mu.Unlock()
	notify(obs)
}

func (c *Computed[T]) unobserve(o observer) {
	c.mu.Lock()
	delete(c.observers, o)
	c.mu.Unlock()
}
