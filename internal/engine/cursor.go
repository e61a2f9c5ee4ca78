package engine

import "sync/atomic"

// Cursor is the engine's position in the change feed: the seq of the last
// row it has seen. It only moves forward.
//
// Safe for concurrent reads; the Run loop is the only writer in practice.
type Cursor struct {
	seq atomic.Int64
}

// NewCursor creates a cursor positioned at start.
func NewCursor(start int64) *Cursor {
	c := &Cursor{}
	c.seq.Store(start)
	return c
}

// Current returns the last seen seq.
func (c *Cursor) Current() int64 {
	return c.seq.Load()
}

// Advance moves the cursor to seq if seq is ahead of it. Returns true when
// the cursor moved.
func (c *Cursor) Advance(seq int64) bool {
	for {
		cur := c.seq.Load()
		if seq <= cur {
			return false
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return true
		}
	}
}
