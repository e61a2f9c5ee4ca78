// Package tracked is a small explicit signal graph.
//
// A Cell holds a value. A Computed derives a value from cells and other
// computeds, reading them through the Scope it is handed; each read records
// a dependency edge. Writing a Cell marks every dependent invalid, and an
// invalid Computed recomputes lazily on its next Get. Reads made with a nil
// Scope are untracked.
//
// Collection builds a keyed, order-preserving map on top of cells. Deleted
// keys keep their cell and are tombstoned, so a computation that read a key
// before it was deleted still observes a later Set of the same key.
package tracked
