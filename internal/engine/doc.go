// Package engine dispatches remote updates to the in-memory object graph.
//
// Every write to the store appends a row to the change feed. The engine
// reads the feed after its cursor, drops rows written through its own store
// handle, and hands the rest to the handler registered for the row's
// collection. Handlers refresh the live instances (Directory.Update and
// friends), so a record edited on another device shows up in this device's
// derived values.
//
// Single-Writer Loop:
// Run owns the cursor and calls handlers from one goroutine, in feed order.
// Handlers never race each other, and a change is applied at most once per
// engine. A failing handler is logged and the loop moves on.
//
// Sync is a barrier for callers that need the feed drained before they
// continue (tests, the scenario harness, one-shot CLI commands).
package engine
