package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/mutual/internal/store"
)

// Handler applies one remote change. It runs on the engine's loop
// goroutine; handlers for the same engine never run concurrently.
type Handler func(ctx context.Context, c store.Change) error

// DefaultPollInterval is how often Run re-reads the feed when nothing wakes it.
const DefaultPollInterval = 2 * time.Second

// DefaultBatchSize caps the rows read from the feed per query.
const DefaultBatchSize = 256

// Engine is the single-writer update dispatcher.
//
// Thread-safety model:
//   - Handle(): call before Run; registration is guarded but handlers added
//     mid-run only see later changes
//   - Enqueue(), Sync(), Stop(): safe from any goroutine
//   - Run(), Poll(): exactly one goroutine at a time
type Engine struct {
	store    *store.Store
	cursor   *Cursor
	queue    *eventQueue
	logger   *slog.Logger
	interval time.Duration
	batch    int
	wake     []<-chan struct{}

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures an Engine.
type Option func(*Engine)

// WithCursor starts the engine at a specific feed position instead of the
// feed's current end.
func WithCursor(seq int64) Option {
	return func(e *Engine) {
		e.cursor = NewCursor(seq)
	}
}

// WithPollInterval sets the fallback poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithBatchSize caps the rows fetched per feed query.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batch = n
		}
	}
}

// WithWake adds a channel whose signals make Run read the feed immediately.
// Pass another store handle's Subscribe channel to react to its writes
// without waiting for the poll interval.
func WithWake(ch <-chan struct{}) Option {
	return func(e *Engine) {
		e.wake = append(e.wake, ch)
	}
}

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine reading s's change feed. Unless WithCursor is
// given, the cursor starts at the feed's current end: state already in the
// store is loaded by fetching, not by replaying the feed.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    s,
		queue:    newEventQueue(),
		logger:   slog.Default(),
		interval: DefaultPollInterval,
		batch:    DefaultBatchSize,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cursor == nil {
		last, err := s.LastSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine cursor: %w", err)
		}
		e.cursor = NewCursor(last)
	}
	return e, nil
}

// Handle registers h for changes to the named collection, replacing any
// earlier handler.
func (e *Engine) Handle(collection string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[collection] = h
}

// Cursor returns the engine's feed position.
func (e *Engine) Cursor() int64 {
	return e.cursor.Current()
}

// Enqueue submits a change for dispatch by the Run loop, bypassing the
// feed. The origin filter still applies.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(c store.Change) bool {
	return e.queue.Enqueue(Event{Type: EventTypeChange, Change: c})
}

// Sync blocks until the Run loop has drained the feed up to its current
// end and applied everything queued before the call.
func (e *Engine) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(Event{Type: EventTypeBarrier, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		if e.queue.isClosed() {
			return ErrStopped
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the single-writer loop. Blocks until ctx is cancelled or Stop
// is called.
//
// On handler failure the error is logged with the change's details and the
// loop continues; the cursor has already passed the change, so a failed
// change is not retried.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "origin", e.store.Origin(), "cursor", e.cursor.Current())

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wake := mergeWake(wctx, e.wake)

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.processEvent(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "reason", "context cancelled")
			e.queue.Close()
			return ctx.Err()
		case _, ok := <-e.queue.Wait():
			if !ok {
				e.logger.Info("engine stopping", "reason", "stopped")
				return nil
			}
		case <-wake:
			e.poll(ctx)
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

// Stop closes the queue; Run returns once it notices.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Poll reads and dispatches every pending feed row on the caller's
// goroutine. For one-shot use without Run; never call it while Run is
// active. Returns the number of changes dispatched.
func (e *Engine) Poll(ctx context.Context) (int, error) {
	n := 0
	for {
		changes, err := e.store.Changes(ctx, e.cursor.Current(), e.batch)
		if err != nil {
			return n, &DispatchError{Code: ErrCodeFeedFailed, Err: err}
		}
		if len(changes) == 0 {
			return n, nil
		}
		for _, c := range changes {
			e.cursor.Advance(c.Seq)
			if e.dispatch(ctx, c) {
				n++
			}
		}
	}
}

func (e *Engine) poll(ctx context.Context) {
	if _, err := e.Poll(ctx); err != nil {
		e.logger.Error("change feed read failed", "error", err, "cursor", e.cursor.Current())
	}
}

func (e *Engine) processEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventTypeChange:
		e.cursor.Advance(ev.Change.Seq)
		e.dispatch(ctx, ev.Change)
	case EventTypeBarrier:
		e.poll(ctx)
		close(ev.done)
	default:
		e.logger.Warn("unknown event type", "type", ev.Type)
	}
}

// dispatch hands c to its collection's handler. Returns false for changes
// that were skipped (own origin or no handler).
func (e *Engine) dispatch(ctx context.Context, c store.Change) bool {
	if c.Origin == e.store.Origin() {
		return false
	}

	e.mu.RLock()
	h, ok := e.handlers[c.Collection]
	e.mu.RUnlock()
	if !ok {
		e.logger.Debug("no handler for change", "collection", c.Collection, "seq", c.Seq)
		return false
	}

	if err := h(ctx, c); err != nil {
		derr := &DispatchError{Code: ErrCodeHandlerFailed, Change: c, Err: err}
		e.logger.Error("change handler failed",
			"error", derr,
			"seq", c.Seq,
			"collection", c.Collection,
			"tag", c.Tag,
			"op", c.Op,
			"origin", c.Origin,
		)
		return true
	}
	e.logger.Debug("change applied", "seq", c.Seq, "collection", c.Collection, "tag", c.Tag, "op", c.Op)
	return true
}

// mergeWake fans the wake channels into one, coalescing signals.
func mergeWake(ctx context.Context, chans []<-chan struct{}) <-chan struct{} {
	out := make(chan struct{}, 1)
	for _, ch := range chans {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- struct{}{}:
					default:
					}
				}
			}
		}()
	}
	return out
}
