package persist

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/tracked"
)

// Entity is anything built around a Record.
type Entity interface {
	Record() *Record
}

// Directory holds the single live instance of each tag of one kind.
// Listings read through a tracked collection, so a derivation over the
// directory recomputes when instances are added or destroyed.
type Directory[T Entity] struct {
	kind   ir.KindSpec
	stores Stores
	build  func(*Record) T
	logger *slog.Logger

	items  *tracked.Collection[string, T]
	flight singleflight.Group
}

// NewDirectory creates an empty directory. build wraps a record in the
// entity type; it must not do I/O.
func NewDirectory[T Entity](kind ir.KindSpec, stores Stores, build func(*Record) T, logger *slog.Logger) *Directory[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory[T]{
		kind:   kind,
		stores: stores,
		build:  build,
		logger: logger,
		items:  tracked.NewCollection[string, T](),
	}
}

// Kind returns the directory's kind declaration.
func (d *Directory[T]) Kind() ir.KindSpec { return d.kind }

// Stores returns the collections backing the kind.
func (d *Directory[T]) Stores() Stores { return d.stores }

// Lookup returns the live instance for tag without touching the store.
func (d *Directory[T]) Lookup(s *tracked.Scope, tag string) (T, bool) {
	return d.items.Get(s, tag)
}

// All lists live instances in registration order.
func (d *Directory[T]) All(s *tracked.Scope) []T {
	return d.items.Values(s)
}

// Fetch returns the live instance for tag, loading it on a miss.
// Concurrent misses for one tag share a single load and all receive the
// same instance.
func (d *Directory[T]) Fetch(ctx context.Context, tag string, opts Options) (T, error) {
	if v, ok := d.items.Get(nil, tag); ok {
		return v, nil
	}
	if tag == "" {
		var zero T
		return zero, InvalidArgument("fetch", "", "%s: tag is required", d.kind.Name)
	}

	res, err, _ := d.flight.Do(tag, func() (any, error) {
		if v, ok := d.items.Get(nil, tag); ok {
			return v, nil
		}
		if opts.Logger == nil {
			opts.Logger = d.logger
		}
		rec, err := Fetch(ctx, d.kind, d.stores, tag, opts)
		if err != nil {
			return nil, err
		}
		v := d.build(rec)
		d.items.Set(tag, v)
		d.logger.Debug("instance loaded", "kind", d.kind.Name, "tag", tag)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// New builds a fresh instance for tag and registers it. An instance
// already registered under tag is replaced.
func (d *Directory[T]) New(tag string, opts Options) T {
	if opts.Logger == nil {
		opts.Logger = d.logger
	}
	v := d.build(NewRecord(d.kind, d.stores, tag, opts))
	d.items.Set(tag, v)
	return v
}

// Register adds an instance built elsewhere, keyed by its current tag.
func (d *Directory[T]) Register(v T) {
	d.items.Set(v.Record().Tag(), v)
}

// Evict drops tag from the directory. Returns false if it was not there.
func (d *Directory[T]) Evict(tag string) bool {
	return d.items.Delete(tag)
}

// Destroy removes v from the stores and then from the directory.
func (d *Directory[T]) Destroy(ctx context.Context, v T, author string) error {
	rec := v.Record()
	if err := rec.Destroy(ctx, author); err != nil {
		return err
	}
	d.items.Delete(rec.Tag())
	d.logger.Debug("instance destroyed", "kind", d.kind.Name, "tag", rec.Tag())
	return nil
}

// Update applies a verified public record to the live instance, loading
// the instance first if needed. Nothing is signed or written.
func (d *Directory[T]) Update(ctx context.Context, v *collection.Verified) (T, error) {
	tag := v.Protected.Tag
	inst, err := d.Fetch(ctx, tag, Options{})
	if err != nil {
		return inst, err
	}
	inst.Record().Apply(v)
	return inst, nil
}

// UpdatePrivate applies a verified private record if the instance is live
// and owned here. Returns whether it applied.
func (d *Directory[T]) UpdatePrivate(v *collection.Verified) bool {
	inst, ok := d.items.Get(nil, v.Protected.Tag)
	if !ok {
		return false
	}
	p := inst.Record().Private()
	if p == nil {
		return false
	}
	return p.Apply(v)
}

// Refetch discards the live instance for v's tag and loads a new one from
// the stores. With readopt set the new instance adopts the ownership tags
// the old one held.
func (d *Directory[T]) Refetch(ctx context.Context, v T, readopt bool) (T, error) {
	old := v.Record()
	tag := old.Tag()
	var owners []string
	if p := old.Private(); p != nil && readopt {
		owners = p.Owners(nil)
	}

	d.items.Delete(tag)
	fresh, err := d.Fetch(ctx, tag, Options{PrivateOnly: old.Verified() == PrivateOnly})
	if err != nil {
		return fresh, err
	}
	if p := fresh.Record().Private(); p != nil {
		for _, o := range owners {
			if err := p.AdoptByTag(ctx, o); err != nil {
				return fresh, err
			}
		}
	}
	return fresh, nil
}
