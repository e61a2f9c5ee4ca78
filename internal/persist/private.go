package persist

import (
	"context"
	"sync"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/tracked"
)

// Private is the encrypted half of a split record. Its fields hold real
// data only while at least one ownership tag is adopted; otherwise they sit
// at their declared defaults.
type Private struct {
	rec    *Record
	fields map[string]*tracked.Cell[ir.IRValue]
	owners *tracked.Collection[string, struct{}]

	// mu serializes adopt and abandon so the 0->1 and 1->0 transitions run
	// once each.
	mu    sync.Mutex
	count int
}

func newPrivate(r *Record) *Private {
	return &Private{
		rec:    r,
		fields: newCells(r.kind.Private),
		owners: tracked.NewCollection[string, struct{}](),
	}
}

// Owned reports whether any ownership tag is held.
func (p *Private) Owned(s *tracked.Scope) bool {
	return len(p.owners.Keys(s)) > 0
}

// OwnedBy reports whether tag is one of the ownership tags.
func (p *Private) OwnedBy(s *tracked.Scope, tag string) bool {
	return p.owners.Has(s, tag)
}

// Owners lists the ownership tags in adoption order.
func (p *Private) Owners(s *tracked.Scope) []string {
	return p.owners.Keys(s)
}

// AdoptByTag adds an ownership tag. The first tag loads the private record;
// a missing or undecryptable record leaves the defaults in place. Adopting
// a tag that is already held does nothing.
func (p *Private) AdoptByTag(ctx context.Context, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.owners.Has(nil, tag) {
		return nil
	}
	if p.count == 0 {
		v, err := p.rec.stores.Private.Retrieve(ctx, collection.RetrieveOptions{Tag: p.rec.Tag()})
		if err != nil {
			return classify("adopt", p.rec.Tag(), err)
		}
		if v != nil && v.Decrypted {
			assignFrom(p.rec.kind.Private, p.fields, v.JSON)
		}
	}
	p.owners.Set(tag, struct{}{})
	p.count++
	return nil
}

// AbandonByTag drops an ownership tag. Dropping the last one resets the
// private fields to their defaults in memory; the store is untouched.
// Abandoning a tag that is not held does nothing.
func (p *Private) AbandonByTag(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.owners.Delete(tag) {
		return
	}
	p.count--
	if p.count == 0 {
		for _, prop := range p.rec.kind.Private {
			p.fields[prop.Name].Set(prop.Zero())
		}
	}
}

// Payload collects the private properties in declared order, dropping
// falsy values.
func (p *Private) Payload() ir.IRObject {
	return collect(p.rec.kind.Private, p.fields)
}

// Apply overwrites the private fields from a verified private record. It
// only takes effect while the half is owned and the record was decrypted;
// returns whether it applied.
func (p *Private) Apply(v *collection.Verified) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 || !v.Decrypted {
		return false
	}
	assignFrom(p.rec.kind.Private, p.fields, v.JSON)
	return true
}
