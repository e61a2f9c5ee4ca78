package persist

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/tracked"
)

// PrivateOnly marks a record that intentionally has no public record.
// Persist skips the public write for it.
var PrivateOnly = &collection.Verified{}

// Stores are the collections backing one kind. Private is set only for
// split kinds.
type Stores struct {
	Public  collection.Store
	Private collection.Store
}

// Options configures a new Record.
type Options struct {
	// Owner signs for the record. Defaults to the record's tag.
	Owner string
	// PrivateOnly suppresses the public half of a split record.
	PrivateOnly bool
	Logger      *slog.Logger
}

// Record is the persisted state of one entity.
type Record struct {
	kind   ir.KindSpec
	stores Stores
	logger *slog.Logger

	mu       sync.RWMutex
	tag      string
	owner    string
	verified *collection.Verified

	fields  map[string]*tracked.Cell[ir.IRValue]
	private *Private
}

// NewRecord builds a record at its declared defaults. Nothing is written.
func NewRecord(kind ir.KindSpec, stores Stores, tag string, opts Options) *Record {
	r := &Record{
		kind:   kind,
		stores: stores,
		logger: opts.Logger,
		tag:    tag,
		owner:  opts.Owner,
		fields: newCells(kind.Public),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if kind.HasPrivate() {
		r.private = newPrivate(r)
	}
	if opts.PrivateOnly {
		r.verified = PrivateOnly
	}
	return r
}

func newCells(props []ir.PropertySpec) map[string]*tracked.Cell[ir.IRValue] {
	cells := make(map[string]*tracked.Cell[ir.IRValue], len(props))
	for _, p := range props {
		cells[p.Name] = tracked.NewCell(p.Zero())
	}
	return cells
}

// Fetch reads tag from the kind's stores without a membership check, so
// records stay readable for audit after the reader leaves a group.
//
// A missing record is not an error: the result is a bare record with the
// tag and default fields. For split kinds a record with only a private half
// comes back marked PrivateOnly.
func Fetch(ctx context.Context, kind ir.KindSpec, stores Stores, tag string, opts Options) (*Record, error) {
	if tag == "" {
		return nil, InvalidArgument("fetch", "", "%s: tag is required", kind.Name)
	}

	r := NewRecord(kind, stores, tag, Options{Owner: opts.Owner, Logger: opts.Logger})
	v, err := stores.Public.Retrieve(ctx, collection.RetrieveOptions{Tag: tag})
	if err != nil {
		return nil, classify("fetch", tag, err)
	}
	if v != nil {
		r.Apply(v)
		return r, nil
	}

	if opts.PrivateOnly {
		r.verified = PrivateOnly
	} else if stores.Private != nil {
		pv, err := stores.Private.Retrieve(ctx, collection.RetrieveOptions{Tag: tag})
		if err != nil {
			return nil, classify("fetch", tag, err)
		}
		if pv != nil {
			r.verified = PrivateOnly
			r.owner = pv.Protected.Owner
		}
	}
	return r, nil
}

// Kind returns the record's kind declaration.
func (r *Record) Kind() ir.KindSpec { return r.kind }

// Tag returns the record's address.
func (r *Record) Tag() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tag
}

// Retag moves the in-memory record to a new address. Used for history
// entries, which are known by version hash once appended.
func (r *Record) Retag(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tag = tag
}

// Owner returns the tag the record is stored under, defaulting to its own.
func (r *Record) Owner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.owner == "" {
		return r.tag
	}
	return r.owner
}

// SetOwner changes the owner used by later writes.
func (r *Record) SetOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = owner
}

// Verified returns the envelope the record was last loaded from: nil for a
// fresh record, PrivateOnly for one without a public half.
func (r *Record) Verified() *collection.Verified {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verified
}

// Private returns the private half, or nil for kinds without one.
func (r *Record) Private() *Private { return r.private }

// Get reads a public or private property. Unknown names read as null.
func (r *Record) Get(s *tracked.Scope, name string) ir.IRValue {
	if c, ok := r.fields[name]; ok {
		return c.Get(s)
	}
	if r.private != nil {
		if c, ok := r.private.fields[name]; ok {
			return c.Get(s)
		}
	}
	return ir.IRNull{}
}

// Set writes one property in memory. Dependents are invalidated before Set
// returns.
func (r *Record) Set(name string, v ir.IRValue) error {
	return r.Assign(map[string]ir.IRValue{name: v})
}

// Assign writes several properties in memory. Every name and type is
// checked before any cell changes.
func (r *Record) Assign(changes map[string]ir.IRValue) error {
	cells := make(map[string]*tracked.Cell[ir.IRValue], len(changes))
	values := make(map[string]ir.IRValue, len(changes))
	for name, v := range changes {
		prop, cell, ok := r.lookup(name)
		if !ok {
			return InvalidArgument("assign", r.Tag(), "%s has no property %q", r.kind.Name, name)
		}
		if !prop.Type.Accepts(v) {
			return InvalidArgument("assign", r.Tag(), "%s.%s: %T is not %s", r.kind.Name, name, v, prop.Type)
		}
		cells[name] = cell
		if isNull(v) {
			values[name] = prop.Zero()
		} else {
			values[name] = ir.Clone(v)
		}
	}
	for name, cell := range cells {
		cell.Set(values[name])
	}
	return nil
}

func (r *Record) lookup(name string) (ir.PropertySpec, *tracked.Cell[ir.IRValue], bool) {
	if p, ok := r.kind.PublicProperty(name); ok {
		return p, r.fields[name], true
	}
	if r.private != nil {
		if p, ok := r.kind.PrivateProperty(name); ok {
			return p, r.private.fields[name], true
		}
	}
	return ir.PropertySpec{}, nil, false
}

// Payload collects the public properties in declared order, dropping falsy
// values.
func (r *Record) Payload() ir.IRObject {
	return collect(r.kind.Public, r.fields)
}

func collect(props []ir.PropertySpec, cells map[string]*tracked.Cell[ir.IRValue]) ir.IRObject {
	out := ir.IRObject{}
	for _, p := range props {
		v := cells[p.Name].Get(nil)
		if ir.IsFalsy(v) {
			continue
		}
		out[p.Name] = v
	}
	return out
}

// Persist writes the record signed by author and returns the store's
// address. Split records write the private half first; unless the record is
// PrivateOnly the public write must land on the same address.
func (r *Record) Persist(ctx context.Context, author string) (string, error) {
	tag, owner := r.Tag(), r.Owner()
	if tag == "" {
		return "", InvalidArgument("persist", "", "%s: tag is required", r.kind.Name)
	}
	opts := collection.StoreOptions{Tag: tag, Owner: owner, Author: author}

	if r.private == nil {
		addr, err := r.stores.Public.Store(ctx, r.Payload(), opts)
		if err != nil {
			return "", classify("persist", tag, err)
		}
		return addr, nil
	}

	if !r.private.Owned(nil) {
		return "", Unauthorized("persist", tag, ErrNotOwned)
	}
	privAddr, err := r.stores.Private.Store(ctx, r.private.Payload(), opts)
	if err != nil {
		return "", classify("persist", tag, err)
	}
	if r.Verified() == PrivateOnly {
		return privAddr, nil
	}

	pubAddr, err := r.stores.Public.Store(ctx, r.Payload(), opts)
	if err != nil {
		return "", classify("persist", tag, err)
	}
	if pubAddr != privAddr {
		err := &Error{
			Code: CodeConsistency,
			Op:   "persist",
			Tag:  tag,
			Err:  &addressMismatch{public: pubAddr, private: privAddr},
		}
		r.logger.Error("public and private addresses disagree",
			"kind", r.kind.Name, "tag", tag, "public", pubAddr, "private", privAddr)
		return "", err
	}
	return pubAddr, nil
}

// Edit applies changes in memory, then persists as asUser (the record's own
// tag when empty).
func (r *Record) Edit(ctx context.Context, changes map[string]ir.IRValue, asUser string) (string, error) {
	if err := r.Assign(changes); err != nil {
		return "", err
	}
	if asUser == "" {
		asUser = r.Tag()
	}
	return r.Persist(ctx, asUser)
}

// Destroy removes the record's halves from the stores. The in-memory
// fields are left as they are.
func (r *Record) Destroy(ctx context.Context, author string) error {
	tag := r.Tag()
	opts := collection.RemoveOptions{Tag: tag, Owner: r.Owner(), Author: author}
	if r.private != nil {
		if err := r.stores.Private.Remove(ctx, opts); err != nil {
			return classify("destroy", tag, err)
		}
	}
	if err := r.stores.Public.Remove(ctx, opts); err != nil {
		return classify("destroy", tag, err)
	}
	return nil
}

// Apply overwrites the public fields from an already verified record,
// without signing or writing anything. Declared properties missing from the
// payload return to their defaults. A record this device cannot decrypt
// only updates the envelope.
func (r *Record) Apply(v *collection.Verified) {
	r.mu.Lock()
	r.verified = v
	if v.Protected.Owner != "" && v.Protected.Owner != r.tag {
		r.owner = v.Protected.Owner
	}
	r.mu.Unlock()

	if !v.Decrypted {
		return
	}
	assignFrom(r.kind.Public, r.fields, v.JSON)
}

func assignFrom(props []ir.PropertySpec, cells map[string]*tracked.Cell[ir.IRValue], obj ir.IRObject) {
	for _, p := range props {
		val, ok := obj[p.Name]
		if !ok || isNull(val) || !p.Type.Accepts(val) {
			val = p.Zero()
		}
		cells[p.Name].Set(ir.Clone(val))
	}
}

func isNull(v ir.IRValue) bool {
	switch v.(type) {
	case nil, ir.IRNull:
		return true
	}
	return false
}
