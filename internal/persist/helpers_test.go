package persist

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/store"
	"github.com/roach88/mutual/internal/testutil"
)

var profileKind = ir.KindSpec{
	Name:      "Profile",
	Store:     ir.StoreSplit,
	EncryptTo: ir.EncryptSelf,
	Public: []ir.PropertySpec{
		{Name: "title", Type: ir.TypeString},
		{Name: "visits", Type: ir.TypeInt},
		{Name: "labels", Type: ir.TypeList},
	},
	Private: []ir.PropertySpec{
		{Name: "groups", Type: ir.TypeList},
		{Name: "bank", Type: ir.TypeString, Default: ir.IRString("none")},
	},
}

var noteKind = ir.KindSpec{
	Name:      "Note",
	Store:     ir.StoreVersioned,
	EncryptTo: ir.EncryptOwner,
	Public: []ir.PropertySpec{
		{Name: "text", Type: ir.TypeString},
		{Name: "antecedent", Type: ir.TypeString},
	},
}

type fixture struct {
	db     *store.Store
	keys   *credential.Keyring
	clock  *testutil.FakeClock
	device string
	user   string
	group  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := t.Context()
	keys := credential.NewKeyring(db, "laptop", credential.WithScryptWorkFactor(10))
	device, err := keys.Create(ctx, credential.CreateOptions{Kind: store.KeyDevice})
	require.NoError(t, err)
	user, err := keys.Create(ctx, credential.CreateOptions{Kind: store.KeyTeam, Members: []string{device}})
	require.NoError(t, err)
	group, err := keys.Create(ctx, credential.CreateOptions{Kind: store.KeyTeam, Members: []string{user}})
	require.NoError(t, err)

	return &fixture{db: db, keys: keys, clock: testutil.NewFakeClock(time.Time{}), device: device, user: user, group: group}
}

func (f *fixture) profileStores(creds collection.Credentials) Stores {
	if creds == nil {
		creds = f.keys
	}
	return Stores{
		Public:  collection.New(f.db, creds, collection.Options{Name: "profiles", Clock: f.clock}),
		Private: collection.New(f.db, creds, collection.Options{Name: "profiles.private", Encrypted: true, Clock: f.clock}),
	}
}

func (f *fixture) noteStores() Stores {
	return Stores{
		Public: collection.New(f.db, f.keys, collection.Options{
			Name:      "notes",
			Versioned: true,
			EncryptTo: ir.EncryptOwner,
			Clock:     f.clock,
		}),
	}
}

// stranger is a keyring on another device with no path to the fixture's keys.
func (f *fixture) stranger(t *testing.T) *credential.Keyring {
	t.Helper()
	k := credential.NewKeyring(f.db, "stranger")
	_, err := k.Create(t.Context(), credential.CreateOptions{Kind: store.KeyDevice})
	require.NoError(t, err)
	return k
}

// profile is a minimal entity for directory tests.
type profile struct {
	rec *Record
}

func (p *profile) Record() *Record { return p.rec }

func newProfile(r *Record) *profile { return &profile{rec: r} }

// countingStore counts retrieves and can override the store address.
type countingStore struct {
	inner     collection.Store
	retrieves atomic.Int32
	address   string
	delay     time.Duration
}

func (c *countingStore) Retrieve(ctx context.Context, opts collection.RetrieveOptions) (*collection.Verified, error) {
	c.retrieves.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.inner.Retrieve(ctx, opts)
}

func (c *countingStore) Store(ctx context.Context, payload ir.IRObject, opts collection.StoreOptions) (string, error) {
	addr, err := c.inner.Store(ctx, payload, opts)
	if err != nil || c.address == "" {
		return addr, err
	}
	return c.address, nil
}

func (c *countingStore) Name() string { return c.inner.Name() }

func (c *countingStore) Remove(ctx context.Context, opts collection.RemoveOptions) error {
	return c.inner.Remove(ctx, opts)
}

// driftingStore is a versioned store that reports a wrong address.
type driftingStore struct {
	collection.Versioned
}

func (d driftingStore) Store(ctx context.Context, payload ir.IRObject, opts collection.StoreOptions) (string, error) {
	if _, err := d.Versioned.Store(ctx, payload, opts); err != nil {
		return "", err
	}
	return "elsewhere", nil
}
