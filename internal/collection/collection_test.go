package collection

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/store"
	"github.com/roach88/mutual/internal/testutil"
)

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

func (f *fixture) collection(opts Options) *Collection {
	opts.Clock = f.clock
	return New(f.db, f.keys, opts)
}

// stranger is a keyring on another device with no path to any key above.
func (f *fixture) stranger(t *testing.T) (*credential.Keyring, string) {
	t.Helper()
	k := credential.NewKeyring(f.db, "stranger")
	tag, err := k.Create(t.Context(), credential.CreateOptions{Kind: store.KeyDevice})
	require.NoError(t, err)
	return k, tag
}

func TestPlainRoundTrip(t *testing.T) {
	f := newFixture(t)
	c := f.collection(Options{Name: "groups"})
	ctx := t.Context()

	addr, err := c.Store(ctx, ir.IRObject{"name": ir.IRString("Book club")}, StoreOptions{Tag: f.group, Author: f.user})
	require.NoError(t, err)
	assert.Equal(t, f.group, addr)

	v, err := c.Retrieve(ctx, RetrieveOptions{Tag: f.group})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.Decrypted)
	assert.Equal(t, ir.IRObject{"name": ir.IRString("Book club")}, v.JSON)
	assert.Equal(t, Protected{
		Author:     f.user,
		Owner:      f.group,
		Tag:        f.group,
		Issued:     testutil.Epoch.UnixMilli(),
		Collection: "groups",
	}, v.Protected)
}

func TestRetrieveAbsent(t *testing.T) {
	f := newFixture(t)
	v, err := f.collection(Options{Name: "groups"}).Retrieve(t.Context(), RetrieveOptions{Tag: f.group})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = f.collection(Options{Name: "groups"}).Retrieve(t.Context(), RetrieveOptions{})
	assert.Error(t, err)
}

func TestStoreRejectsNonMemberAuthor(t *testing.T) {
	f := newFixture(t)
	_, outsider := f.stranger(t)
	c := New(f.db, f.keys, Options{Name: "groups"})

	_, err := c.Store(t.Context(), ir.IRObject{}, StoreOptions{Tag: f.group, Author: outsider})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStoreChecksExistingOwner(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	c := f.collection(Options{Name: "users"})

	_, err := c.Store(ctx, ir.IRObject{"title": ir.IRString("A")}, StoreOptions{Tag: f.user, Author: f.user})
	require.NoError(t, err)

	// a member of the current owner may move the record to itself
	_, err = c.Store(ctx, ir.IRObject{"title": ir.IRString("B")}, StoreOptions{Tag: f.user, Owner: f.device, Author: f.device})
	require.NoError(t, err, "device is a member of the user team")

	_, outsider := f.stranger(t)
	_, err = c.Store(ctx, ir.IRObject{}, StoreOptions{Tag: f.user, Owner: outsider, Author: outsider})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEncryptedSelfUnreadableWithoutAccess(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	c := f.collection(Options{Name: "users.private", Encrypted: true})

	_, err := c.Store(ctx, ir.IRObject{"groups": ir.Strings([]string{f.group})}, StoreOptions{Tag: f.user})
	require.NoError(t, err)

	v, err := c.Retrieve(ctx, RetrieveOptions{Tag: f.user})
	require.NoError(t, err)
	require.True(t, v.Decrypted)
	assert.Equal(t, ir.Strings([]string{f.group}), v.JSON["groups"])
	assert.Equal(t, f.user, v.Protected.EncryptTo)

	raw, err := f.db.GetRecord(ctx, "users.private", f.user)
	require.NoError(t, err)
	assert.NotContains(t, string(raw.Envelope), f.group, "payload is not stored in the clear")

	strangerKeys, _ := f.stranger(t)
	other := New(f.db, strangerKeys, Options{Name: "users.private", Encrypted: true})
	v, err = other.Retrieve(ctx, RetrieveOptions{Tag: f.user})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.False(t, v.Decrypted)
	assert.Nil(t, v.JSON)
}

func TestEncryptToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	c := f.collection(Options{Name: "members", Encrypted: true, EncryptTo: ir.EncryptOwner})

	memberTag := "member-address"
	_, err := c.Store(ctx, ir.IRObject{"balance": ir.IRString("10")}, StoreOptions{Tag: memberTag, Owner: f.group, Author: f.user})
	require.NoError(t, err)

	v, err := c.Retrieve(ctx, RetrieveOptions{Tag: memberTag})
	require.NoError(t, err)
	assert.Equal(t, f.group, v.Protected.EncryptTo)
	assert.Equal(t, ir.IRString("10"), v.JSON["balance"])
}

func TestRetrieveWithMemberCheck(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	c := f.collection(Options{Name: "groups"})
	_, err := c.Store(ctx, ir.IRObject{}, StoreOptions{Tag: f.group, Author: f.user})
	require.NoError(t, err)

	v, err := c.Retrieve(ctx, RetrieveOptions{Tag: f.group, Member: f.device})
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v.JSON, "empty but present")

	_, outsider := f.stranger(t)
	_, err = c.Retrieve(ctx, RetrieveOptions{Tag: f.group, Member: outsider})
	assert.ErrorIs(t, err, credential.ErrNotMember)

	v, err = c.Retrieve(ctx, RetrieveOptions{Tag: f.group})
	require.NoError(t, err)
	assert.NotNil(t, v, "audit reads skip the membership check")
}

func TestRetrieveRejectsTamperedEnvelope(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	c := f.collection(Options{Name: "groups"})
	_, err := c.Store(ctx, ir.IRObject{"name": ir.IRString("real")}, StoreOptions{Tag: f.group, Author: f.user})
	require.NoError(t, err)

	_, err = f.db.DB().Exec(`UPDATE records SET envelope = replace(envelope, '"real"', '"fake"')`)
	require.NoError(t, err)

	_, err = c.Retrieve(ctx, RetrieveOptions{Tag: f.group})
	assert.ErrorIs(t, err, credential.ErrBadSignature)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	c := f.collection(Options{Name: "groups"})
	_, err := c.Store(ctx, ir.IRObject{}, StoreOptions{Tag: f.group, Author: f.user})
	require.NoError(t, err)

	_, outsider := f.stranger(t)
	err = c.Remove(ctx, RemoveOptions{Tag: f.group, Author: outsider})
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, c.Remove(ctx, RemoveOptions{Tag: f.group, Author: f.user}))
	v, err := c.Retrieve(ctx, RetrieveOptions{Tag: f.group})
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.Remove(ctx, RemoveOptions{Tag: f.group, Author: f.user}), "removing twice is a no-op")
}

func TestVersionedChain(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	c := f.collection(Options{Name: "messages", Versioned: true, EncryptTo: ir.EncryptOwner})

	root, err := c.Root(ctx, f.group)
	require.NoError(t, err)
	assert.Empty(t, root)

	var hashes []string
	for _, text := range []string{"one", "two", "three"} {
		payload := ir.IRObject{"text": ir.IRString(text), "antecedent": ir.IRString(root)}
		addr, err := c.Store(ctx, payload, StoreOptions{Tag: f.group, Owner: f.group, Author: f.user})
		require.NoError(t, err)
		assert.Equal(t, f.group, addr)

		next, err := c.Root(ctx, f.group)
		require.NoError(t, err)
		assert.NotEqual(t, root, next)
		root = next
		hashes = append(hashes, next)
		f.clock.Advance(time.Minute)
	}

	v, err := c.Retrieve(ctx, RetrieveOptions{Tag: hashes[2]})
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("three"), v.JSON["text"])
	assert.Equal(t, hashes[1], v.Protected.Antecedent)
	assert.Equal(t, hashes[2], v.Hash)

	_, err = c.Store(ctx, ir.IRObject{"text": ir.IRString("late"), "antecedent": ir.IRString(hashes[0])},
		StoreOptions{Tag: f.group, Author: f.user})
	assert.ErrorIs(t, err, store.ErrStaleHead)
}

func TestRootOnPlainCollection(t *testing.T) {
	f := newFixture(t)
	_, err := f.collection(Options{Name: "groups"}).Root(t.Context(), f.group)
	assert.Error(t, err)
}
