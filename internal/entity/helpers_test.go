package entity

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/store"
	"github.com/roach88/mutual/internal/testutil"
)

const (
	question = "First pet?"
	answer   = "Rex"
)

// device is one realm over a shared database, as a separate device would
// see it.
type device struct {
	db    *store.Store
	realm *Realm
}

type world struct {
	path    string
	kinds   Kinds
	clock   *testutil.FakeClock
	secrets *testutil.SequenceSecrets
}

func newWorld(t *testing.T) *world {
	t.Helper()
	kinds, err := CompileKinds()
	require.NoError(t, err)
	return &world{
		path:    filepath.Join(t.TempDir(), "mutual.db"),
		kinds:   kinds,
		clock:   testutil.NewFakeClock(time.Time{}),
		secrets: testutil.NewSequenceSecrets("invite"),
	}
}

// device opens a realm for label. Opening the same label twice gives a
// fresh session on the same device.
func (w *world) device(t *testing.T, label string) *device {
	t.Helper()
	db, err := store.Open(w.path, store.WithOrigin(label))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	keys := credential.NewKeyring(db, label, credential.WithScryptWorkFactor(10))
	realm, err := NewRealm(Config{
		Store:   db,
		Keys:    keys,
		Kinds:   w.kinds,
		Clock:   w.clock,
		Secrets: w.secrets,
	})
	require.NoError(t, err)
	return &device{db: db, realm: realm}
}

func (d *device) createUser(t *testing.T, title string) *User {
	t.Helper()
	u, err := d.realm.CreateUser(t.Context(), UserOptions{
		Title:    title,
		Question: question,
		Answer:   answer,
		Device:   "laptop",
	})
	require.NoError(t, err)
	return u
}

// sharedGroup creates a named group founded by the first user and joined
// by the rest.
func (d *device) sharedGroup(t *testing.T, name string, users ...*User) *Group {
	t.Helper()
	ctx := t.Context()
	var others []string
	for _, u := range users[1:] {
		others = append(others, u.Tag())
	}
	g, err := d.realm.CreateGroup(ctx, users[0], GroupOptions{Name: name, Members: others})
	require.NoError(t, err)
	for _, u := range users[1:] {
		require.NoError(t, u.AdoptGroup(ctx, g))
	}
	return g
}
