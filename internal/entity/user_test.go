package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/store"
)

func TestCreateUser(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	ctx := t.Context()

	alice := laptop.createUser(t, "Alice")
	assert.Equal(t, "Alice", alice.Title(nil))
	assert.Equal(t, question, alice.Question(nil))
	assert.True(t, alice.Owned(nil))
	require.Contains(t, alice.Devices(nil), "laptop")
	require.Len(t, alice.Groups(nil), 1)

	personal, ok := laptop.realm.Groups.Lookup(nil, alice.Groups(nil)[0])
	require.True(t, ok)
	assert.True(t, personal.PrivateOnly())
	assert.Equal(t, []string{alice.Tag()}, personal.Members(nil))
	assert.Equal(t, "Alice", personal.Title(nil))

	pub, err := laptop.db.GetRecord(ctx, CollectionGroups, personal.Tag())
	require.NoError(t, err)
	assert.Nil(t, pub, "personal groups have no public record")

	// A new session on the same device sees the same state.
	again := w.device(t, "laptop")
	reopened, err := again.realm.Open(ctx, alice.Tag())
	require.NoError(t, err)
	assert.NotSame(t, alice, reopened)
	assert.Equal(t, "Alice", reopened.Title(nil))
	assert.Equal(t, alice.Groups(nil), reopened.Groups(nil))
	assert.Equal(t, alice.Devices(nil), reopened.Devices(nil))
}

func TestCreateUser_RequiresQuestionAndDevice(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")

	_, err := laptop.realm.CreateUser(t.Context(), UserOptions{Title: "Alice", Device: "laptop"})
	assert.True(t, persist.IsInvalidArgument(err))

	_, err = laptop.realm.CreateUser(t.Context(), UserOptions{Title: "Alice", Question: question, Answer: answer})
	assert.True(t, persist.IsInvalidArgument(err))
}

func TestCreateUser_BankMustAlreadyListUser(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	alice := laptop.createUser(t, "Alice")
	bank, err := laptop.realm.CreateGroup(t.Context(), alice, GroupOptions{Name: "Bank"})
	require.NoError(t, err)

	_, err = laptop.realm.CreateUser(t.Context(), UserOptions{
		Title:    "Bob",
		Question: question,
		Answer:   answer,
		Device:   "laptop",
		Bank:     bank.Tag(),
	})
	assert.True(t, persist.IsUnauthorized(err))
	assert.ErrorIs(t, err, credential.ErrNotMember)
}

func TestJoinBank_AfterAdmission(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	ctx := t.Context()
	alice := laptop.createUser(t, "Alice")
	bob := laptop.createUser(t, "Bob")
	bank, err := laptop.realm.CreateGroup(ctx, alice, GroupOptions{Name: "Bank"})
	require.NoError(t, err)

	require.NoError(t, bank.Admit(ctx, alice, bob.Tag()))
	require.NoError(t, bob.JoinBank(ctx, bank.Tag()))

	assert.Equal(t, bank.Tag(), bob.Bank(nil))
	assert.Contains(t, bob.Groups(nil), bank.Tag())
	assert.Equal(t, []string{alice.Tag(), bob.Tag()}, bank.Members(nil))

	account, err := bank.Member(ctx, bob.Tag())
	require.NoError(t, err)
	assert.True(t, w.clock.Now().Equal(account.LastStipend(nil)))

	// Joining again changes nothing.
	require.NoError(t, bob.JoinBank(ctx, bank.Tag()))
	assert.Equal(t, []string{alice.Tag(), bob.Tag()}, bank.Members(nil))
}

func TestAdoptGroup_MemberListBeforeUserList(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	ctx := t.Context()
	alice := laptop.createUser(t, "Alice")
	bob := laptop.createUser(t, "Bob")
	g := laptop.sharedGroup(t, "Picnic", alice, bob)

	fresh := w.device(t, "laptop")
	stored, err := fresh.realm.Group(ctx, g.Tag())
	require.NoError(t, err)
	require.NoError(t, stored.Record().Private().AdoptByTag(ctx, bob.Tag()))
	assert.Equal(t, []string{alice.Tag(), bob.Tag()}, stored.Members(nil))

	storedBob, err := fresh.realm.Open(ctx, bob.Tag())
	require.NoError(t, err)
	assert.Contains(t, storedBob.Groups(nil), g.Tag())
}

func TestAbandonGroup_ChangesOnlyTheUser(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	ctx := t.Context()
	alice := laptop.createUser(t, "Alice")
	bob := laptop.createUser(t, "Bob")
	g := laptop.sharedGroup(t, "Picnic", alice, bob)

	require.NoError(t, bob.AbandonGroup(ctx, g))
	assert.NotContains(t, bob.Groups(nil), g.Tag())
	assert.Contains(t, g.Members(nil), bob.Tag(), "group record is untouched")
	assert.True(t, g.Record().Private().OwnedBy(nil, alice.Tag()))
	assert.False(t, g.Record().Private().OwnedBy(nil, bob.Tag()))
}

func TestEdit_RejectsSecurityFields(t *testing.T) {
	w := newWorld(t)
	alice := w.device(t, "laptop").createUser(t, "Alice")

	err := alice.Edit(t.Context(), map[string]ir.IRValue{"a0": ir.IRString("x")})
	assert.True(t, persist.IsInvalidArgument(err))

	require.NoError(t, alice.Edit(t.Context(), map[string]ir.IRValue{"title": ir.IRString("Al")}))
	assert.Equal(t, "Al", alice.Title(nil))
}

func TestDestroy_WrongAnswerFailsClosed(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	alice := laptop.createUser(t, "Alice")

	err := alice.Destroy(t.Context(), question, "Fido")
	assert.True(t, persist.IsUnauthorized(err))
	assert.ErrorIs(t, err, ErrWrongAnswer)

	err = alice.Destroy(t.Context(), "Mother's maiden name?", answer)
	assert.ErrorIs(t, err, ErrWrongAnswer)

	_, ok := laptop.realm.Users.Lookup(nil, alice.Tag())
	assert.True(t, ok)
}

func TestDestroy_SoleMemberTakesGroupWithIt(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	ctx := t.Context()
	alice := laptop.createUser(t, "Alice")
	g, err := laptop.realm.CreateGroup(ctx, alice, GroupOptions{Name: "Solo"})
	require.NoError(t, err)
	_, err = g.Send(ctx, alice, "note to self")
	require.NoError(t, err)
	account, err := g.Member(ctx, alice.Tag())
	require.NoError(t, err)

	require.NoError(t, alice.Destroy(ctx, question, " rex "))

	for _, c := range []string{CollectionGroups, CollectionGroupsPriv} {
		rec, err := laptop.db.GetRecord(ctx, c, g.Tag())
		require.NoError(t, err)
		assert.Nil(t, rec, c)
	}
	rec, err := laptop.db.GetRecord(ctx, CollectionMembers, account.Tag())
	require.NoError(t, err)
	assert.Nil(t, rec)
	head, err := laptop.db.Head(ctx, CollectionMessages, g.Tag())
	require.NoError(t, err)
	assert.Empty(t, head)

	_, err = laptop.realm.Keys().Kind(ctx, g.Tag())
	assert.ErrorIs(t, err, credential.ErrUnknownKey)
	_, err = laptop.realm.Keys().Kind(ctx, alice.Tag())
	assert.ErrorIs(t, err, credential.ErrUnknownKey)

	for _, c := range []string{CollectionUsers, CollectionUsersPrivate} {
		rec, err := laptop.db.GetRecord(ctx, c, alice.Tag())
		require.NoError(t, err)
		assert.Nil(t, rec, c)
	}
	_, ok := laptop.realm.Users.Lookup(nil, alice.Tag())
	assert.False(t, ok)
	_, ok = laptop.realm.Groups.Lookup(nil, g.Tag())
	assert.False(t, ok)

	devices, err := laptop.realm.Keys().DeviceKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestDestroy_LeavesSharedGroups(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	ctx := t.Context()
	alice := laptop.createUser(t, "Alice")
	bob := laptop.createUser(t, "Bob")
	g := laptop.sharedGroup(t, "Picnic", alice, bob)

	require.NoError(t, alice.Destroy(ctx, question, answer))

	assert.Equal(t, []string{bob.Tag()}, g.Members(nil))
	team, err := laptop.realm.Keys().Members(ctx, g.Tag())
	require.NoError(t, err)
	assert.Equal(t, []string{bob.Tag()}, team)

	kind, err := laptop.realm.Keys().Kind(ctx, g.Tag())
	require.NoError(t, err)
	assert.Equal(t, store.KeyTeam, kind)
	_, ok := laptop.realm.Groups.Lookup(nil, g.Tag())
	assert.True(t, ok)
}

func TestAuthorizeAndDeauthorize(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	phone := w.device(t, "phone")
	ctx := t.Context()
	alice := laptop.createUser(t, "Alice")

	phoneKey, err := phone.realm.Keys().Create(ctx, credential.CreateOptions{Kind: store.KeyDevice})
	require.NoError(t, err)

	_, err = phone.realm.Open(ctx, alice.Tag())
	require.True(t, persist.IsUnauthorized(err))

	err = alice.Authorize(ctx, question, "wrong", "phone", phoneKey)
	assert.ErrorIs(t, err, ErrWrongAnswer)

	require.NoError(t, alice.Authorize(ctx, question, answer, "phone", phoneKey))
	assert.Equal(t, phoneKey, alice.Devices(nil)["phone"])

	onPhone := w.device(t, "phone")
	opened, err := onPhone.realm.Open(ctx, alice.Tag())
	require.NoError(t, err)
	assert.Equal(t, alice.Devices(nil), opened.Devices(nil))
	assert.Equal(t, alice.Groups(nil), opened.Groups(nil))

	require.NoError(t, alice.Deauthorize(ctx, question, answer, "phone"))
	assert.NotContains(t, alice.Devices(nil), "phone")
	err = alice.Deauthorize(ctx, question, answer, "phone")
	assert.True(t, persist.IsInvalidArgument(err))

	_, err = w.device(t, "phone").realm.Open(ctx, alice.Tag())
	assert.True(t, persist.IsUnauthorized(err))
}

func TestAuthorize_RejectsNonDeviceKeys(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	alice := laptop.createUser(t, "Alice")
	bob := laptop.createUser(t, "Bob")

	err := alice.Authorize(t.Context(), question, answer, "bob", bob.Tag())
	assert.True(t, persist.IsInvalidArgument(err))
}

func TestRecoverUser(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	ctx := t.Context()
	alice := laptop.createUser(t, "Alice")

	phone := w.device(t, "phone")
	_, err := phone.realm.RecoverUser(ctx, alice.Tag(), question, "Fido", "phone")
	assert.ErrorIs(t, err, ErrWrongAnswer)

	recovered, err := phone.realm.RecoverUser(ctx, alice.Tag(), question, "REX", "phone")
	require.NoError(t, err)
	assert.True(t, recovered.Owned(nil))
	assert.Contains(t, recovered.Devices(nil), "laptop")
	assert.Contains(t, recovered.Devices(nil), "phone")
	assert.Len(t, recovered.Groups(nil), 1)

	// The phone's own device key now opens the user without the answer.
	_, err = w.device(t, "phone").realm.Open(ctx, alice.Tag())
	require.NoError(t, err)
}
