package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/persist"
)

func TestInvitation_CreateAndClaim(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	ctx := t.Context()
	alice := laptop.createUser(t, "Alice")
	bank, err := laptop.realm.CreateGroup(ctx, alice, GroupOptions{Name: "Bank"})
	require.NoError(t, err)

	inv, err := laptop.realm.CreateInvitation(ctx, alice, bank)
	require.NoError(t, err)
	assert.Equal(t, "invite-0001", inv.Secret)
	assert.Contains(t, bank.Members(nil), inv.Tag)

	invitee, ok := laptop.realm.Users.Lookup(nil, inv.Tag)
	require.True(t, ok)
	assert.False(t, invitee.Owned(nil), "invitee record is left unowned")
	assert.Empty(t, invitee.Groups(nil))

	// The claimant is on another device with nothing but the invitation.
	phone := w.device(t, "phone")
	_, err = phone.realm.ClaimInvitation(ctx, Invitation{Tag: inv.Tag, Secret: "guess"}, UserOptions{
		Title: "Bob", Question: question, Answer: answer, Device: "phone",
	})
	assert.True(t, persist.IsUnauthorized(err))
	assert.ErrorIs(t, err, ErrWrongAnswer)

	bob, err := phone.realm.ClaimInvitation(ctx, inv, UserOptions{
		Title: "Bob", Question: question, Answer: answer, Device: "phone",
	})
	require.NoError(t, err)
	assert.Equal(t, inv.Tag, bob.Tag())
	assert.Equal(t, "Bob", bob.Title(nil))
	assert.Equal(t, bank.Tag(), bob.Bank(nil))
	assert.Contains(t, bob.Groups(nil), bank.Tag())
	assert.Len(t, bob.Groups(nil), 3, "chat, bank and personal group")
	assert.Contains(t, bob.Devices(nil), "phone")

	// The one-time key and the inviter are gone from the invitee's team.
	team, err := phone.realm.Keys().Members(ctx, inv.Tag)
	require.NoError(t, err)
	assert.Len(t, team, 2)
	assert.NotContains(t, team, alice.Tag())
	isMember, err := laptop.realm.Keys().IsMember(ctx, inv.Tag, alice.Tag())
	require.NoError(t, err)
	assert.False(t, isMember)

	// The chat group pairs inviter and invitee.
	chatTag := bob.Groups(nil)[0]
	chat, err := phone.realm.Group(ctx, chatTag)
	require.NoError(t, err)
	assert.True(t, chat.PrivateOnly())
	assert.Equal(t, []string{alice.Tag(), bob.Tag()}, chat.Members(nil))

	_, err = chat.Send(ctx, bob, "thanks for the invite")
	require.NoError(t, err)
	msgs, err := chat.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, bob.Tag(), msgs[0].Author(nil))

	// A claimed invitation cannot be claimed again.
	_, err = w.device(t, "tablet").realm.ClaimInvitation(ctx, inv, UserOptions{
		Title: "Mallory", Question: question, Answer: answer, Device: "tablet",
	})
	assert.True(t, persist.IsUnauthorized(err))
}

func TestInvitation_InviterMustBeBankMember(t *testing.T) {
	w := newWorld(t)
	laptop := w.device(t, "laptop")
	alice := laptop.createUser(t, "Alice")
	bob := laptop.createUser(t, "Bob")
	bank, err := laptop.realm.CreateGroup(t.Context(), alice, GroupOptions{Name: "Bank"})
	require.NoError(t, err)

	_, err = laptop.realm.CreateInvitation(t.Context(), bob, bank)
	assert.True(t, persist.IsUnauthorized(err))
}
