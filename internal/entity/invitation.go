package entity

import (
	"context"
	"errors"
	"slices"

	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/store"
)

// Invitation is what an inviter hands to an invitee out of band.
type Invitation struct {
	Tag    string `json:"tag" yaml:"tag"`
	Secret string `json:"secret" yaml:"secret"`
}

// CreateInvitation prepares an identity for someone who does not have one
// yet. The invitee's team key is unlocked by a one-time secret; they get a
// private chat group with the inviter and a membership in bank, and their
// record is left unowned until claimed.
func (r *Realm) CreateInvitation(ctx context.Context, inviter *User, bank *Group) (Invitation, error) {
	if err := bank.requireMember("invite", inviter); err != nil {
		return Invitation{}, err
	}
	secret := r.secrets.Generate()
	lock, err := r.keys.Create(ctx, credential.CreateOptions{Kind: store.KeyRecovery, Answer: secret})
	if err != nil {
		return Invitation{}, err
	}
	tag, err := r.keys.Create(ctx, credential.CreateOptions{
		Kind:    store.KeyTeam,
		Members: []string{lock, inviter.Tag()},
	})
	if err != nil {
		return Invitation{}, err
	}

	chat, err := r.CreateGroup(ctx, inviter, GroupOptions{PrivateOnly: true, Members: []string{tag}})
	if err != nil {
		return Invitation{}, err
	}

	if err := bank.Admit(ctx, inviter, tag); err != nil {
		return Invitation{}, err
	}
	if _, err := bank.rec.Edit(ctx, map[string]ir.IRValue{
		"members": ir.Strings(append(bank.Members(nil), tag)),
	}, inviter.Tag()); err != nil {
		return Invitation{}, err
	}
	if err := bank.openAccountAs(ctx, tag, inviter.Tag()); err != nil {
		return Invitation{}, err
	}

	invitee := r.Users.New(tag, persist.Options{})
	p := invitee.rec.Private()
	if err := p.AdoptByTag(ctx, inviter.Tag()); err != nil {
		return Invitation{}, err
	}
	if err := invitee.rec.Assign(map[string]ir.IRValue{
		"groups": ir.Strings([]string{chat.Tag(), bank.Tag()}),
		"bank":   ir.IRString(bank.Tag()),
	}); err != nil {
		return Invitation{}, err
	}
	if _, err := invitee.rec.Persist(ctx, inviter.Tag()); err != nil {
		return Invitation{}, err
	}
	p.AbandonByTag(inviter.Tag())

	r.logger.Info("invitation created", "invitee", tag, "inviter", inviter.Tag(), "bank", bank.Tag())
	return Invitation{Tag: tag, Secret: secret}, nil
}

// ClaimInvitation turns an invitation into a working identity on this
// device: it adds a device key and a recovery key to the invitee's team,
// drops the one-time key and the inviter, fills in the identity and
// persists it.
func (r *Realm) ClaimInvitation(ctx context.Context, inv Invitation, opts UserOptions) (*User, error) {
	if err := opts.validate("claim"); err != nil {
		return nil, err
	}
	if inv.Tag == "" || inv.Secret == "" {
		return nil, persist.InvalidArgument("claim", inv.Tag, "invitation tag and secret are required")
	}
	lock, err := r.recoveryKey(ctx, inv.Tag)
	if errors.Is(err, ErrNoRecoveryKey) {
		return nil, persist.Unauthorized("claim", inv.Tag, err)
	}
	if err != nil {
		return nil, err
	}
	r.keys.SetAnswer(lock, inv.Secret)
	if !r.keys.CanAccess(ctx, lock) {
		r.keys.ClearAnswer(lock)
		return nil, persist.Unauthorized("claim", inv.Tag, ErrWrongAnswer)
	}

	device, err := r.keys.Create(ctx, credential.CreateOptions{Kind: store.KeyDevice})
	if err != nil {
		return nil, err
	}
	recovery, err := r.keys.Create(ctx, credential.CreateOptions{Kind: store.KeyRecovery, Answer: opts.Answer})
	if err != nil {
		return nil, err
	}
	previous, err := r.keys.Members(ctx, inv.Tag)
	if err != nil {
		return nil, err
	}
	previous = slices.DeleteFunc(previous, func(m string) bool { return m == device || m == recovery })
	if err := r.keys.ChangeMembership(ctx, inv.Tag, []string{device, recovery}, previous); err != nil {
		return nil, err
	}
	if err := r.keys.Destroy(ctx, lock); err != nil {
		return nil, err
	}
	r.keys.ClearAnswer(lock)

	u, err := r.User(ctx, inv.Tag)
	if err != nil {
		return nil, err
	}
	if err := u.Adopt(ctx); err != nil {
		return nil, err
	}
	if err := u.fill(opts, device); err != nil {
		return nil, err
	}
	bank := opts.Bank
	if bank == "" {
		bank = u.Bank(nil)
	}
	if err := u.initialize(ctx, bank); err != nil {
		return nil, err
	}
	if _, err := u.LoadGroups(ctx); err != nil {
		return nil, err
	}
	r.logger.Info("invitation claimed", "user", inv.Tag, "device", opts.Device)
	return u, nil
}
