package entity

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/store"
	"github.com/roach88/mutual/internal/tracked"
)

// User is a person: a team key over their devices and recovery key, a
// public profile and a private device map, group list and bank.
type User struct {
	realm *Realm
	rec   *persist.Record
}

func (r *Realm) newUser(rec *persist.Record) *User {
	return &User{realm: r, rec: rec}
}

// Record returns the persisted state.
func (u *User) Record() *persist.Record { return u.rec }

// Tag returns the user's address, which is also their team key.
func (u *User) Tag() string { return u.rec.Tag() }

// Title is the user's display name.
func (u *User) Title(s *tracked.Scope) string { return ir.AsString(u.rec.Get(s, "title")) }

// Picture is a reference to the user's avatar.
func (u *User) Picture(s *tracked.Scope) string { return ir.AsString(u.rec.Get(s, "picture")) }

// Question is the security question guarding destructive operations.
func (u *User) Question(s *tracked.Scope) string { return ir.AsString(u.rec.Get(s, "q0")) }

// Devices maps device names to device key tags. Empty unless owned.
func (u *User) Devices(s *tracked.Scope) map[string]string {
	return ir.AsStringMap(u.rec.Get(s, "devices"))
}

// Groups lists the user's group tags. Empty unless owned.
func (u *User) Groups(s *tracked.Scope) []string { return ir.AsStrings(u.rec.Get(s, "groups")) }

// Bank is the tag of the user's bank group. Empty unless owned.
func (u *User) Bank(s *tracked.Scope) string { return ir.AsString(u.rec.Get(s, "bank")) }

// Owned reports whether this device holds the user's private half.
func (u *User) Owned(s *tracked.Scope) bool { return u.rec.Private().Owned(s) }

// Adopt takes ownership of the user as themselves.
func (u *User) Adopt(ctx context.Context) error {
	return u.rec.Private().AdoptByTag(ctx, u.Tag())
}

// Abandon drops the self ownership tag.
func (u *User) Abandon() {
	u.rec.Private().AbandonByTag(u.Tag())
}

// Edit changes public profile fields and persists them as the user.
func (u *User) Edit(ctx context.Context, changes map[string]ir.IRValue) error {
	for name := range changes {
		if name == "q0" || name == "a0" {
			return persist.InvalidArgument("edit", u.Tag(), "%s is set through the security question", name)
		}
	}
	_, err := u.rec.Edit(ctx, changes, u.Tag())
	return err
}

// UserOptions describes a new identity.
type UserOptions struct {
	Title    string
	Picture  string
	Question string
	Answer   string
	// Device names this device in the user's device map.
	Device string
	// Bank joins an existing bank group. The bank's team must already list
	// the user.
	Bank string
}

func (o UserOptions) validate(op string) error {
	if o.Question == "" || o.Answer == "" {
		return persist.InvalidArgument(op, "", "a security question and answer are required")
	}
	if o.Device == "" {
		return persist.InvalidArgument(op, "", "a device name is required")
	}
	return nil
}

// CreateUser issues a new identity on this device: a device key, a
// recovery key sealed with the security answer, and the user's team key
// over both. The user is then initialized.
func (r *Realm) CreateUser(ctx context.Context, opts UserOptions) (*User, error) {
	if err := opts.validate("create user"); err != nil {
		return nil, err
	}
	device, err := r.keys.Create(ctx, credential.CreateOptions{Kind: store.KeyDevice})
	if err != nil {
		return nil, err
	}
	recovery, err := r.keys.Create(ctx, credential.CreateOptions{Kind: store.KeyRecovery, Answer: opts.Answer})
	if err != nil {
		return nil, err
	}
	tag, err := r.keys.Create(ctx, credential.CreateOptions{Kind: store.KeyTeam, Members: []string{device, recovery}})
	if err != nil {
		return nil, err
	}

	u := r.Users.New(tag, persist.Options{})
	if err := u.fill(opts, device); err != nil {
		return nil, err
	}
	if err := u.initialize(ctx, opts.Bank); err != nil {
		return nil, err
	}
	r.logger.Info("user created", "user", tag, "device", opts.Device)
	return u, nil
}

// fill writes the identity fields in memory.
func (u *User) fill(opts UserOptions, device string) error {
	devices := u.Devices(nil)
	devices[opts.Device] = device
	return u.rec.Assign(map[string]ir.IRValue{
		"title":   ir.IRString(opts.Title),
		"picture": ir.IRString(opts.Picture),
		"q0":      ir.IRString(opts.Question),
		"a0":      ir.IRString(credential.HashAnswer(opts.Question, opts.Answer)),
		"devices": ir.StringMap(devices),
	})
}

// initialize adopts the user, persists them, gives them a personal group
// and joins bank when one is named.
func (u *User) initialize(ctx context.Context, bank string) error {
	if err := u.Adopt(ctx); err != nil {
		return err
	}
	if _, err := u.rec.Persist(ctx, u.Tag()); err != nil {
		return err
	}
	if _, err := u.realm.CreateGroup(ctx, u, GroupOptions{PrivateOnly: true}); err != nil {
		return fmt.Errorf("personal group: %w", err)
	}
	if bank != "" {
		if err := u.JoinBank(ctx, bank); err != nil {
			return err
		}
	}
	return nil
}

// JoinBank makes bank the user's bank group. An existing member must
// already have admitted the user to the bank's team.
func (u *User) JoinBank(ctx context.Context, bank string) error {
	members, err := u.realm.keys.Members(ctx, bank)
	if err != nil {
		return err
	}
	if !slices.Contains(members, u.Tag()) {
		return persist.Unauthorized("join bank", bank, credential.ErrNotMember)
	}
	g, err := u.realm.Group(ctx, bank)
	if err != nil {
		return err
	}
	if err := u.AdoptGroup(ctx, g); err != nil {
		return err
	}
	if u.Bank(nil) == bank {
		return nil
	}
	_, err = u.rec.Edit(ctx, map[string]ir.IRValue{"bank": ir.IRString(bank)}, u.Tag())
	return err
}

// AdoptGroup joins g: the group's member list is persisted first, then the
// user's balance record, then the user's group list. Re-running after a partial failure completes the
// missing write.
func (u *User) AdoptGroup(ctx context.Context, g *Group) error {
	if err := g.rec.Private().AdoptByTag(ctx, u.Tag()); err != nil {
		return err
	}
	me := u.Tag()
	if members := g.Members(nil); !slices.Contains(members, me) {
		if _, err := g.rec.Edit(ctx, map[string]ir.IRValue{
			"members": ir.Strings(append(members, me)),
		}, me); err != nil {
			return err
		}
	}
	if err := g.openAccount(ctx, u); err != nil {
		return err
	}
	if groups := u.Groups(nil); !slices.Contains(groups, g.Tag()) {
		if _, err := u.rec.Edit(ctx, map[string]ir.IRValue{
			"groups": ir.Strings(append(groups, g.Tag())),
		}, me); err != nil {
			return err
		}
	}
	return nil
}

// AbandonGroup drops g from the user's own group list. The group record is
// untouched.
func (u *User) AbandonGroup(ctx context.Context, g *Group) error {
	groups := u.Groups(nil)
	if i := slices.Index(groups, g.Tag()); i >= 0 {
		groups = slices.Delete(groups, i, i+1)
		if _, err := u.rec.Edit(ctx, map[string]ir.IRValue{"groups": ir.Strings(groups)}, u.Tag()); err != nil {
			return err
		}
	}
	g.rec.Private().AbandonByTag(u.Tag())
	return nil
}

// LoadGroups fetches and adopts every group in the user's list.
func (u *User) LoadGroups(ctx context.Context) ([]*Group, error) {
	var out []*Group
	for _, tag := range u.Groups(nil) {
		g, err := u.realm.Group(ctx, tag)
		if err != nil {
			return out, err
		}
		if err := g.rec.Private().AdoptByTag(ctx, u.Tag()); err != nil {
			return out, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (u *User) checkAnswer(op, prompt, answer string) error {
	return answerGate(op, u.Tag(), u.Question(nil), ir.AsString(u.rec.Get(nil, "a0")), prompt, answer)
}

// Destroy deletes the user after the security answer checks out. The user
// leaves every group first; groups they were the only member of are
// destroyed with them. The user's records go next, then their team key
// along with the device and recovery keys only it holds.
func (u *User) Destroy(ctx context.Context, prompt, answer string) error {
	if err := u.checkAnswer("destroy", prompt, answer); err != nil {
		return err
	}
	groups, err := u.LoadGroups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := g.leave(ctx, u); err != nil {
			return fmt.Errorf("leave %s: %w", g.Tag(), err)
		}
	}

	tag := u.Tag()
	if err := u.realm.Users.Destroy(ctx, u, tag); err != nil {
		return err
	}
	if err := u.realm.keys.Destroy(ctx, tag); err != nil {
		return err
	}
	u.rec.Private().AbandonByTag(tag)
	u.realm.logger.Info("user destroyed", "user", tag, "groups", len(groups))
	return nil
}

// Authorize adds a device key created on another device to the user's
// team and device map.
func (u *User) Authorize(ctx context.Context, prompt, answer, name, device string) error {
	if err := u.checkAnswer("authorize", prompt, answer); err != nil {
		return err
	}
	if name == "" || device == "" {
		return persist.InvalidArgument("authorize", u.Tag(), "device name and key are required")
	}
	kind, err := u.realm.keys.Kind(ctx, device)
	if err != nil {
		return err
	}
	if kind != store.KeyDevice {
		return persist.InvalidArgument("authorize", u.Tag(), "%s is a %s key", device, kind)
	}
	if err := u.realm.keys.ChangeMembership(ctx, u.Tag(), []string{device}, nil); err != nil {
		return persist.Unauthorized("authorize", u.Tag(), err)
	}
	devices := u.Devices(nil)
	devices[name] = device
	_, err = u.rec.Edit(ctx, map[string]ir.IRValue{"devices": ir.StringMap(devices)}, u.Tag())
	return err
}

// Deauthorize removes a named device from the user's team and device map.
func (u *User) Deauthorize(ctx context.Context, prompt, answer, name string) error {
	if err := u.checkAnswer("deauthorize", prompt, answer); err != nil {
		return err
	}
	devices := u.Devices(nil)
	device, ok := devices[name]
	if !ok {
		return persist.InvalidArgument("deauthorize", u.Tag(), "%s: %v", name, ErrUnknownDevice)
	}
	if err := u.realm.keys.ChangeMembership(ctx, u.Tag(), nil, []string{device}); err != nil {
		return persist.Unauthorized("deauthorize", u.Tag(), err)
	}
	delete(devices, name)
	_, err := u.rec.Edit(ctx, map[string]ir.IRValue{"devices": ir.StringMap(devices)}, u.Tag())
	return err
}

// RecoverUser authorizes this device for an existing user through their
// recovery key. The answer is checked against the public hash before the
// recovery key is tried.
func (r *Realm) RecoverUser(ctx context.Context, tag, prompt, answer, deviceName string) (*User, error) {
	if deviceName == "" {
		return nil, persist.InvalidArgument("recover", tag, "a device name is required")
	}
	u, err := r.User(ctx, tag)
	if err != nil {
		return nil, err
	}
	if err := u.checkAnswer("recover", prompt, answer); err != nil {
		return nil, err
	}
	recovery, err := r.recoveryKey(ctx, tag)
	if err != nil {
		return nil, err
	}

	r.keys.SetAnswer(recovery, answer)
	defer r.keys.ClearAnswer(recovery)
	device, err := r.keys.Create(ctx, credential.CreateOptions{Kind: store.KeyDevice})
	if err != nil {
		return nil, err
	}
	if err := r.keys.ChangeMembership(ctx, tag, []string{device}, nil); err != nil {
		return nil, persist.Unauthorized("recover", tag, err)
	}

	if err := u.Adopt(ctx); err != nil {
		return nil, err
	}
	devices := u.Devices(nil)
	devices[deviceName] = device
	if _, err := u.rec.Edit(ctx, map[string]ir.IRValue{"devices": ir.StringMap(devices)}, tag); err != nil {
		return nil, err
	}
	if _, err := u.LoadGroups(ctx); err != nil {
		return nil, err
	}
	r.logger.Info("user recovered", "user", tag, "device", deviceName)
	return u, nil
}
