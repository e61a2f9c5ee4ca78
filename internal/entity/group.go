package entity

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/economy"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/store"
	"github.com/roach88/mutual/internal/tracked"
)

// Parameter is an economic setting members vote on.
type Parameter string

const (
	// ParamRate is the fee charged on payments, as a fraction of the amount.
	ParamRate Parameter = "rates"
	// ParamStipend is the daily amount credited to every member.
	ParamStipend Parameter = "stipends"
)

type mean struct {
	value economy.Amount
	ok    bool
}

// Group is a set of users sharing a team key, an economy and a message
// history. The member list and votes are private to members.
type Group struct {
	realm *Realm
	rec   *persist.Record

	title   *tracked.Computed[string]
	rate    *tracked.Computed[mean]
	stipend *tracked.Computed[mean]
	history *tracked.Collection[string, *Message]

	// sendMu orders appends to the history from this process.
	sendMu sync.Mutex
}

func (r *Realm) newGroup(rec *persist.Record) *Group {
	g := &Group{
		realm:   r,
		rec:     rec,
		history: tracked.NewCollection[string, *Message](),
	}
	g.title = tracked.NewComputed(g.computeTitle)
	g.rate = tracked.NewComputed(func(s *tracked.Scope) mean { return g.average(s, ParamRate) })
	g.stipend = tracked.NewComputed(func(s *tracked.Scope) mean { return g.average(s, ParamStipend) })
	return g
}

// Record returns the persisted state.
func (g *Group) Record() *persist.Record { return g.rec }

// Tag returns the group's address, which is also its team key.
func (g *Group) Tag() string { return g.rec.Tag() }

// Name is the stored group name, possibly empty.
func (g *Group) Name(s *tracked.Scope) string { return ir.AsString(g.rec.Get(s, "name")) }

// Picture is a reference to the group's image.
func (g *Group) Picture(s *tracked.Scope) string { return ir.AsString(g.rec.Get(s, "picture")) }

// Members lists member user tags in join order. Empty unless owned.
func (g *Group) Members(s *tracked.Scope) []string { return ir.AsStrings(g.rec.Get(s, "members")) }

// PrivateOnly reports whether the group has no public record.
func (g *Group) PrivateOnly() bool { return g.rec.Verified() == persist.PrivateOnly }

// Title is the group name, or failing that the titles of the loaded
// members in member order.
func (g *Group) Title(s *tracked.Scope) string { return g.title.Get(s) }

func (g *Group) computeTitle(s *tracked.Scope) string {
	if name := g.Name(s); name != "" {
		return name
	}
	var titles []string
	for _, tag := range g.Members(s) {
		u, ok := g.realm.Users.Lookup(s, tag)
		if !ok {
			continue
		}
		if t := u.Title(s); t != "" {
			titles = append(titles, t)
		}
	}
	return strings.Join(titles, ", ")
}

// Rate is the mean of the members' rate votes. ok is false when no
// current member has voted.
func (g *Group) Rate(s *tracked.Scope) (economy.Amount, bool) {
	m := g.rate.Get(s)
	return m.value, m.ok
}

// Stipend is the mean of the members' stipend votes.
func (g *Group) Stipend(s *tracked.Scope) (economy.Amount, bool) {
	m := g.stipend.Get(s)
	return m.value, m.ok
}

// Votes returns the votes cast for p, keyed by voter tag.
func (g *Group) Votes(s *tracked.Scope, p Parameter) map[string]string {
	return ir.AsStringMap(g.rec.Get(s, string(p)))
}

func (g *Group) average(s *tracked.Scope, p Parameter) mean {
	votes := g.Votes(s, p)
	var cast []economy.Amount
	for _, member := range g.Members(s) {
		raw, ok := votes[member]
		if !ok {
			continue
		}
		a, err := economy.ParseAmount(raw)
		if err != nil {
			g.realm.logger.Warn("ignoring malformed vote", "group", g.Tag(), "member", member, "vote", raw)
			continue
		}
		cast = append(cast, a)
	}
	v, ok := economy.Mean(cast)
	return mean{value: v, ok: ok}
}

// GroupOptions describes a new group.
type GroupOptions struct {
	Name    string
	Picture string
	// PrivateOnly groups have no public record.
	PrivateOnly bool
	// Members are user tags added to the team and member list alongside
	// the founder.
	Members []string
}

// CreateGroup creates a team key over the founder and opts.Members, then
// the group record, and joins the founder to it.
func (r *Realm) CreateGroup(ctx context.Context, founder *User, opts GroupOptions) (*Group, error) {
	members := append([]string{founder.Tag()}, opts.Members...)
	tag, err := r.keys.Create(ctx, credential.CreateOptions{Kind: store.KeyTeam, Members: members})
	if err != nil {
		return nil, err
	}
	g := r.Groups.New(tag, persist.Options{PrivateOnly: opts.PrivateOnly})
	if err := g.rec.Private().AdoptByTag(ctx, founder.Tag()); err != nil {
		return nil, err
	}
	if err := g.rec.Assign(map[string]ir.IRValue{
		"name":    ir.IRString(opts.Name),
		"picture": ir.IRString(opts.Picture),
		"members": ir.Strings(members),
	}); err != nil {
		return nil, err
	}
	if _, err := g.rec.Persist(ctx, founder.Tag()); err != nil {
		return nil, err
	}
	if err := founder.AdoptGroup(ctx, g); err != nil {
		return nil, err
	}
	r.logger.Debug("group created", "group", tag, "founder", founder.Tag(), "members", len(members))
	return g, nil
}

// requireMember fails unless user is in the member list.
func (g *Group) requireMember(op string, user *User) error {
	if !slices.Contains(g.Members(nil), user.Tag()) {
		return persist.Unauthorized(op, g.Tag(), fmt.Errorf("%s: %w", user.Tag(), credential.ErrNotMember))
	}
	return nil
}

// Edit changes the group's name or picture as by.
func (g *Group) Edit(ctx context.Context, by *User, changes map[string]ir.IRValue) error {
	if err := g.requireMember("edit", by); err != nil {
		return err
	}
	for name := range changes {
		if name != "name" && name != "picture" {
			return persist.InvalidArgument("edit", g.Tag(), "%s is not editable", name)
		}
	}
	_, err := g.rec.Edit(ctx, changes, by.Tag())
	return err
}

// Admit adds a user to the group's team key so they can later join. The
// member list changes when the user adopts the group.
func (g *Group) Admit(ctx context.Context, by *User, user string) error {
	if err := g.requireMember("admit", by); err != nil {
		return err
	}
	if err := g.realm.keys.ChangeMembership(ctx, g.Tag(), []string{user}, nil); err != nil {
		return persist.Unauthorized("admit", g.Tag(), err)
	}
	return nil
}

// Vote records voter's choice for p.
func (g *Group) Vote(ctx context.Context, voter *User, p Parameter, amount economy.Amount) error {
	if err := g.requireMember("vote", voter); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return persist.InvalidArgument("vote", g.Tag(), "%s vote %s is negative", p, amount)
	}
	votes := g.Votes(nil, p)
	votes[voter.Tag()] = amount.String()
	_, err := g.rec.Edit(ctx, map[string]ir.IRValue{string(p): ir.StringMap(votes)}, voter.Tag())
	return err
}

// Unvote withdraws voter's choice for p.
func (g *Group) Unvote(ctx context.Context, voter *User, p Parameter) error {
	votes := g.Votes(nil, p)
	if _, ok := votes[voter.Tag()]; !ok {
		return nil
	}
	delete(votes, voter.Tag())
	_, err := g.rec.Edit(ctx, map[string]ir.IRValue{string(p): ir.StringMap(votes)}, voter.Tag())
	return err
}

// Member fetches the balance record of user in this group.
func (g *Group) Member(ctx context.Context, user string) (*Member, error) {
	tag, err := economy.MemberTag(user, g.Tag())
	if err != nil {
		return nil, persist.InvalidArgument("member", g.Tag(), "%v", err)
	}
	return g.realm.Members.Fetch(ctx, tag, persist.Options{Owner: g.Tag()})
}

// openAccount writes user's balance record if it does not exist yet,
// starting stipend accrual now.
func (g *Group) openAccount(ctx context.Context, user *User) error {
	return g.openAccountAs(ctx, user.Tag(), user.Tag())
}

func (g *Group) openAccountAs(ctx context.Context, user, author string) error {
	m, err := g.Member(ctx, user)
	if err != nil {
		return err
	}
	if m.rec.Verified() != nil || !m.LastStipend(nil).IsZero() {
		return nil
	}
	if err := m.UpdateBalance(g.realm.Now(), economy.Amount{}, economy.Amount{}, g.realm.Units()); err != nil {
		return err
	}
	_, err = m.rec.Persist(ctx, author)
	return err
}

// Pay moves amount from payer to payee. Both balances accrue the current
// stipend first; the payer is charged the amount plus the group's rate.
// The payment is recorded in the group history.
func (g *Group) Pay(ctx context.Context, payer, payee *User, amount economy.Amount) (*Message, error) {
	if err := g.requireMember("pay", payer); err != nil {
		return nil, err
	}
	if err := g.requireMember("pay", payee); err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, persist.InvalidArgument("pay", g.Tag(), "amount %s is not positive", amount)
	}
	if payer.Tag() == payee.Tag() {
		return nil, persist.InvalidArgument("pay", g.Tag(), "payer and payee are the same")
	}

	from, err := g.Member(ctx, payer.Tag())
	if err != nil {
		return nil, err
	}
	to, err := g.Member(ctx, payee.Tag())
	if err != nil {
		return nil, err
	}

	now := g.realm.Now()
	stipend, _ := g.Stipend(nil)
	rate, _ := g.Rate(nil)
	units := g.realm.Units()

	debited := from.accrue(now, stipend, economy.Amount{}, units)
	balance, err := economy.Debit(debited.Balance, amount, rate)
	if err != nil {
		return nil, err
	}
	debited.Balance = balance
	credited := to.accrue(now, stipend, amount, units)

	if err := from.set(debited); err != nil {
		return nil, err
	}
	if err := to.set(credited); err != nil {
		return nil, err
	}
	if _, err := from.rec.Persist(ctx, payer.Tag()); err != nil {
		return nil, err
	}
	if _, err := to.rec.Persist(ctx, payer.Tag()); err != nil {
		return nil, err
	}

	g.realm.logger.Info("payment", "group", g.Tag(), "payer", payer.Tag(), "payee", payee.Tag(), "amount", amount.String())
	return g.append(ctx, payer, map[string]ir.IRValue{
		"type":   ir.IRString(MessagePayment),
		"text":   ir.IRString(payee.Tag()),
		"amount": ir.IRString(amount.String()),
	})
}

// Send appends a text message to the group history.
func (g *Group) Send(ctx context.Context, author *User, text string) (*Message, error) {
	if err := g.requireMember("send", author); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, persist.InvalidArgument("send", g.Tag(), "message text is empty")
	}
	return g.append(ctx, author, map[string]ir.IRValue{"text": ir.IRString(text)})
}

func (g *Group) append(ctx context.Context, author *User, fields map[string]ir.IRValue) (*Message, error) {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	host := g.Tag()
	head, err := g.realm.history.Root(ctx, host)
	if err != nil {
		return nil, err
	}
	rec := persist.NewRecord(g.realm.kinds.Message, g.realm.Messages.Stores(), host, persist.Options{
		Owner:  host,
		Logger: g.realm.logger,
	})
	fields["author"] = ir.IRString(author.Tag())
	fields["owner"] = ir.IRString(host)
	fields["timestamp"] = ir.IRInt(g.realm.Now().UnixMilli())
	fields["antecedent"] = ir.IRString(head)
	if err := rec.Assign(fields); err != nil {
		return nil, err
	}

	m := newMessage(rec)
	if _, err := persist.PersistToSet(ctx, m, g.history, host, author.Tag()); err != nil {
		return nil, err
	}
	g.realm.Messages.Register(m)
	return m, nil
}

// History lists the messages known in memory, in arrival order.
func (g *Group) History(s *tracked.Scope) []*Message { return g.history.Values(s) }

// Messages walks the stored history from its head and returns it oldest
// first. Every message walked is added to History.
func (g *Group) Messages(ctx context.Context) ([]*Message, error) {
	head, err := g.realm.history.Root(ctx, g.Tag())
	if err != nil {
		return nil, err
	}
	chain, err := persist.Chain(ctx, head, g.message, func(m *Message) string { return m.Antecedent(nil) })
	if err != nil {
		return nil, err
	}
	return persist.Chronological(chain), nil
}

// Receive loads a message appended elsewhere into History.
func (g *Group) Receive(ctx context.Context, hash string) (*Message, error) {
	return g.message(ctx, hash)
}

func (g *Group) message(ctx context.Context, hash string) (*Message, error) {
	m, err := g.realm.Messages.Fetch(ctx, hash, persist.Options{Owner: g.Tag()})
	if err != nil {
		return nil, err
	}
	if m.rec.Verified() == nil {
		g.realm.Messages.Evict(hash)
		return nil, persist.InvalidArgument("message", g.Tag(), "no message %s", hash)
	}
	if !g.history.Has(nil, hash) {
		g.history.Set(hash, m)
	}
	return m, nil
}

// leave takes user out of the group. When user is the last member the
// group itself is destroyed.
func (g *Group) leave(ctx context.Context, u *User) error {
	me := u.Tag()
	members := g.Members(nil)
	if len(members) == 1 && members[0] == me {
		return g.destroy(ctx, u)
	}
	if i := slices.Index(members, me); i >= 0 {
		members = slices.Delete(members, i, i+1)
		if _, err := g.rec.Edit(ctx, map[string]ir.IRValue{"members": ir.Strings(members)}, me); err != nil {
			return err
		}
	}
	teamMembers, err := g.realm.keys.Members(ctx, g.Tag())
	if err != nil {
		return err
	}
	if slices.Contains(teamMembers, me) {
		if err := g.realm.keys.ChangeMembership(ctx, g.Tag(), nil, []string{me}); err != nil {
			return err
		}
	}
	g.rec.Private().AbandonByTag(me)
	return nil
}

// destroy removes everything the group owns: its message history, member
// balances, both halves of its record and finally its team key.
func (g *Group) destroy(ctx context.Context, by *User) error {
	tag, author := g.Tag(), by.Tag()
	if err := g.realm.history.Remove(ctx, collection.RemoveOptions{Tag: tag, Owner: tag, Author: author}); err != nil {
		return err
	}
	for _, m := range g.history.Values(nil) {
		g.realm.Messages.Evict(m.Hash())
	}
	for _, user := range g.Members(nil) {
		member, err := g.Member(ctx, user)
		if err != nil {
			return err
		}
		if err := g.realm.Members.Destroy(ctx, member, author); err != nil {
			return err
		}
	}
	if err := g.realm.Groups.Destroy(ctx, g, author); err != nil {
		return err
	}
	if err := g.realm.keys.Destroy(ctx, tag); err != nil {
		return err
	}
	g.realm.logger.Info("group destroyed", "group", tag)
	return nil
}
