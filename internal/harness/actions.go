package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/mutual/internal/app"
	"github.com/roach88/mutual/internal/economy"
	"github.com/roach88/mutual/internal/entity"
	"github.com/roach88/mutual/internal/ir"
)

// Security question used when a step gives none.
const (
	defaultQuestion = "First pet?"
	defaultAnswer   = "Rex"
)

// call is one action invocation on one device.
type call struct {
	s      *session
	app    *app.App
	device string
	args   ir.IRObject
}

type actionFunc func(ctx context.Context, c *call) (ir.IRObject, error)

// actions maps action URIs to their implementations. Results hold only
// values that do not depend on generated keys.
var actions = map[string]actionFunc{
	"User.create":       userCreate,
	"User.open":         userOpen,
	"User.edit":         userEdit,
	"User.recover":      userRecover,
	"User.deauthorize":  userDeauthorize,
	"User.destroy":      userDestroy,
	"Group.create":      groupCreate,
	"Group.adopt":       groupAdopt,
	"Group.abandon":     groupAbandon,
	"Group.admit":       groupAdmit,
	"Group.edit":        groupEdit,
	"Group.vote":        groupVote,
	"Group.unvote":      groupUnvote,
	"Group.pay":         groupPay,
	"Group.send":        groupSend,
	"Group.messages":    groupMessages,
	"Invitation.create": invitationCreate,
	"Invitation.claim":  invitationClaim,
	"Clock.advance":     clockAdvance,
	"Device.sync":       deviceSync,
}

func (c *call) str(key string) string { return ir.AsString(c.args[key]) }

func (c *call) strOr(key, fallback string) string {
	if v := c.str(key); v != "" {
		return v
	}
	return fallback
}

func (c *call) required(key string) (string, error) {
	v := c.str(key)
	if v == "" {
		return "", fmt.Errorf("argument %q is required", key)
	}
	return v, nil
}

func (c *call) amount(key string) (economy.Amount, error) {
	switch v := c.args[key].(type) {
	case ir.IRString:
		return economy.ParseAmount(string(v))
	case ir.IRInt:
		return economy.FromInt(int64(v)), nil
	}
	return economy.Amount{}, fmt.Errorf("argument %q must be an amount", key)
}

func (c *call) param() (entity.Parameter, error) {
	switch c.str("param") {
	case "rate":
		return entity.ParamRate, nil
	case "stipend":
		return entity.ParamStipend, nil
	}
	return "", fmt.Errorf("param must be rate or stipend, got %q", c.str("param"))
}

func (c *call) userTag(key string) (string, error) {
	alias, err := c.required(key)
	if err != nil {
		return "", err
	}
	tag, ok := c.s.users[alias]
	if !ok {
		return "", fmt.Errorf("unknown user %q", alias)
	}
	return tag, nil
}

func (c *call) groupTag(key string) (string, error) {
	alias, err := c.required(key)
	if err != nil {
		return "", err
	}
	tag, ok := c.s.groups[alias]
	if !ok {
		return "", fmt.Errorf("unknown group %q", alias)
	}
	return tag, nil
}

// actor returns the user named by key, opened on this device.
func (c *call) actor(ctx context.Context, key string) (*entity.User, error) {
	tag, err := c.userTag(key)
	if err != nil {
		return nil, err
	}
	if u, ok := c.app.Realm.Users.Lookup(nil, tag); ok && u.Owned(nil) {
		return u, nil
	}
	return c.app.Realm.Open(ctx, tag)
}

// other returns the user named by key as this device sees it, without
// requiring access to their private half.
func (c *call) other(ctx context.Context, key string) (*entity.User, error) {
	tag, err := c.userTag(key)
	if err != nil {
		return nil, err
	}
	return c.app.Realm.User(ctx, tag)
}

func (c *call) group(ctx context.Context, key string) (*entity.Group, error) {
	tag, err := c.groupTag(key)
	if err != nil {
		return nil, err
	}
	if g, ok := c.app.Realm.Groups.Lookup(nil, tag); ok {
		return g, nil
	}
	return c.app.Realm.Group(ctx, tag)
}

// actorAndGroup resolves the "user" and "group" arguments.
func (c *call) actorAndGroup(ctx context.Context) (*entity.User, *entity.Group, error) {
	u, err := c.actor(ctx, "user")
	if err != nil {
		return nil, nil, err
	}
	g, err := c.group(ctx, "group")
	if err != nil {
		return nil, nil, err
	}
	return u, g, nil
}

func (c *call) bind(aliases map[string]string, tag string) error {
	alias, err := c.required("as")
	if err != nil {
		return err
	}
	aliases[alias] = tag
	return nil
}

func userResult(u *entity.User) ir.IRObject {
	return ir.IRObject{
		"title":   ir.IRString(u.Title(nil)),
		"groups":  ir.IRInt(len(u.Groups(nil))),
		"devices": ir.IRInt(len(u.Devices(nil))),
	}
}

func meanResult(a economy.Amount, ok bool) ir.IRObject {
	if !ok {
		return ir.IRObject{}
	}
	return ir.IRObject{"mean": ir.IRString(a.String())}
}

func userCreate(ctx context.Context, c *call) (ir.IRObject, error) {
	opts := entity.UserOptions{
		Title:    c.str("title"),
		Picture:  c.str("picture"),
		Question: c.strOr("question", defaultQuestion),
		Answer:   c.strOr("answer", defaultAnswer),
		Device:   c.device,
	}
	if c.str("bank") != "" {
		bank, err := c.groupTag("bank")
		if err != nil {
			return nil, err
		}
		opts.Bank = bank
	}
	if _, err := c.required("as"); err != nil {
		return nil, err
	}
	u, err := c.app.Realm.CreateUser(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := c.bind(c.s.users, u.Tag()); err != nil {
		return nil, err
	}
	return userResult(u), nil
}

func userOpen(ctx context.Context, c *call) (ir.IRObject, error) {
	u, err := c.actor(ctx, "user")
	if err != nil {
		return nil, err
	}
	return userResult(u), nil
}

func userEdit(ctx context.Context, c *call) (ir.IRObject, error) {
	u, err := c.actor(ctx, "user")
	if err != nil {
		return nil, err
	}
	changes := make(map[string]ir.IRValue)
	for _, field := range []string{"title", "picture", "q0", "a0"} {
		if v, ok := c.args[field]; ok {
			changes[field] = v
		}
	}
	if err := u.Edit(ctx, changes); err != nil {
		return nil, err
	}
	return userResult(u), nil
}

func userRecover(ctx context.Context, c *call) (ir.IRObject, error) {
	tag, err := c.userTag("user")
	if err != nil {
		return nil, err
	}
	u, err := c.app.Realm.RecoverUser(ctx, tag,
		c.strOr("question", defaultQuestion),
		c.strOr("answer", defaultAnswer),
		c.device,
	)
	if err != nil {
		return nil, err
	}
	return userResult(u), nil
}

func userDeauthorize(ctx context.Context, c *call) (ir.IRObject, error) {
	u, err := c.actor(ctx, "user")
	if err != nil {
		return nil, err
	}
	name, err := c.required("name")
	if err != nil {
		return nil, err
	}
	if err := u.Deauthorize(ctx, c.strOr("question", defaultQuestion), c.strOr("answer", defaultAnswer), name); err != nil {
		return nil, err
	}
	return userResult(u), nil
}

func userDestroy(ctx context.Context, c *call) (ir.IRObject, error) {
	u, err := c.actor(ctx, "user")
	if err != nil {
		return nil, err
	}
	return nil, u.Destroy(ctx, c.strOr("question", defaultQuestion), c.strOr("answer", defaultAnswer))
}

func groupCreate(ctx context.Context, c *call) (ir.IRObject, error) {
	founder, err := c.actor(ctx, "user")
	if err != nil {
		return nil, err
	}
	if _, err := c.required("as"); err != nil {
		return nil, err
	}
	opts := entity.GroupOptions{
		Name:        c.str("name"),
		Picture:     c.str("picture"),
		PrivateOnly: ir.AsBool(c.args["private_only"]),
	}
	for _, alias := range ir.AsStrings(c.args["members"]) {
		tag, ok := c.s.users[alias]
		if !ok {
			return nil, fmt.Errorf("unknown user %q", alias)
		}
		opts.Members = append(opts.Members, tag)
	}
	g, err := c.app.Realm.CreateGroup(ctx, founder, opts)
	if err != nil {
		return nil, err
	}
	if err := c.bind(c.s.groups, g.Tag()); err != nil {
		return nil, err
	}
	return ir.IRObject{
		"title":   ir.IRString(g.Title(nil)),
		"members": ir.IRInt(len(g.Members(nil))),
	}, nil
}

func groupAdopt(ctx context.Context, c *call) (ir.IRObject, error) {
	u, g, err := c.actorAndGroup(ctx)
	if err != nil {
		return nil, err
	}
	if err := u.AdoptGroup(ctx, g); err != nil {
		return nil, err
	}
	return userResult(u), nil
}

func groupAbandon(ctx context.Context, c *call) (ir.IRObject, error) {
	u, g, err := c.actorAndGroup(ctx)
	if err != nil {
		return nil, err
	}
	if err := u.AbandonGroup(ctx, g); err != nil {
		return nil, err
	}
	return userResult(u), nil
}

func groupAdmit(ctx context.Context, c *call) (ir.IRObject, error) {
	u, g, err := c.actorAndGroup(ctx)
	if err != nil {
		return nil, err
	}
	member, err := c.userTag("member")
	if err != nil {
		return nil, err
	}
	return nil, g.Admit(ctx, u, member)
}

func groupEdit(ctx context.Context, c *call) (ir.IRObject, error) {
	u, g, err := c.actorAndGroup(ctx)
	if err != nil {
		return nil, err
	}
	changes := make(map[string]ir.IRValue)
	for _, field := range []string{"name", "picture", "members"} {
		if v, ok := c.args[field]; ok {
			changes[field] = v
		}
	}
	if err := g.Edit(ctx, u, changes); err != nil {
		return nil, err
	}
	return ir.IRObject{"title": ir.IRString(g.Title(nil))}, nil
}

func groupVote(ctx context.Context, c *call) (ir.IRObject, error) {
	u, g, err := c.actorAndGroup(ctx)
	if err != nil {
		return nil, err
	}
	p, err := c.param()
	if err != nil {
		return nil, err
	}
	amount, err := c.amount("amount")
	if err != nil {
		return nil, err
	}
	if err := g.Vote(ctx, u, p, amount); err != nil {
		return nil, err
	}
	return meanResult(parameter(g, p))
}

func groupUnvote(ctx context.Context, c *call) (ir.IRObject, error) {
	u, g, err := c.actorAndGroup(ctx)
	if err != nil {
		return nil, err
	}
	p, err := c.param()
	if err != nil {
		return nil, err
	}
	if err := g.Unvote(ctx, u, p); err != nil {
		return nil, err
	}
	return meanResult(parameter(g, p))
}

func parameter(g *entity.Group, p entity.Parameter) (economy.Amount, bool) {
	if p == entity.ParamRate {
		return g.Rate(nil)
	}
	return g.Stipend(nil)
}

func groupPay(ctx context.Context, c *call) (ir.IRObject, error) {
	payer, g, err := c.actorAndGroup(ctx)
	if err != nil {
		return nil, err
	}
	payee, err := c.other(ctx, "to")
	if err != nil {
		return nil, err
	}
	amount, err := c.amount("amount")
	if err != nil {
		return nil, err
	}
	if _, err := g.Pay(ctx, payer, payee, amount); err != nil {
		return nil, err
	}
	from, err := g.Member(ctx, payer.Tag())
	if err != nil {
		return nil, err
	}
	to, err := g.Member(ctx, payee.Tag())
	if err != nil {
		return nil, err
	}
	return ir.IRObject{
		"payer": ir.IRString(from.Balance(nil).String()),
		"payee": ir.IRString(to.Balance(nil).String()),
	}, nil
}

func groupSend(ctx context.Context, c *call) (ir.IRObject, error) {
	u, g, err := c.actorAndGroup(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := g.Send(ctx, u, c.str("text")); err != nil {
		return nil, err
	}
	return ir.IRObject{"messages": ir.IRInt(len(g.History(nil)))}, nil
}

func groupMessages(ctx context.Context, c *call) (ir.IRObject, error) {
	if c.str("user") != "" {
		if _, err := c.actor(ctx, "user"); err != nil {
			return nil, err
		}
	}
	g, err := c.group(ctx, "group")
	if err != nil {
		return nil, err
	}
	msgs, err := g.Messages(ctx)
	if err != nil {
		return nil, err
	}
	texts := make(ir.IRArray, 0, len(msgs))
	for _, m := range msgs {
		if m.Type(nil) == entity.MessagePayment {
			texts = append(texts, ir.IRString("payment "+m.Amount(nil).String()))
			continue
		}
		texts = append(texts, ir.IRString(m.Text(nil)))
	}
	return ir.IRObject{"texts": texts}, nil
}

func invitationCreate(ctx context.Context, c *call) (ir.IRObject, error) {
	u, err := c.actor(ctx, "user")
	if err != nil {
		return nil, err
	}
	bank, err := c.group(ctx, "bank")
	if err != nil {
		return nil, err
	}
	alias, err := c.required("as")
	if err != nil {
		return nil, err
	}
	inv, err := c.app.Realm.CreateInvitation(ctx, u, bank)
	if err != nil {
		return nil, err
	}
	c.s.invitations[alias] = inv
	return ir.IRObject{"secret": ir.IRString(inv.Secret)}, nil
}

func invitationClaim(ctx context.Context, c *call) (ir.IRObject, error) {
	alias, err := c.required("invitation")
	if err != nil {
		return nil, err
	}
	inv, ok := c.s.invitations[alias]
	if !ok {
		return nil, fmt.Errorf("unknown invitation %q", alias)
	}
	if secret := c.str("secret"); secret != "" {
		inv.Secret = secret
	}
	if _, err := c.required("as"); err != nil {
		return nil, err
	}
	u, err := c.app.Realm.ClaimInvitation(ctx, inv, entity.UserOptions{
		Title:    c.str("title"),
		Picture:  c.str("picture"),
		Question: c.strOr("question", defaultQuestion),
		Answer:   c.strOr("answer", defaultAnswer),
		Device:   c.device,
	})
	if err != nil {
		return nil, err
	}
	if err := c.bind(c.s.users, u.Tag()); err != nil {
		return nil, err
	}
	return userResult(u), nil
}

func clockAdvance(_ context.Context, c *call) (ir.IRObject, error) {
	hours := ir.AsInt(c.args["hours"])
	if hours <= 0 {
		return nil, fmt.Errorf("hours must be positive, got %d", hours)
	}
	now := c.s.clock.Advance(time.Duration(hours) * time.Hour)
	return ir.IRObject{"now": ir.IRString(now.UTC().Format(time.RFC3339))}, nil
}

func deviceSync(ctx context.Context, c *call) (ir.IRObject, error) {
	_, err := c.app.Sync(ctx)
	return nil, err
}
