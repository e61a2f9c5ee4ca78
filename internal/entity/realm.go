package entity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/economy"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/persist"
	"github.com/roach88/mutual/internal/store"
)

// Collection names. The change feed reports writes under these names.
const (
	CollectionUsers        = "users"
	CollectionUsersPrivate = "users.private"
	CollectionGroups       = "groups"
	CollectionGroupsPriv   = "groups.private"
	CollectionMembers      = "members"
	CollectionMessages     = "messages"
)

// Kind names as declared in the kind file.
const (
	KindUser    = "User"
	KindGroup   = "Group"
	KindMember  = "Member"
	KindMessage = "Message"
)

// Clock supplies wall time.
type Clock interface {
	Now() time.Time
}

// SecretGenerator produces one-time invitation secrets.
type SecretGenerator interface {
	Generate() string
}

// Kinds are the compiled declarations of the four entity kinds.
type Kinds struct {
	User    ir.KindSpec
	Group   ir.KindSpec
	Member  ir.KindSpec
	Message ir.KindSpec
}

// KindsFrom picks the entity kinds out of a compiled kind list.
func KindsFrom(specs []ir.KindSpec) (Kinds, error) {
	byName := make(map[string]ir.KindSpec, len(specs))
	for _, k := range specs {
		byName[k.Name] = k
	}
	var out Kinds
	for name, dst := range map[string]*ir.KindSpec{
		KindUser:    &out.User,
		KindGroup:   &out.Group,
		KindMember:  &out.Member,
		KindMessage: &out.Message,
	} {
		k, ok := byName[name]
		if !ok {
			return Kinds{}, fmt.Errorf("kind %s is not declared", name)
		}
		*dst = k
	}
	if !out.User.HasPrivate() || !out.Group.HasPrivate() {
		return Kinds{}, fmt.Errorf("User and Group must declare private properties")
	}
	if out.Message.Store != ir.StoreVersioned {
		return Kinds{}, fmt.Errorf("Message must be versioned, got %s", out.Message.Store)
	}
	return out, nil
}

// Config configures a Realm.
type Config struct {
	Store *store.Store
	Keys  *credential.Keyring
	Kinds Kinds
	// Clock defaults to the system clock.
	Clock Clock
	// Secrets defaults to UUIDv7 strings.
	Secrets SecretGenerator
	// Units is the balance quantum denominator. Defaults to
	// economy.DefaultUnits.
	Units  int64
	Logger *slog.Logger
}

// Realm owns the live instances of one device's session.
type Realm struct {
	keys    *credential.Keyring
	kinds   Kinds
	clock   Clock
	secrets SecretGenerator
	units   int64
	logger  *slog.Logger
	history collection.Versioned

	Users    *persist.Directory[*User]
	Groups   *persist.Directory[*Group]
	Members  *persist.Directory[*Member]
	Messages *persist.Directory[*Message]
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewRealm builds the collections for each kind and empty directories
// over them.
func NewRealm(cfg Config) (*Realm, error) {
	if cfg.Store == nil || cfg.Keys == nil {
		return nil, fmt.Errorf("new realm: store and keyring are required")
	}
	r := &Realm{
		keys:    cfg.Keys,
		kinds:   cfg.Kinds,
		clock:   cfg.Clock,
		secrets: cfg.Secrets,
		units:   cfg.Units,
		logger:  cfg.Logger,
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if r.secrets == nil {
		r.secrets = uuidSecrets{}
	}
	if r.units <= 0 {
		r.units = economy.DefaultUnits
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	open := func(name string, kind ir.KindSpec, encrypted bool) *collection.Collection {
		return collection.New(cfg.Store, cfg.Keys, collection.Options{
			Name:      name,
			Encrypted: encrypted,
			EncryptTo: kind.EncryptTo,
			Versioned: kind.Store == ir.StoreVersioned,
			Clock:     r.clock,
			Logger:    r.logger,
		})
	}

	k := cfg.Kinds
	users := persist.Stores{
		Public:  open(CollectionUsers, k.User, false),
		Private: open(CollectionUsersPrivate, k.User, true),
	}
	groups := persist.Stores{
		Public:  open(CollectionGroups, k.Group, false),
		Private: open(CollectionGroupsPriv, k.Group, true),
	}
	members := persist.Stores{Public: open(CollectionMembers, k.Member, true)}
	messages := open(CollectionMessages, k.Message, true)
	r.history = messages

	r.Users = persist.NewDirectory(k.User, users, r.newUser, r.logger)
	r.Groups = persist.NewDirectory(k.Group, groups, r.newGroup, r.logger)
	r.Members = persist.NewDirectory(k.Member, members, newMember, r.logger)
	r.Messages = persist.NewDirectory(k.Message, persist.Stores{Public: messages}, newMessage, r.logger)
	return r, nil
}

// Keys returns the realm's keyring.
func (r *Realm) Keys() *credential.Keyring { return r.keys }

// Now reads the realm's clock.
func (r *Realm) Now() time.Time { return r.clock.Now() }

// Units returns the balance quantum denominator.
func (r *Realm) Units() int64 { return r.units }

// Open loads a user this device can act as, adopts it and its groups.
func (r *Realm) Open(ctx context.Context, tag string) (*User, error) {
	if !r.keys.CanAccess(ctx, tag) {
		return nil, persist.Unauthorized("open", tag, credential.ErrNoAccess)
	}
	u, err := r.Users.Fetch(ctx, tag, persist.Options{})
	if err != nil {
		return nil, err
	}
	if err := u.Adopt(ctx); err != nil {
		return nil, err
	}
	if _, err := u.LoadGroups(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

// Group fetches a group. It is not adopted.
func (r *Realm) Group(ctx context.Context, tag string) (*Group, error) {
	return r.Groups.Fetch(ctx, tag, persist.Options{})
}

// User fetches a user. It is not adopted.
func (r *Realm) User(ctx context.Context, tag string) (*User, error) {
	return r.Users.Fetch(ctx, tag, persist.Options{})
}

// answerGate fails closed unless answer hashes to the stored answer for
// prompt.
func answerGate(op, tag string, question, hash, prompt, answer string) error {
	if hash == "" || prompt != question || credential.HashAnswer(prompt, answer) != hash {
		return persist.Unauthorized(op, tag, ErrWrongAnswer)
	}
	return nil
}

// recoveryKey finds the recovery key among a user team's direct members.
func (r *Realm) recoveryKey(ctx context.Context, team string) (string, error) {
	members, err := r.keys.Members(ctx, team)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		kind, err := r.keys.Kind(ctx, m)
		if err != nil {
			return "", err
		}
		if kind == store.KeyRecovery {
			return m, nil
		}
	}
	return "", fmt.Errorf("%s: %w", team, ErrNoRecoveryKey)
}
