package collection

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/mutual/internal/credential"
	"github.com/roach88/mutual/internal/ir"
	"github.com/roach88/mutual/internal/store"
)

// ErrUnauthorized means the author may not write a record with that owner.
var ErrUnauthorized = errors.New("author not authorized for owner")

// Store is the contract persisted entities depend on.
type Store interface {
	Name() string
	// Retrieve returns the verified record, or nil if there is none.
	Retrieve(ctx context.Context, opts RetrieveOptions) (*Verified, error)
	// Store writes payload and returns the record's address.
	Store(ctx context.Context, payload ir.IRObject, opts StoreOptions) (string, error)
	Remove(ctx context.Context, opts RemoveOptions) error
}

// Versioned is a Store whose records append to a stream.
type Versioned interface {
	Store
	// Root returns the current head hash of a stream, or "".
	Root(ctx context.Context, stream string) (string, error)
}

// Credentials is the slice of the keyring a collection needs.
type Credentials interface {
	Sign(ctx context.Context, tag string, data []byte) (string, error)
	Verify(tag string, data []byte, signature string) error
	Encrypt(ctx context.Context, tag string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, tag string, ciphertext []byte) ([]byte, error)
	IsMember(ctx context.Context, team, member string) (bool, error)
}

// Clock supplies wall time for the iat header.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RetrieveOptions selects a record. When Member is set the record is only
// returned if Member is its owner or belongs to the owner's team; leave it
// empty to read regardless of current membership.
type RetrieveOptions struct {
	Tag    string
	Member string
}

// StoreOptions addresses a write. Owner defaults to Tag.
type StoreOptions struct {
	Tag    string
	Owner  string
	Author string
}

// RemoveOptions addresses a removal.
type RemoveOptions struct {
	Tag    string
	Owner  string
	Author string
}

// Protected is the signed header of every record.
type Protected struct {
	Author     string // kid
	Owner      string // iss
	Tag        string // sub
	Issued     int64  // iat, unix millis
	Collection string
	EncryptTo  string
	Antecedent string
}

func (p Protected) object() ir.IRObject {
	obj := ir.IRObject{
		"kid": ir.IRString(p.Author),
		"iss": ir.IRString(p.Owner),
		"sub": ir.IRString(p.Tag),
		"iat": ir.IRInt(p.Issued),
		"col": ir.IRString(p.Collection),
		"v":   ir.IRString(ir.SchemaVersion),
	}
	if p.EncryptTo != "" {
		obj["enc"] = ir.IRString(p.EncryptTo)
	}
	if p.Antecedent != "" {
		obj["ant"] = ir.IRString(p.Antecedent)
	}
	return obj
}

func protectedFrom(obj ir.IRObject) Protected {
	return Protected{
		Author:     ir.AsString(obj["kid"]),
		Owner:      ir.AsString(obj["iss"]),
		Tag:        ir.AsString(obj["sub"]),
		Issued:     ir.AsInt(obj["iat"]),
		Collection: ir.AsString(obj["col"]),
		EncryptTo:  ir.AsString(obj["enc"]),
		Antecedent: ir.AsString(obj["ant"]),
	}
}

// Verified is a record whose signature checked out. JSON is nil when the
// body is encrypted and this device cannot open it.
type Verified struct {
	Protected Protected
	JSON      ir.IRObject
	Decrypted bool
	Hash      string
	Seq       int64
}

// Options configures a Collection.
type Options struct {
	Name      string
	Encrypted bool
	EncryptTo ir.EncryptTarget
	Versioned bool
	Clock     Clock
	Logger    *slog.Logger
}

// Collection is a Store over the SQLite store and a keyring.
type Collection struct {
	name      string
	encrypted bool
	encryptTo ir.EncryptTarget
	versioned bool
	db        *store.Store
	creds     Credentials
	clock     Clock
	logger    *slog.Logger
}

var (
	_ Store     = (*Collection)(nil)
	_ Versioned = (*Collection)(nil)
)

// New returns a collection named opts.Name.
func New(db *store.Store, creds Credentials, opts Options) *Collection {
	c := &Collection{
		name:      opts.Name,
		encrypted: opts.Encrypted || opts.Versioned,
		encryptTo: opts.EncryptTo,
		versioned: opts.Versioned,
		db:        db,
		creds:     creds,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if c.encryptTo == "" {
		c.encryptTo = ir.EncryptSelf
	}
	if c.clock == nil {
		c.clock = systemClock{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Versioned reports whether records append to streams.
func (c *Collection) Versioned() bool { return c.versioned }

// authorize checks that author may write under owner.
func (c *Collection) authorize(ctx context.Context, author, owner string) error {
	if author == owner {
		return nil
	}
	ok, err := c.creds.IsMember(ctx, owner, author)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s writing as %s: %w", author, owner, ErrUnauthorized)
	}
	return nil
}

// Store signs payload as opts.Author and writes it.
func (c *Collection) Store(ctx context.Context, payload ir.IRObject, opts StoreOptions) (string, error) {
	if opts.Tag == "" {
		return "", fmt.Errorf("store %s: tag is required", c.name)
	}
	if opts.Owner == "" {
		opts.Owner = opts.Tag
	}
	if opts.Author == "" {
		opts.Author = opts.Owner
	}
	if err := c.authorize(ctx, opts.Author, opts.Owner); err != nil {
		return "", fmt.Errorf("store %s/%s: %w", c.name, opts.Tag, err)
	}

	if c.versioned {
		return c.append(ctx, payload, opts)
	}

	existing, err := c.db.GetRecord(ctx, c.name, opts.Tag)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", c.name, err)
	}
	if existing != nil && existing.Owner != opts.Owner {
		if err := c.authorize(ctx, opts.Author, existing.Owner); err != nil {
			return "", fmt.Errorf("store %s/%s: %w", c.name, opts.Tag, err)
		}
	}

	envelope, err := c.seal(ctx, payload, Protected{
		Author:     opts.Author,
		Owner:      opts.Owner,
		Tag:        opts.Tag,
		Issued:     c.clock.Now().UnixMilli(),
		Collection: c.name,
	})
	if err != nil {
		return "", fmt.Errorf("store %s/%s: %w", c.name, opts.Tag, err)
	}

	if _, err := c.db.PutRecord(ctx, store.Record{
		Collection: c.name,
		Tag:        opts.Tag,
		Owner:      opts.Owner,
		Author:     opts.Author,
		Envelope:   envelope,
	}); err != nil {
		return "", fmt.Errorf("store %s: %w", c.name, err)
	}
	c.logger.Debug("record stored", "collection", c.name, "tag", opts.Tag, "author", opts.Author)
	return opts.Tag, nil
}

func (c *Collection) append(ctx context.Context, payload ir.IRObject, opts StoreOptions) (string, error) {
	head, err := c.db.Head(ctx, c.name, opts.Tag)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", c.name, err)
	}
	if ant, ok := payload["antecedent"]; ok && ir.AsString(ant) != head {
		return "", fmt.Errorf("store %s/%s: payload antecedent %q, head %q: %w",
			c.name, opts.Tag, ir.AsString(ant), head, store.ErrStaleHead)
	}

	prot := Protected{
		Author:     opts.Author,
		Owner:      opts.Owner,
		Tag:        opts.Tag,
		Issued:     c.clock.Now().UnixMilli(),
		Collection: c.name,
		Antecedent: head,
	}
	envelope, err := c.seal(ctx, payload, prot)
	if err != nil {
		return "", fmt.Errorf("store %s/%s: %w", c.name, opts.Tag, err)
	}
	env, err := ir.ParseObject(envelope)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", c.name, err)
	}
	hash, err := ir.VersionHash(opts.Tag, head, env)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", c.name, err)
	}

	if _, err := c.db.AppendVersion(ctx, store.Version{
		Collection: c.name,
		Stream:     opts.Tag,
		Hash:       hash,
		Antecedent: head,
		Author:     opts.Author,
		Envelope:   envelope,
	}); err != nil {
		return "", fmt.Errorf("store %s: %w", c.name, err)
	}
	c.logger.Debug("version appended", "collection", c.name, "stream", opts.Tag, "hash", hash)
	return opts.Tag, nil
}

// seal builds and signs the envelope bytes.
func (c *Collection) seal(ctx context.Context, payload ir.IRObject, prot Protected) ([]byte, error) {
	body, err := ir.MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}

	env := ir.IRObject{}
	if c.encrypted {
		prot.EncryptTo = prot.Tag
		if c.encryptTo == ir.EncryptOwner {
			prot.EncryptTo = prot.Owner
		}
		ciphertext, err := c.creds.Encrypt(ctx, prot.EncryptTo, body)
		if err != nil {
			return nil, err
		}
		env["ciphertext"] = ir.IRString(base64.RawURLEncoding.EncodeToString(ciphertext))
	} else {
		env["payload"] = payload
	}
	env["protected"] = prot.object()

	signed, err := ir.MarshalCanonical(env)
	if err != nil {
		return nil, fmt.Errorf("canonical envelope: %w", err)
	}
	sig, err := c.creds.Sign(ctx, prot.Author, signed)
	if err != nil {
		return nil, err
	}
	env["signature"] = ir.IRString(sig)
	return ir.MarshalCanonical(env)
}

// Retrieve reads and verifies the record at opts.Tag. For versioned
// collections opts.Tag is a version hash.
func (c *Collection) Retrieve(ctx context.Context, opts RetrieveOptions) (*Verified, error) {
	if opts.Tag == "" {
		return nil, fmt.Errorf("retrieve %s: tag is required", c.name)
	}

	var raw []byte
	var seq int64
	var hash string
	if c.versioned {
		v, err := c.db.GetVersion(ctx, c.name, opts.Tag)
		if err != nil {
			return nil, fmt.Errorf("retrieve %s: %w", c.name, err)
		}
		if v == nil {
			return nil, nil
		}
		raw, seq, hash = v.Envelope, v.Seq, v.Hash
	} else {
		r, err := c.db.GetRecord(ctx, c.name, opts.Tag)
		if err != nil {
			return nil, fmt.Errorf("retrieve %s: %w", c.name, err)
		}
		if r == nil {
			return nil, nil
		}
		raw, seq = r.Envelope, r.Seq
	}

	verified, err := c.open(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s/%s: %w", c.name, opts.Tag, err)
	}
	verified.Seq = seq
	verified.Hash = hash

	if opts.Member != "" && opts.Member != verified.Protected.Owner {
		ok, err := c.creds.IsMember(ctx, verified.Protected.Owner, opts.Member)
		if err != nil {
			return nil, fmt.Errorf("retrieve %s: %w", c.name, err)
		}
		if !ok {
			return nil, fmt.Errorf("retrieve %s/%s as %s: %w", c.name, opts.Tag, opts.Member, credential.ErrNotMember)
		}
	}
	return verified, nil
}

// open verifies envelope bytes and decrypts the body when possible.
func (c *Collection) open(ctx context.Context, raw []byte) (*Verified, error) {
	env, err := ir.ParseObject(raw)
	if err != nil {
		return nil, err
	}
	protObj, ok := env["protected"].(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("envelope has no protected header")
	}
	prot := protectedFrom(protObj)

	sig := ir.AsString(env["signature"])
	unsigned := ir.IRObject{}
	for k, v := range env {
		if k != "signature" {
			unsigned[k] = v
		}
	}
	signed, err := ir.MarshalCanonical(unsigned)
	if err != nil {
		return nil, err
	}
	if err := c.creds.Verify(prot.Author, signed, sig); err != nil {
		return nil, err
	}

	out := &Verified{Protected: prot}
	if payload, ok := env["payload"].(ir.IRObject); ok {
		out.JSON = payload
		out.Decrypted = true
		return out, nil
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(ir.AsString(env["ciphertext"]))
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	body, err := c.creds.Decrypt(ctx, prot.EncryptTo, ciphertext)
	if errors.Is(err, credential.ErrNoAccess) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if out.JSON, err = ir.ParseObject(body); err != nil {
		return nil, err
	}
	out.Decrypted = true
	return out, nil
}

// Remove deletes the record (or stream) at opts.Tag.
func (c *Collection) Remove(ctx context.Context, opts RemoveOptions) error {
	if opts.Tag == "" {
		return fmt.Errorf("remove %s: tag is required", c.name)
	}
	if opts.Owner == "" {
		opts.Owner = opts.Tag
	}
	if opts.Author == "" {
		opts.Author = opts.Owner
	}

	owner := opts.Owner
	if !c.versioned {
		existing, err := c.db.GetRecord(ctx, c.name, opts.Tag)
		if err != nil {
			return fmt.Errorf("remove %s: %w", c.name, err)
		}
		if existing == nil {
			return nil
		}
		owner = existing.Owner
	}
	if err := c.authorize(ctx, opts.Author, owner); err != nil {
		return fmt.Errorf("remove %s/%s: %w", c.name, opts.Tag, err)
	}

	var err error
	if c.versioned {
		_, err = c.db.DeleteStream(ctx, c.name, opts.Tag)
	} else {
		_, err = c.db.DeleteRecord(ctx, c.name, opts.Tag)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", c.name, err)
	}
	c.logger.Debug("record removed", "collection", c.name, "tag", opts.Tag, "author", opts.Author)
	return nil
}

// Root returns the head hash of stream.
func (c *Collection) Root(ctx context.Context, stream string) (string, error) {
	if !c.versioned {
		return "", fmt.Errorf("root %s: collection is not versioned", c.name)
	}
	return c.db.Head(ctx, c.name, stream)
}
