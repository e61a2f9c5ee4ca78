package credential

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"filippo.io/age"

	"github.com/roach88/mutual/internal/store"
)

// DefaultScryptWorkFactor is the log2 scrypt cost for recovery keys.
const DefaultScryptWorkFactor = 18

// Keyring creates, unlocks and destroys keys on behalf of one device.
type Keyring struct {
	store      *store.Store
	device     string
	logger     *slog.Logger
	workFactor int

	mu       sync.Mutex
	answers  map[string]string
	unlocked map[string]*bundle
}

// Option configures a Keyring.
type Option func(*Keyring)

// WithLogger sets the keyring's logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keyring) { k.logger = l }
}

// WithScryptWorkFactor sets the log2 scrypt cost used when sealing
// recovery keys.
func WithScryptWorkFactor(n int) Option {
	return func(k *Keyring) { k.workFactor = n }
}

// NewKeyring returns a keyring for device over st.
func NewKeyring(st *store.Store, device string, opts ...Option) *Keyring {
	k := &Keyring{
		store:      st,
		device:     device,
		logger:     slog.Default(),
		workFactor: DefaultScryptWorkFactor,
		answers:    make(map[string]string),
		unlocked:   make(map[string]*bundle),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Device returns the device label this keyring holds secrets for.
func (k *Keyring) Device() string {
	return k.device
}

// CreateOptions describes a new key.
type CreateOptions struct {
	Kind store.KeyKind
	// Members are the keys that can unlock a team key. Required for teams.
	Members []string
	// Answer seals a recovery key. Required for recovery keys.
	Answer string
}

// Create generates a key and returns its tag.
func (k *Keyring) Create(ctx context.Context, opts CreateOptions) (string, error) {
	b, err := newBundle()
	if err != nil {
		return "", fmt.Errorf("create %s key: %w", opts.Kind, err)
	}
	tag := b.tag()
	recipient, err := b.recipient()
	if err != nil {
		return "", fmt.Errorf("create %s key: %w", opts.Kind, err)
	}
	rec := store.KeyRecord{Tag: tag, Kind: opts.Kind, Recipient: recipient}

	plaintext, err := b.marshal()
	if err != nil {
		return "", fmt.Errorf("create %s key: %w", opts.Kind, err)
	}

	switch opts.Kind {
	case store.KeyDevice:
		if err := k.store.PutDeviceSecret(ctx, k.device, tag, plaintext); err != nil {
			return "", fmt.Errorf("create device key: %w", err)
		}
	case store.KeyTeam:
		members := dedupe(opts.Members)
		if len(members) == 0 {
			return "", fmt.Errorf("create team key: at least one member is required")
		}
		sealed, err := k.sealTo(ctx, plaintext, members)
		if err != nil {
			return "", fmt.Errorf("create team key: %w", err)
		}
		rec.Sealed = sealed
		rec.Members = members
	case store.KeyRecovery:
		if opts.Answer == "" {
			return "", fmt.Errorf("create recovery key: answer is required")
		}
		sealed, err := k.sealToAnswer(plaintext, NormalizeAnswer(opts.Answer))
		if err != nil {
			return "", fmt.Errorf("create recovery key: %w", err)
		}
		rec.Sealed = sealed
	default:
		return "", fmt.Errorf("create key: unknown kind %q", opts.Kind)
	}

	if err := k.store.PutKey(ctx, rec); err != nil {
		return "", fmt.Errorf("create %s key: %w", opts.Kind, err)
	}

	k.mu.Lock()
	k.unlocked[tag] = b
	k.mu.Unlock()

	k.logger.Debug("key created", "kind", opts.Kind, "tag", tag)
	return tag, nil
}

func (k *Keyring) sealTo(ctx context.Context, plaintext []byte, members []string) ([]byte, error) {
	keys := make([]string, 0, len(members))
	for _, m := range members {
		rec, err := k.store.GetKey(ctx, m)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("member %s: %w", m, ErrUnknownKey)
		}
		keys = append(keys, rec.Recipient)
	}
	recipients, err := parseRecipients(keys)
	if err != nil {
		return nil, err
	}
	return seal(plaintext, recipients...)
}

func (k *Keyring) sealToAnswer(plaintext []byte, answer string) ([]byte, error) {
	r, err := age.NewScryptRecipient(answer)
	if err != nil {
		return nil, fmt.Errorf("scrypt recipient: %w", err)
	}
	r.SetWorkFactor(k.workFactor)
	return seal(plaintext, r)
}

// unlock finds the private half of tag through any path this device holds.
func (k *Keyring) unlock(ctx context.Context, tag string) (*bundle, error) {
	return k.unlockVisiting(ctx, tag, make(map[string]bool))
}

func (k *Keyring) unlockVisiting(ctx context.Context, tag string, visited map[string]bool) (*bundle, error) {
	k.mu.Lock()
	if b, ok := k.unlocked[tag]; ok {
		k.mu.Unlock()
		return b, nil
	}
	answer, hasAnswer := k.answers[tag]
	k.mu.Unlock()

	visited[tag] = true

	secret, err := k.store.GetDeviceSecret(ctx, k.device, tag)
	if err != nil {
		return nil, err
	}
	if secret != nil {
		return k.remember(tag, secret)
	}

	rec, err := k.store.GetKey(ctx, tag)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", tag, ErrUnknownKey)
	}

	switch rec.Kind {
	case store.KeyRecovery:
		if !hasAnswer {
			return nil, fmt.Errorf("%s: %w", tag, ErrNoAccess)
		}
		id, err := age.NewScryptIdentity(answer)
		if err != nil {
			return nil, fmt.Errorf("scrypt identity: %w", err)
		}
		plaintext, err := unseal(rec.Sealed, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tag, ErrNoAccess)
		}
		return k.remember(tag, plaintext)
	case store.KeyTeam:
		for _, m := range rec.Members {
			if visited[m] {
				continue
			}
			mb, err := k.unlockVisiting(ctx, m, visited)
			if err != nil {
				if errors.Is(err, ErrNoAccess) || errors.Is(err, ErrUnknownKey) {
					continue
				}
				return nil, err
			}
			id, err := mb.identity()
			if err != nil {
				return nil, err
			}
			plaintext, err := unseal(rec.Sealed, id)
			if err != nil {
				continue
			}
			return k.remember(tag, plaintext)
		}
	}
	return nil, fmt.Errorf("%s: %w", tag, ErrNoAccess)
}

func (k *Keyring) remember(tag string, plaintext []byte) (*bundle, error) {
	b, err := unmarshalBundle(plaintext)
	if err != nil {
		return nil, err
	}
	if b.tag() != tag {
		return nil, fmt.Errorf("key bundle for %s holds %s", tag, b.tag())
	}
	k.mu.Lock()
	k.unlocked[tag] = b
	k.mu.Unlock()
	return b, nil
}

func (k *Keyring) forget(tag string) {
	k.mu.Lock()
	delete(k.unlocked, tag)
	k.mu.Unlock()
}

// CanAccess reports whether this device can unlock tag.
func (k *Keyring) CanAccess(ctx context.Context, tag string) bool {
	_, err := k.unlock(ctx, tag)
	return err == nil
}

// Sign signs data with tag's key and returns the base64url signature.
func (k *Keyring) Sign(ctx context.Context, tag string, data []byte) (string, error) {
	b, err := k.unlock(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(ed25519.Sign(b.privateKey(), data)), nil
}

// Verify checks a signature made by Sign against the tag alone.
func (k *Keyring) Verify(tag string, data []byte, signature string) error {
	pub, err := DecodeTag(tag)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("verify: decode signature: %w", err)
	}
	if !ed25519.Verify(pub, data, sig) {
		return fmt.Errorf("verify %s: %w", tag, ErrBadSignature)
	}
	return nil
}

// Encrypt seals plaintext to tag's age recipient.
func (k *Keyring) Encrypt(ctx context.Context, tag string, plaintext []byte) ([]byte, error) {
	rec, err := k.store.GetKey(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("encrypt to %s: %w", tag, ErrUnknownKey)
	}
	recipients, err := parseRecipients([]string{rec.Recipient})
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return seal(plaintext, recipients...)
}

// Decrypt opens ciphertext sealed to tag. It fails with ErrNoAccess when
// this device cannot unlock tag.
func (k *Keyring) Decrypt(ctx context.Context, tag string, ciphertext []byte) ([]byte, error) {
	b, err := k.unlock(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	id, err := b.identity()
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	plaintext, err := unseal(ciphertext, id)
	if err != nil {
		return nil, fmt.Errorf("decrypt for %s: %w", tag, err)
	}
	return plaintext, nil
}

// DeviceKeys lists the device keys whose secrets live on this device.
func (k *Keyring) DeviceKeys(ctx context.Context) ([]string, error) {
	return k.store.DeviceSecrets(ctx, k.device)
}

func dedupe(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
