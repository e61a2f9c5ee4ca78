package credential

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
)

// bundle is the private half of a key.
type bundle struct {
	Seed     []byte `cbor:"1,keyasint"`
	Identity string `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("credential: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("credential: CBOR decoder initialization failed: " + err.Error())
	}
}

func newBundle() (*bundle, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate age identity: %w", err)
	}
	return &bundle{Seed: seed, Identity: id.String()}, nil
}

func (b *bundle) privateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(b.Seed)
}

func (b *bundle) tag() string {
	return EncodeTag(b.privateKey().Public().(ed25519.PublicKey))
}

func (b *bundle) identity() (*age.X25519Identity, error) {
	id, err := age.ParseX25519Identity(b.Identity)
	if err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}
	return id, nil
}

func (b *bundle) recipient() (string, error) {
	id, err := b.identity()
	if err != nil {
		return "", err
	}
	return id.Recipient().String(), nil
}

func (b *bundle) marshal() ([]byte, error) {
	return encMode.Marshal(b)
}

func unmarshalBundle(data []byte) (*bundle, error) {
	var b bundle
	if err := decMode.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode key bundle: %w", err)
	}
	if len(b.Seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("decode key bundle: seed is %d bytes", len(b.Seed))
	}
	return &b, nil
}

// EncodeTag returns the tag for an ed25519 public key.
func EncodeTag(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}

// DecodeTag returns the ed25519 public key a tag names.
func DecodeTag(tag string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tag)
	if err != nil {
		return nil, fmt.Errorf("decode tag %q: %w", tag, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode tag %q: %d bytes, want %d", tag, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

func seal(plaintext []byte, recipients ...age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func unseal(ciphertext []byte, identities ...age.Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return nil, err
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plaintext: %w", err)
	}
	return plaintext, nil
}

func parseRecipients(keys []string) ([]age.Recipient, error) {
	out := make([]age.Recipient, 0, len(keys))
	for _, k := range keys {
		r, err := age.ParseX25519Recipient(k)
		if err != nil {
			return nil, fmt.Errorf("parse recipient %q: %w", k, err)
		}
		out = append(out, r)
	}
	return out, nil
}
