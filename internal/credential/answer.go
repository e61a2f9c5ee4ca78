package credential

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/mutual/internal/ir"
)

// NormalizeAnswer canonicalizes a security answer: NFC, case folded,
// inner whitespace collapsed, trimmed.
func NormalizeAnswer(answer string) string {
	s := norm.NFC.String(answer)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// HashAnswer derives the stored hash for an answer to prompt. The salt is
// derived from the prompt so the hash can be checked on any device.
func HashAnswer(prompt, answer string) string {
	salt := []byte(ir.HashBytes(ir.DomainAnswer, []byte(norm.NFC.String(prompt))))
	key := argon2.IDKey([]byte(NormalizeAnswer(answer)), salt, 1, 64*1024, 4, 32)
	return base64.RawURLEncoding.EncodeToString(key)
}

// SetAnswer registers the answer that unlocks a recovery key for the life
// of this keyring.
func (k *Keyring) SetAnswer(tag, answer string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.answers[tag] = NormalizeAnswer(answer)
}

// ClearAnswer forgets a registered answer and everything unlocked through it.
func (k *Keyring) ClearAnswer(tag string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.answers, tag)
	k.unlocked = make(map[string]*bundle)
}
