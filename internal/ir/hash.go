package ir

import (
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash domains. Each domain derives its own BLAKE3 key, so equal bytes
// hashed under different domains never collide.
const (
	DomainHistory = "mutual.history"
	DomainRecord  = "mutual.record"
	DomainAnswer  = "mutual.answer"
)

func domainKey(domain string) [32]byte {
	var key [32]byte
	copy(key[:], domain)
	return key
}

// HashBytes returns the base64url (unpadded) keyed BLAKE3 digest of data
// under domain.
func HashBytes(domain string, data []byte) string {
	key := domainKey(domain)
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// only fails for keys that are not 32 bytes
		panic(fmt.Sprintf("blake3 keyed hasher: %v", err))
	}
	h.Write(data)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Hash canonicalizes v and hashes it under domain.
func Hash(domain string, v IRValue) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return HashBytes(domain, data), nil
}

// VersionHash addresses one entry of an append-only history. The antecedent
// hash is folded in so the address commits to the whole chain.
func VersionHash(stream, antecedent string, envelope IRObject) (string, error) {
	return Hash(DomainHistory, IRObject{
		"stream":     IRString(stream),
		"antecedent": IRString(antecedent),
		"envelope":   envelope,
	})
}
