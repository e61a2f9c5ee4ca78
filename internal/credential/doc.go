// Package credential manages the keys behind every tag.
//
// A key is an ed25519 signing pair plus an age X25519 identity. Its tag is
// the unpadded base64url encoding of the ed25519 public key, so anyone can
// verify a signature from the tag alone. The public half (tag, kind, age
// recipient, member list) lives in the shared keys table. Private halves
// are kept three ways:
//
//   - device keys: in device_secrets under the local device label
//   - team keys: CBOR-encoded and sealed with age to every member's recipient
//   - recovery keys: sealed with an age scrypt passphrase derived from a
//     security answer
//
// A Keyring unlocks a key by finding a path from something it holds: a local
// device secret, or a recovery answer registered with SetAnswer.
package credential
