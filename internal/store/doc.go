// Package store is the SQLite persistence layer under collections and the
// keyring.
//
// Tables:
//   - records: signed envelopes, one per (collection, tag)
//   - versions, heads: append-only history entries and stream heads
//   - keys, key_members: public key records and team membership
//   - device_secrets: private key material scoped to a device label
//   - changes: the feed every write appends to, ordered by seq
//
// Each Store has an origin id. Writes stamp it on the change row so a reader
// can tell its own writes from those made by another device sharing the
// database.
//
// The database runs in WAL mode with one open connection, NORMAL sync, a
// five second busy timeout and foreign keys enforced.
package store
