// Package collection is the store capability the persistence layer consumes:
// retrieve, store and remove signed records by tag, and for versioned
// collections, read the head of an append-only stream.
//
// Every record is an envelope of a protected header, a body and a signature:
//
//	{"protected":{...},"payload":{...},"signature":"..."}
//	{"protected":{...},"ciphertext":"...","signature":"..."}
//
// The signature covers the canonical JSON of the envelope without the
// signature field and is made by the author named in the header (kid).
// Encrypted collections seal the canonical payload with age to either the
// record's own tag or its owner's tag.
package collection
