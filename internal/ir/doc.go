// Package ir holds the value model every persisted payload is built from.
//
// Payloads are trees of IRValue (string, int, bool, array, object, null).
// Floats never appear: decimal quantities travel as strings and are parsed
// by the economy package. Canonical bytes come from MarshalCanonical, which
// is the only serializer used for signing and content addressing.
//
// ir imports nothing internal; every other package may import it.
package ir
