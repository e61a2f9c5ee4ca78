// Package persist maps in-memory entities onto signed store records.
//
// A Record holds one tracked cell per declared property, so derived values
// built with tracked.Computed recompute when a field is edited locally or
// overwritten by a remote update. Layers compose rather than inherit:
//
//   - Record: fetch, persist, edit, destroy and apply a verified update.
//   - Directory: one live instance per (kind, tag), concurrent fetches
//     collapse onto the same instance.
//   - Private: the encrypted half of a split kind, materialized while at
//     least one ownership tag is held.
//   - PersistToSet and Chain: append-only histories whose entries are
//     addressed by version hash and linked through their antecedent.
//
// Persisted payloads drop falsy values ("", 0, false, null, empty lists),
// so a property explicitly set to one of those reads back as unset.
package persist
