// Package entity implements the domain objects of mutual: users, groups,
// per-member balances and group message histories.
//
// Every live instance belongs to a Realm, which owns one persist.Directory
// per kind together with the keyring and clock the operations need. Two
// realms never share instances, so a test can open a second realm over the
// same database to play another device.
//
// Multi-record operations write in a fixed order so that a failure part
// way through leaves state an idempotent retry converges from. For
// example AdoptGroup persists the group's member list before the user's
// group list: no user ever lists a group that does not list them.
package entity
