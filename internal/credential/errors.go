package credential

import "errors"

var (
	// ErrNoAccess means no key reachable from this device unlocks the tag.
	ErrNoAccess = errors.New("no access to key")
	// ErrNotMember means the tag is not a member of the team.
	ErrNotMember = errors.New("not a team member")
	// ErrUnknownKey means no key record exists for the tag.
	ErrUnknownKey = errors.New("unknown key")
	// ErrBadSignature means a signature did not verify against its tag.
	ErrBadSignature = errors.New("bad signature")
)
