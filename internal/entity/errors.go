package entity

import "errors"

var (
	// ErrWrongAnswer means a security answer or invitation secret did not
	// match. It is always returned wrapped as a persist unauthorized error.
	ErrWrongAnswer = errors.New("wrong answer")
	// ErrNoRecoveryKey means a user team has no recovery key to unlock.
	ErrNoRecoveryKey = errors.New("no recovery key")
	// ErrUnknownDevice means a device name is not in the user's device map.
	ErrUnknownDevice = errors.New("unknown device")
)
