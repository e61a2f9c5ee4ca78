package persist

import (
	"errors"
	"fmt"

	"github.com/roach88/mutual/internal/collection"
	"github.com/roach88/mutual/internal/credential"
)

// ErrNotOwned is returned when persisting a split record whose private
// half this device does not hold.
var ErrNotOwned = errors.New("private half not owned")

type addressMismatch struct {
	public, private string
}

func (e *addressMismatch) Error() string {
	return fmt.Sprintf("public address %q, private address %q", e.public, e.private)
}

// Code categorizes persistence errors.
type Code string

const (
	// CodeInvalidArgument rejects a call outright (empty tag, unknown field).
	CodeInvalidArgument Code = "invalid_argument"
	// CodeUnauthorized means the caller lacks the credential or answer.
	CodeUnauthorized Code = "unauthorized"
	// CodeConsistency means the stores disagree; not recoverable in place.
	CodeConsistency Code = "consistency"
)

// Error is a classified failure of a persistence operation.
type Error struct {
	Code Code
	Op   string
	Tag  string
	Err  error
}

func (e *Error) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Tag, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func hasCode(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsInvalidArgument reports whether err was rejected as an invalid argument.
func IsInvalidArgument(err error) bool { return hasCode(err, CodeInvalidArgument) }

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool { return hasCode(err, CodeUnauthorized) }

// IsConsistency reports whether err is a store consistency violation.
func IsConsistency(err error) bool { return hasCode(err, CodeConsistency) }

// InvalidArgument builds an invalid-argument error from a format string.
func InvalidArgument(op, tag, format string, args ...any) error {
	return &Error{Code: CodeInvalidArgument, Op: op, Tag: tag, Err: fmt.Errorf(format, args...)}
}

// Unauthorized wraps err as an authorization failure.
func Unauthorized(op, tag string, err error) error {
	return &Error{Code: CodeUnauthorized, Op: op, Tag: tag, Err: err}
}

// classify turns store authorization failures into unauthorized errors and
// passes everything else through untouched.
func classify(op, tag string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, collection.ErrUnauthorized) || errors.Is(err, credential.ErrNotMember) {
		return Unauthorized(op, tag, err)
	}
	return err
}
