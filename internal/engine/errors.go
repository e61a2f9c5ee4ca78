package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/mutual/internal/store"
)

// ErrStopped is returned when work is submitted to an engine whose queue
// has been closed.
var ErrStopped = errors.New("engine stopped")

// DispatchError describes a change the engine could not apply.
type DispatchError struct {
	// Code identifies the error category.
	Code DispatchErrorCode

	// Change is the feed row being applied. Zero for feed read failures.
	Change store.Change

	// Err is the underlying failure.
	Err error
}

// DispatchErrorCode categorizes dispatch errors.
type DispatchErrorCode string

const (
	// ErrCodeHandlerFailed indicates a registered handler returned an error.
	ErrCodeHandlerFailed DispatchErrorCode = "HANDLER_FAILED"

	// ErrCodeFeedFailed indicates the change feed could not be read.
	ErrCodeFeedFailed DispatchErrorCode = "FEED_FAILED"
)

func (e *DispatchError) Error() string {
	if e.Change.Seq != 0 {
		return fmt.Sprintf("%s: %v (seq=%d, collection=%s, tag=%s)",
			e.Code, e.Err, e.Change.Seq, e.Change.Collection, e.Change.Tag)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// IsHandlerError reports whether err is a handler failure.
// Uses errors.As to handle wrapped errors.
func IsHandlerError(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == ErrCodeHandlerFailed
	}
	return false
}

// IsFeedError reports whether err is a change feed read failure.
func IsFeedError(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == ErrCodeFeedFailed
	}
	return false
}
