package upload

import (
	"errors"
	"fmt"

	"github.com/lilpacy/verify-test/store"
)

var (
	// ErrSessionClosed is returned for any operation on a Completed or Aborted session.
	ErrSessionClosed = errors.New("upload session is closed")
	// ErrInvalidState is returned when an operation is not valid in the session's current state.
	ErrInvalidState = errors.New("invalid upload session state")
	// ErrPartOutOfOrder is returned when a chunk does not continue the 1..N sequence.
	ErrPartOutOfOrder = errors.New("part submitted out of order")
	// ErrNoParts is returned when completing a session that has no accepted parts.
	ErrNoParts = errors.New("multipart upload has no parts")
	// ErrPartLimit is returned when a chunk would exceed MaxParts.
	ErrPartLimit = errors.New("part number limit exceeded")
)

// CleanupError reports that aborting a session failed. The server-side
// session may have leaked; locally the session is Aborted regardless.
type CleanupError struct {
	UploadID string
	Err      error
}

// Error ...
func (e *CleanupError) Error() string {
	return fmt.Sprintf("abort multipart upload %s: %v", e.UploadID, e.Err)
}

// Unwrap ...
func (e *CleanupError) Unwrap() error {
	return e.Err
}

// ChunkError is the terminal failure of a session caused by one chunk.
type ChunkError struct {
	PartNumber int
	Kind       store.Kind
	Err        error
	// Cleanup is set when the abort that followed the failure did not succeed.
	Cleanup *CleanupError
}

// Error ...
func (e *ChunkError) Error() string {
	msg := fmt.Sprintf("part %d rejected (%s): %v", e.PartNumber, e.Kind, e.Err)
	if e.Cleanup != nil {
		msg += "; " + e.Cleanup.Error()
	}
	return msg
}

// Unwrap ...
func (e *ChunkError) Unwrap() []error {
	return unwrapWithCleanup(e.Err, e.Cleanup)
}

// CompletionError is the terminal failure of a session at completion time.
type CompletionError struct {
	Kind store.Kind
	Err  error
	// Cleanup is set when the abort that followed the failure did not succeed.
	Cleanup *CleanupError
}

// Error ...
func (e *CompletionError) Error() string {
	msg := fmt.Sprintf("complete multipart upload (%s): %v", e.Kind, e.Err)
	if e.Cleanup != nil {
		msg += "; " + e.Cleanup.Error()
	}
	return msg
}

// Unwrap ...
func (e *CompletionError) Unwrap() []error {
	return unwrapWithCleanup(e.Err, e.Cleanup)
}

func unwrapWithCleanup(err error, cleanup *CleanupError) []error {
	if cleanup == nil {
		return []error{err}
	}
	return []error{err, cleanup}
}
