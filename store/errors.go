package store

import (
	"errors"
	"fmt"
)

// Kind classifies store failures so callers can decide between abort and propagate.
type Kind int

const (
	// KindTransport covers connectivity, auth and any failure not classified below.
	KindTransport Kind = iota
	// KindDigestMismatch means the declared checksum disagreed with the one the store computed.
	KindDigestMismatch
	// KindReconciliation means the completion request did not match the parts the store holds.
	KindReconciliation
	// KindNotFound means the object or upload does not exist.
	KindNotFound
)

// String ...
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDigestMismatch:
		return "digest mismatch"
	case KindReconciliation:
		return "reconciliation"
	case KindNotFound:
		return "not found"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrTransport      = errors.New("transport error")
	ErrDigestMismatch = errors.New("digest mismatch")
	ErrReconciliation = errors.New("reconciliation error")
	ErrNotFound       = errors.New("not found")
)

// Error is returned by every store operation.
type Error struct {
	Op   string
	Kind Kind
	// Code is the store's own error code when it sent one (e.g. BadDigest).
	Code string
	Err  error
}

// NewError ...
func NewError(op string, kind Kind, code string, err error) *Error {
	return &Error{Op: op, Kind: kind, Code: code, Err: err}
}

// Error ...
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap ...
func (e *Error) Unwrap() error {
	return e.Err
}

// Is ...
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(kind Kind) error {
	switch kind {
	case KindDigestMismatch:
		return ErrDigestMismatch
	case KindReconciliation:
		return ErrReconciliation
	case KindNotFound:
		return ErrNotFound
	default:
		return ErrTransport
	}
}

// KindOf returns the kind of the first *Error in err's chain. Errors that did
// not come from a store, context expiry included, are transport failures.
func KindOf(err error) Kind {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return KindTransport
}

// CodeOf returns the store error code carried by err, if any.
func CodeOf(err error) string {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return ""
}

// KindForCode maps an S3 error code to a Kind.
func KindForCode(code string) Kind {
	switch code {
	case "BadDigest", "InvalidDigest", "XAmzContentChecksumMismatch", "XAmzContentSHA256Mismatch":
		return KindDigestMismatch
	case "InvalidPart", "InvalidPartOrder", "EntityTooSmall", "MalformedXML":
		return KindReconciliation
	case "NoSuchUpload", "NoSuchKey", "NotFound":
		return KindNotFound
	default:
		return KindTransport
	}
}
