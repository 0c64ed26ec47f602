// Package multierror collects the failures of independent uploads.
package multierror

import (
	"errors"
	"strings"
)

// Error aggregates multiple errors into one.
type Error []error

func (m Error) Error() string {
	msgs := make([]string, 0, len(m))
	for _, err := range m {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "\n")
}

// Unwrap ...
func (m Error) Unwrap() []error {
	return m
}

// Append appends err to m if err is not nil.
func Append(m *Error, err error) {
	if err == nil {
		return
	}
	*m = append(*m, err)
}

// ErrorOrNil returns nil for an empty Error, so that a nil-valued Error is never returned as a non-nil error.
func (m Error) ErrorOrNil() error {
	if len(m) == 0 {
		return nil
	}
	return m
}

// Count returns how many of the collected errors match target.
func (m Error) Count(target error) int {
	n := 0
	for _, err := range m {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}
