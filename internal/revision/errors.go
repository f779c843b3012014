package revision

import (
	"errors"
	"fmt"
)

// HookErrorCode categorizes hook failures.
type HookErrorCode string

const (
	// ErrCodeMalformedSnapshot indicates the previous or current state
	// cannot be compared.
	ErrCodeMalformedSnapshot HookErrorCode = "MALFORMED_SNAPSHOT"

	// ErrCodeInvalidCounter indicates the stored revision counter is not an
	// integer.
	ErrCodeInvalidCounter HookErrorCode = "INVALID_COUNTER"
)

// HookError is returned by a Before* hook. The host must abort the
// mutation when it sees one.
type HookError struct {
	Code       HookErrorCode
	Model      string
	DocumentID string
	Err        error
}

// Error implements the error interface.
func (e *HookError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("%s: %s/%s: %v", e.Code, e.Model, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *HookError) Unwrap() error {
	return e.Err
}

// IsMalformedSnapshot reports whether err is a malformed snapshot hook error.
func IsMalformedSnapshot(err error) bool {
	var he *HookError
	if errors.As(err, &he) {
		return he.Code == ErrCodeMalformedSnapshot
	}
	return false
}

// IsInvalidCounter reports whether err is an invalid counter hook error.
func IsInvalidCounter(err error) bool {
	var he *HookError
	if errors.As(err, &he) {
		return he.Code == ErrCodeInvalidCounter
	}
	return false
}
