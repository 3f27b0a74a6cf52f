package diff

import (
	"errors"
	"fmt"
)

// Sentinel errors for diff source operations.
var (
	// ErrRangeUnresolvable indicates the revision range cannot be compared.
	// Callers must fail open: treat every component as changed.
	ErrRangeUnresolvable = errors.New("revision range unresolvable")

	// ErrSourceUnavailable indicates the diff source could not be reached.
	ErrSourceUnavailable = errors.New("diff source unavailable")

	// ErrThrottled indicates the request was rate limited by the source.
	ErrThrottled = errors.New("request throttled")
)

// SourceError wraps source-specific errors with context.
type SourceError struct {
	// Op is the operation that failed (e.g., "ChangedFiles").
	Op string

	// Source is the source type (e.g., "git", "github").
	Source SourceType

	// Base and Head are the revision range being compared, if applicable.
	Base string
	Head string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Base != "" || e.Head != "" {
		return fmt.Sprintf("%s %s: %s...%s: %v", e.Source, e.Op, e.Base, e.Head, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsRangeUnresolvable returns true if the error indicates the revision range
// cannot be compared.
func IsRangeUnresolvable(err error) bool {
	return errors.Is(err, ErrRangeUnresolvable)
}

// IsSourceUnavailable returns true if the error indicates the source could
// not be reached.
func IsSourceUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
