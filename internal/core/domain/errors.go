package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery is the only error surfaced to callers; everything else
	// degrades into a well-formed Answer plus a monitor entry.
	ErrInvalidQuery = errors.New("invalid query")

	ErrAdapterTimeout       = errors.New("adapter timeout")
	ErrAdapterUnavailable   = errors.New("adapter unavailable")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrSynthesisFailure     = errors.New("synthesis failure")
	ErrTemporary            = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKind maps an error onto its monitor label.
func ErrorKind(err error) string {
	switch {
	case IsKind(err, ErrInvalidQuery):
		return "invalid_query"
	case IsKind(err, ErrAdapterTimeout):
		return "adapter_timeout"
	case IsKind(err, ErrAdapterUnavailable):
		return "adapter_unavailable"
	case IsKind(err, ErrRetrievalUnavailable):
		return "retrieval_unavailable"
	case IsKind(err, ErrSynthesisFailure):
		return "synthesis_failure"
	default:
		return "internal"
	}
}
