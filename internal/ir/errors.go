package ir

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes per-event processing failures.
type ErrorCode string

const (
	// CodeMessageIgnored marks an event that was already applied or has
	// nothing to act on. It is a logged skip, never a failure.
	CodeMessageIgnored ErrorCode = "MESSAGE_IGNORED"

	// CodeInconsistency marks conflicting facts at identical timestamps or
	// a movement the encounter state cannot accept.
	CodeInconsistency ErrorCode = "INCONSISTENCY"

	// CodeIrreversibleState marks a cancel whose target was superseded.
	CodeIrreversibleState ErrorCode = "IRREVERSIBLE_STATE"

	// CodeAmbiguousOrdering marks two different events with equal event
	// and recorded times for the same encounter.
	CodeAmbiguousOrdering ErrorCode = "AMBIGUOUS_ORDERING"

	// CodeUnsupportedEvent marks an event kind outside the closed set.
	CodeUnsupportedEvent ErrorCode = "UNSUPPORTED_EVENT"

	// CodeNotFound marks a lookup of an unknown key.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// ProcessingError is the error type returned for a single event. None of
// these errors is fatal to the process; they are isolated to the event's
// encounter or identity.
type ProcessingError struct {
	Code    ErrorCode
	Message string

	// Key is the encounter or identity key the error concerns.
	Key string

	Details map[string]string
}

func (e *ProcessingError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of the first ProcessingError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsMessageIgnored reports whether err is a recoverable skip.
func IsMessageIgnored(err error) bool { return hasCode(err, CodeMessageIgnored) }

// IsInconsistency reports whether err is an InconsistencyError.
func IsInconsistency(err error) bool { return hasCode(err, CodeInconsistency) }

// IsIrreversibleState reports whether err is an IrreversibleStateError.
func IsIrreversibleState(err error) bool { return hasCode(err, CodeIrreversibleState) }

// IsAmbiguousOrdering reports whether err is an AmbiguousOrderingError.
func IsAmbiguousOrdering(err error) bool { return hasCode(err, CodeAmbiguousOrdering) }

// IsUnsupportedEvent reports whether err is an UnsupportedEventError.
func IsUnsupportedEvent(err error) bool { return hasCode(err, CodeUnsupportedEvent) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// NewMessageIgnoredError reports a duplicate or no-op event.
func NewMessageIgnoredError(key, reason string) *ProcessingError {
	return &ProcessingError{Code: CodeMessageIgnored, Message: reason, Key: key}
}

// NewInconsistencyError reports conflicting facts.
func NewInconsistencyError(key, message string, details map[string]string) *ProcessingError {
	return &ProcessingError{Code: CodeInconsistency, Message: message, Key: key, Details: details}
}

// NewIrreversibleStateError reports a cancel that cannot be honoured.
func NewIrreversibleStateError(key, message string) *ProcessingError {
	return &ProcessingError{Code: CodeIrreversibleState, Message: message, Key: key}
}

// NewAmbiguousOrderingError reports an exhausted tie-break.
func NewAmbiguousOrderingError(key string, details map[string]string) *ProcessingError {
	return &ProcessingError{
		Code:    CodeAmbiguousOrdering,
		Message: "events share event time and recorded time",
		Key:     key,
		Details: details,
	}
}

// NewUnsupportedEventError reports an unknown event kind.
func NewUnsupportedEventError(kind Kind) *ProcessingError {
	return &ProcessingError{
		Code:    CodeUnsupportedEvent,
		Message: fmt.Sprintf("unsupported event kind %q", kind),
		Details: map[string]string{"kind": string(kind)},
	}
}

// NewNotFoundError reports an unknown key.
func NewNotFoundError(entity, key string) *ProcessingError {
	return &ProcessingError{
		Code:    CodeNotFound,
		Message: entity + " not found",
		Key:     key,
	}
}
