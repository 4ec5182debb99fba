package engine

import (
	"errors"
	"fmt"
)

// RetriesExhaustedError is returned when an event still hits storage
// conflicts after the configured number of attempts.
type RetriesExhaustedError struct {
	// Key is the encounter or patient key of the event.
	Key string

	Attempts int

	// Err is the last conflict.
	Err error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up on %s after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// IsRetriesExhausted reports whether err is a RetriesExhaustedError.
func IsRetriesExhausted(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re)
}
