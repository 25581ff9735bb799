package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when the same action is already in flight.
	ErrBusy = errors.New("action already in progress")
	// ErrSourceTooShort rejects an optimize of a near-empty document.
	ErrSourceTooShort = errors.New("source document too short")
	// ErrNoArtifact rejects runs and copies before a successful optimize.
	ErrNoArtifact = errors.New("no optimized artifact")
	// ErrStale reports a response discarded because a newer input
	// superseded the request.
	ErrStale = errors.New("response superseded by a newer input")
)

// PreconditionError is a guard failure. Message tells the user what to do.
type PreconditionError struct {
	Err     error
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func (e *PreconditionError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err is a guard failure.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

func sourceTooShortMessage(min int) string {
	return fmt.Sprintf("Enter at least %d characters of code or prompt before optimizing.", min)
}
