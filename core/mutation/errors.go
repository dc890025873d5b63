package mutation

import (
	"errors"
	"fmt"
)

// ErrPending is returned when the same mutation is already running.
var ErrPending = errors.New("mutation: already pending")

// PreconditionError reports a mutation refused before any write was sent.
type PreconditionError struct {
	Op       Operation
	TargetID string
	Err      error
}

func (e *PreconditionError) Error() string {
	if e.TargetID == "" {
		return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s rejected: %v", e.Op, e.TargetID, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
