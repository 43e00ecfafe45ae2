package confirm

import (
	"errors"
	"fmt"

	"github.com/hashicorp/errwrap"
)

// ErrRejected means the network reported the operation as failed,
// waiting longer will not help.
var ErrRejected = errors.New("operation rejected by the network")

// ConfirmationError reports which operation failed to confirm and why.
// The step that issued the operation is the unit of recovery: none of its
// effects are recorded, so a resumed run re-attempts the whole step.
type ConfirmationError struct {
	Op     string
	Handle Handle
	Err    error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirming %s (%s): %v", e.Op, e.Handle, e.Err)
}

// WrappedErrors implements errwrap.Wrapper
func (e *ConfirmationError) WrappedErrors() []error {
	return []error{e.Err}
}

// Err wraps a cause in a ConfirmationError for the given operation,
// leaving already-wrapped errors alone
func Err(op Pending, cause error) *ConfirmationError {
	if ce, ok := cause.(*ConfirmationError); ok {
		return ce
	}
	return &ConfirmationError{Op: op.Op, Handle: op.Handle, Err: cause}
}

// IsConfirmation returns true when the error chain contains a ConfirmationError
func IsConfirmation(err error) bool {
	return errwrap.ContainsType(err, &ConfirmationError{})
}

// IsRejected returns true when the failure was a terminal network rejection
func IsRejected(err error) bool {
	return errwrap.Contains(err, ErrRejected.Error())
}
