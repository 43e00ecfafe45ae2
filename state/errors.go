package state

import (
	"fmt"

	"github.com/hashicorp/errwrap"
)

// CorruptStateError means the persisted recovery document exists but
// cannot be read or parsed. This is fatal: proceeding with an empty state
// would re-issue every recorded step.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt recovery state at %s: %v", e.Path, e.Err)
}

// WrappedErrors implements errwrap.Wrapper
func (e *CorruptStateError) WrappedErrors() []error {
	return []error{e.Err}
}

// PersistenceError means the recovery document could not be durably
// written. This is fatal: progress that isn't checkpointed isn't progress.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting recovery state to %s: %v", e.Path, e.Err)
}

// WrappedErrors implements errwrap.Wrapper
func (e *PersistenceError) WrappedErrors() []error {
	return []error{e.Err}
}

// IsCorrupt returns true when the error chain contains a CorruptStateError
func IsCorrupt(err error) bool {
	return errwrap.ContainsType(err, &CorruptStateError{})
}

// IsPersistence returns true when the error chain contains a PersistenceError
func IsPersistence(err error) bool {
	return errwrap.ContainsType(err, &PersistenceError{})
}
