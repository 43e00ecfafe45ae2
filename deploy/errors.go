package deploy

import (
	"context"
	"fmt"

	"github.com/hashicorp/errwrap"
)

// StepExecutionError means a step's own execution failed before its
// transactions could be awaited: a precondition didn't hold, a submission
// was refused, or its outcome contradicted the recorded state. Fatal for
// the run, previously persisted steps stand.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

// WrappedErrors implements errwrap.Wrapper
func (e *StepExecutionError) WrappedErrors() []error {
	return []error{e.Err}
}

// StepErr wraps a cause in a StepExecutionError, leaving already-wrapped
// errors alone
func StepErr(step string, err error) *StepExecutionError {
	if se, ok := err.(*StepExecutionError); ok {
		return se
	}
	return &StepExecutionError{Step: step, Err: err}
}

// IsStepFailure returns true when the error chain contains a StepExecutionError
func IsStepFailure(err error) bool {
	return errwrap.ContainsType(err, &StepExecutionError{})
}

// IsCanceled returns true when this error contains or is an error
// that means execution was canceled
func IsCanceled(err error) bool {
	return errwrap.Contains(err, context.Canceled.Error()) ||
		errwrap.Contains(err, context.DeadlineExceeded.Error())
}
