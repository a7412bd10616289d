package command

import (
	"errors"
	"fmt"
)

// ErrInvalidState matches every *InvalidStateError through errors.Is.
var ErrInvalidState = errors.New("invalid command state")

// InvalidStateError is returned when an operation is not legal in the
// command's current state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %v while %s", e.Op, ErrInvalidState, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ExecutionError describes a command that did not finish the way its caller required.
type ExecutionError struct {
	Summary string
	Cmd     *Command
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ExecutionError: '%s' occurred. Details: '%s': %v", e.Summary, e.Cmd.CmdStr, e.Cause)
	}
	return fmt.Sprintf("ExecutionError: '%s' occurred. Details: '%s'", e.Summary, e.Cmd.CmdStr)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
