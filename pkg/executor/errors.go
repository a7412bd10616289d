package executor

import (
	"fmt"
	"strings"

	"github.com/andrej220/clusterexec/pkg/command"
)

// TransientTransportError is one attempt whose output matched a transient
// connection-loss signature. Remote retries these.
type TransientTransportError struct {
	Host    string
	Attempt int
	Result  command.Result
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("transient transport failure to %s on attempt %d: %s", e.Host, e.Attempt, firstLine(e.Result.Stderr))
}

// FatalExecutionError is a non-zero exit or spawn failure that is not retried.
type FatalExecutionError struct {
	Host     string // empty for local commands
	Rendered string
	Result   command.Result
	Cause    error
}

func (e *FatalExecutionError) Error() string {
	where := "localhost"
	if e.Host != "" {
		where = e.Host
	}
	if e.Cause != nil {
		return fmt.Sprintf("command failed on %s (rc=%d): %v", where, e.Result.ExitCode, e.Cause)
	}
	return fmt.Sprintf("command failed on %s (rc=%d)", where, e.Result.ExitCode)
}

func (e *FatalExecutionError) Unwrap() error {
	return e.Cause
}

// RetryExhaustedError is returned when the transient signature kept coming
// back through every allowed attempt. Result is the last attempt's output.
type RetryExhaustedError struct {
	Host     string
	Attempts int
	Result   command.Result
	Last     *TransientTransportError
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up on %s after %d attempts: %s", e.Host, e.Attempts, firstLine(e.Result.Stderr))
}

func (e *RetryExhaustedError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
