package model

import (
	"errors"
	"fmt"
	"strings"
)

// ExitCode defines the CLI exit codes. Scripts and CI systems use them to
// tell a broken specification from an unreachable runtime or a failed run.
type ExitCode int

const (
	// ExitSuccess indicates every dispatched action succeeded.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitSpecError indicates the specification file is missing, malformed
	// or unusable.
	ExitSpecError ExitCode = 2

	// ExitRuntimeUnreachable indicates the container runtime could not be reached.
	ExitRuntimeUnreachable ExitCode = 3

	// ExitDependencyCycle indicates the services' depends_on relation has a cycle.
	ExitDependencyCycle ExitCode = 4

	// ExitActionFailed indicates at least one action failed, partially
	// failed, or was skipped because a dependency failed.
	ExitActionFailed ExitCode = 5

	// ExitInterrupted indicates the run was cancelled by a signal or the
	// configured deadline before every action was dispatched.
	ExitInterrupted ExitCode = 6
)

// ExitCoder is implemented by every error that maps onto a specific exit code.
type ExitCoder interface {
	ExitCode() ExitCode
}

// ExitCodeOf returns the exit code carried by err, ExitSuccess for nil and
// ExitGeneralError for errors without a code.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return ExitGeneralError
}

// CLIError is a generic error that carries an exit code. This allows the
// CLI layer to translate errors without a dedicated type into appropriate
// process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// ExitCode implements ExitCoder.
func (e *CLIError) ExitCode() ExitCode {
	return e.Code
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// SpecError reports a malformed or unusable specification. It is raised
// before any runtime mutation. Problems lists every issue found so the user
// can fix them in one pass.
type SpecError struct {
	Path     string
	Problems []string
	Err      error
}

// Error satisfies the error interface.
func (e *SpecError) Error() string {
	var b strings.Builder
	b.WriteString("invalid specification")
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	return b.String()
}

// Unwrap returns the underlying parse error, if any.
func (e *SpecError) Unwrap() error {
	return e.Err
}

// ExitCode implements ExitCoder.
func (e *SpecError) ExitCode() ExitCode {
	return ExitSpecError
}

// CycleError reports a dependency cycle. Cycle holds the services along one
// detected cycle with the first service repeated at the end, e.g.
// [a b a].
type CycleError struct {
	Cycle []string
}

// Error satisfies the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// ExitCode implements ExitCoder.
func (e *CycleError) ExitCode() ExitCode {
	return ExitDependencyCycle
}

// ConnectionError reports that the container runtime cannot be reached.
// The command aborts before any mutation is attempted.
type ConnectionError struct {
	Backend string
	Err     error
}

// Error satisfies the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot reach %s runtime: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExitCode implements ExitCoder.
func (e *ConnectionError) ExitCode() ExitCode {
	return ExitRuntimeUnreachable
}

// ActionError reports the failure of a single runtime operation for one
// replica slot. It never aborts the run; the scheduler records it and
// skips dependents.
type ActionError struct {
	Slot      ReplicaSlot
	Kind      ActionKind
	Operation string
	Err       error
}

// Error satisfies the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s: %s failed: %v", e.Kind, e.Slot, e.Operation, e.Err)
}

// Unwrap returns the runtime error.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// ExitCode implements ExitCoder.
func (e *ActionError) ExitCode() ExitCode {
	return ExitActionFailed
}

// PartialFailureError reports a recreate whose old container was removed
// but whose replacement could not be created or started. No rollback is
// attempted.
type PartialFailureError struct {
	Slot ReplicaSlot

	// ContainerID is set when the replacement was created but failed to
	// start; the slot then holds a created container. Empty means the slot
	// is absent.
	ContainerID string

	Err error
}

// Error satisfies the error interface.
func (e *PartialFailureError) Error() string {
	if e.ContainerID != "" {
		return fmt.Sprintf("recreate %s: old container removed but replacement %s was created and not started: %v", e.Slot, e.ContainerID, e.Err)
	}
	return fmt.Sprintf("recreate %s: old container removed but replacement failed, replica is absent: %v", e.Slot, e.Err)
}

// Unwrap returns the creation error.
func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// ExitCode implements ExitCoder.
func (e *PartialFailureError) ExitCode() ExitCode {
	return ExitActionFailed
}
