package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// FailureClass categorizes a step failure. The class determines the process
// exit code, which is a stable contract for scripting callers.
type FailureClass string

const (
	// ClassGeneric covers step failures with no more specific class.
	ClassGeneric FailureClass = "generic"
	// ClassPermission means the process lacks administrative privilege.
	ClassPermission FailureClass = "permission"
	// ClassNetwork means connectivity or DNS resolution failed.
	ClassNetwork FailureClass = "network"
	// ClassKernelModule means a kernel module failed to load. This class
	// carries its own exit code so callers can distinguish it.
	ClassKernelModule FailureClass = "kernel-module"
	// ClassStateVerification means a post-apply check failed.
	ClassStateVerification FailureClass = "state-verification"
	// ClassInstallation means the package manager reported a failure.
	ClassInstallation FailureClass = "installation"
	// ClassInternal means the pipeline itself was malformed.
	ClassInternal FailureClass = "internal"
)

// Process exit codes by failure class. This mapping is stable API.
const (
	ExitOK           = 0
	ExitGeneric      = 1
	ExitPermission   = 2
	ExitNetwork      = 3
	ExitKernelModule = 4
)

// ExitCode returns the process exit code for this failure class.
func (c FailureClass) ExitCode() int {
	switch c {
	case ClassPermission:
		return ExitPermission
	case ClassNetwork:
		return ExitNetwork
	case ClassKernelModule:
		return ExitKernelModule
	default:
		return ExitGeneric
	}
}

// String returns the string representation of the class.
func (c FailureClass) String() string {
	return string(c)
}

// StepError is a classified step failure with an actionable suggestion.
type StepError struct {
	Class      FailureClass
	StepID     string
	Message    string
	Suggestion string
	Underlying error
}

// Error returns the formatted error message.
func (e *StepError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("step %q: %s", e.StepID, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain support.
func (e *StepError) Unwrap() error {
	return e.Underlying
}

// ExitCode returns the process exit code for this error.
func (e *StepError) ExitCode() int {
	return e.Class.ExitCode()
}

// Format returns a fully formatted error with all details.
func (e *StepError) Format() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", strings.ToUpper(e.Class.String()), e.Message))

	if e.StepID != "" {
		b.WriteString(fmt.Sprintf("\n  Step: %s", e.StepID))
	}
	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  Suggestion: %s", e.Suggestion))
	}
	if e.Underlying != nil {
		b.WriteString(fmt.Sprintf("\n  Cause: %s", e.Underlying.Error()))
	}

	return b.String()
}

// NewStepError creates a new StepError with the given class and message.
func NewStepError(class FailureClass, message string) *StepError {
	return &StepError{
		Class:   class,
		Message: message,
	}
}

// WithStepID returns a copy of the error with the step ID set.
func (e *StepError) WithStepID(stepID string) *StepError {
	clone := *e
	clone.StepID = stepID
	return &clone
}

// WithSuggestion returns a copy of the error with a suggestion set.
func (e *StepError) WithSuggestion(suggestion string) *StepError {
	clone := *e
	clone.Suggestion = suggestion
	return &clone
}

// WithUnderlying returns a copy of the error wrapping the given cause.
func (e *StepError) WithUnderlying(err error) *StepError {
	clone := *e
	clone.Underlying = err
	return &clone
}

// ClassOf extracts the failure class from an error chain.
// Errors that are not StepErrors map to ClassGeneric.
func ClassOf(err error) FailureClass {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Class
	}
	return ClassGeneric
}

// ExitCodeFor maps an error to a process exit code. A nil error maps to 0.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	return ClassOf(err).ExitCode()
}
