package runtime

import (
	"errors"
	"fmt"
)

type (
	// InputValidationError indicates a pre-hook or the dispatcher rejected
	// the run input. Never retried; the run terminates with status error.
	InputValidationError struct {
		// Field names the offending input, when known.
		Field string
		// Reason explains the rejection.
		Reason string
	}

	// OutputValidationError indicates a post-hook or the structured output
	// validator rejected the run output. Never retried; the run terminates
	// with status error.
	OutputValidationError struct {
		// Reason explains the rejection.
		Reason string
		// Violations lists schema violations, when structured validation
		// produced them.
		Violations []string
	}
)

// Error implements the error interface.
func (e *InputValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// Error implements the error interface.
func (e *OutputValidationError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("invalid output: %s (%d violations)", e.Reason, len(e.Violations))
	}
	return fmt.Sprintf("invalid output: %s", e.Reason)
}

// retryable reports whether the error may be retried per the run policy.
// Cancellations and validation failures are terminal on first occurrence.
func retryable(err error) bool {
	var (
		in  *InputValidationError
		out *OutputValidationError
	)
	if errors.As(err, &in) || errors.As(err, &out) {
		return false
	}
	return true
}

// contentCancelledByUser is the content recorded when the caller's context is
// cancelled during a buffered run.
const contentCancelledByUser = "Operation cancelled by user"

// contentNoResponse is the content recorded when a run completes without the
// model producing any assistant text, for example when the tool round limit
// is reached. Terminal runs never carry empty content.
const contentNoResponse = "No response generated."

var (
	// ErrAgentNotRegistered indicates the requested agent id is unknown.
	ErrAgentNotRegistered = errors.New("agent not registered")
	// ErrRunNotPaused indicates a continuation was requested for a run that
	// is not paused.
	ErrRunNotPaused = errors.New("run is not paused")
)
