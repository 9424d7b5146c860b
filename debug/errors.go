package debug

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveSession is returned by steps that require a live debug
	// session when none exists.
	ErrNoActiveSession = errors.New("no active debug session")

	// ErrNoLaunchConfig is returned by launch steps when the workspace has
	// no stored launch configuration.
	ErrNoLaunchConfig = errors.New("no launch configuration found")

	// ErrSessionTimeout is returned when no debug session appears within the
	// wait window after a launch request.
	ErrSessionTimeout = errors.New("timed out waiting for a debug session to start")
)

// ValidationError reports a step that was submitted with missing or invalid
// fields. Plans containing such a step are rejected before any step runs.
type ValidationError struct {
	Step   int // 1-based position in the plan
	Kind   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("step %d: %s", e.Step, e.Reason)
	}
	return fmt.Sprintf("step %d (%s): %s", e.Step, e.Kind, e.Reason)
}

// BackendError wraps a failure surfaced by the debug backend.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
