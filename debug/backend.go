package debug

import (
	"context"
	"encoding/json"
)

// Breakpoint is a source breakpoint as held by the backend. Line is
// zero-based; the orchestrator converts from the 1-based lines that clients
// and editors use.
type Breakpoint struct {
	File      string
	Line      int
	Condition string
}

// Thread is one thread of the debugged program.
type Thread struct {
	ID   int
	Name string
}

// Frame is one stack frame of a paused thread. Source is the absolute path
// of the frame's file and Line is zero-based.
type Frame struct {
	ID     int
	Name   string
	Source string
	Line   int
}

// Session is a live run of a debugged program.
type Session interface {
	// ID returns the session identifier.
	ID() string

	// Continue resumes execution until the next stop.
	Continue(ctx context.Context) error

	// Threads lists the program's threads.
	Threads(ctx context.Context) ([]Thread, error)

	// StackTrace returns the frames of the given thread, innermost first.
	StackTrace(ctx context.Context, threadID int) ([]Frame, error)

	// Evaluate evaluates an expression in the given frame and returns the
	// rendered result.
	Evaluate(ctx context.Context, expression string, frameID int) (string, error)
}

// Backend is the debugger integration the orchestrator drives. Implementations
// own breakpoint state and the lifecycle of debug sessions.
type Backend interface {
	// Breakpoints lists all breakpoints currently registered.
	Breakpoints(ctx context.Context) ([]Breakpoint, error)

	// AddBreakpoint registers a breakpoint.
	AddBreakpoint(ctx context.Context, bp Breakpoint) error

	// RemoveBreakpoints unregisters the given breakpoints. Breakpoints not
	// currently registered are ignored.
	RemoveBreakpoints(ctx context.Context, bps []Breakpoint) error

	// Launch starts a debug session from a resolved launch configuration.
	Launch(ctx context.Context, configuration json.RawMessage) error

	// ActiveSession returns the current session, or nil when the program is
	// not being debugged.
	ActiveSession(ctx context.Context) (Session, error)
}

// LaunchSource provides the workspace's stored launch configurations in
// order of appearance.
type LaunchSource interface {
	// Configurations returns the raw configuration entries.
	Configurations(ctx context.Context) ([]json.RawMessage, error)
}
