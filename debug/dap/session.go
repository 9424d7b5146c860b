package dap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/jasonjmcghee/claude-debugs-for-you/debug"
)

const stackTraceDepth = 20

// evalContextREPL is the interactive evaluation mode. Adapters allow full
// expressions with side effects there.
const evalContextREPL = "repl"

// session is one live debuggee run. It implements debug.Session over a
// connected Client and watches the adapter's event stream to track its own
// lifecycle.
type session struct {
	id     string
	client *Client
	proc   *adapterProc
	log    *zap.SugaredLogger

	initialized chan struct{}
	done        chan struct{}
	initOnce    sync.Once
	doneOnce    sync.Once

	mu            sync.Mutex
	stoppedThread int // thread id of the last stop, 0 while running
}

func newSession(client *Client, proc *adapterProc, log *zap.SugaredLogger) *session {
	s := &session{
		id:          uuid.NewString(),
		client:      client,
		proc:        proc,
		log:         log,
		initialized: make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.pump()
	return s
}

// pump consumes adapter events until the connection closes.
func (s *session) pump() {
	for msg := range s.client.Events() {
		switch event := msg.(type) {
		case *dap.InitializedEvent:
			s.initOnce.Do(func() { close(s.initialized) })
		case *dap.StoppedEvent:
			s.mu.Lock()
			s.stoppedThread = event.Body.ThreadId
			s.mu.Unlock()
			s.log.Debugw("debuggee stopped",
				"session", s.id, "reason", event.Body.Reason, "thread", event.Body.ThreadId)
		case *dap.ContinuedEvent:
			s.mu.Lock()
			s.stoppedThread = 0
			s.mu.Unlock()
		case *dap.TerminatedEvent:
			s.log.Debugw("debug session terminated", "session", s.id)
			s.finish()
		case *dap.ExitedEvent:
			s.log.Debugw("debuggee exited", "session", s.id, "exitCode", event.Body.ExitCode)
			s.finish()
		case *dap.OutputEvent:
			s.log.Debugw("debuggee output",
				"category", event.Body.Category, "output", strings.TrimRight(event.Body.Output, "\n"))
		default:
			s.log.Debugw("unhandled adapter event", "type", fmt.Sprintf("%T", msg))
		}
	}
	s.finish()
}

// finish marks the session dead. The backend lazily drops finished sessions
// from its active slot.
func (s *session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// awaitInitialized blocks until the adapter signals that it accepts
// configuration requests.
func (s *session) awaitInitialized(ctx context.Context) error {
	select {
	case <-s.initialized:
		return nil
	case <-s.done:
		return errors.New("session ended during initialization")
	case <-time.After(requestTimeout):
		return errors.New("timeout waiting for initialized event")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close disconnects from the adapter and stops its process.
func (s *session) close(ctx context.Context) {
	if err := s.client.Disconnect(ctx); err != nil {
		s.log.Debugw("adapter disconnect failed", "session", s.id, "error", err)
	}
	_ = s.client.Close()
	s.proc.Kill()
	s.finish()
}

// ID implements debug.Session.
func (s *session) ID() string {
	return s.id
}

// Continue implements debug.Session. It resumes the thread that last
// stopped, which resumes the whole debuggee on adapters that stop all
// threads together.
func (s *session) Continue(ctx context.Context) error {
	s.mu.Lock()
	thread := s.stoppedThread
	s.mu.Unlock()
	if thread == 0 {
		thread = 1
	}
	return s.client.Continue(ctx, thread)
}

// Threads implements debug.Session.
func (s *session) Threads(ctx context.Context) ([]debug.Thread, error) {
	threads, err := s.client.Threads(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(threads, func(t dap.Thread, _ int) debug.Thread {
		return debug.Thread{ID: t.Id, Name: t.Name}
	}), nil
}

// StackTrace implements debug.Session. Wire lines are 1-based; the boundary
// speaks zero-based.
func (s *session) StackTrace(ctx context.Context, threadID int) ([]debug.Frame, error) {
	frames, err := s.client.StackTrace(ctx, threadID, stackTraceDepth)
	if err != nil {
		return nil, err
	}
	return lo.Map(frames, func(f dap.StackFrame, _ int) debug.Frame {
		frame := debug.Frame{ID: f.Id, Name: f.Name, Line: f.Line - 1}
		if f.Source != nil {
			frame.Source = f.Source.Path
		}
		return frame
	}), nil
}

// Evaluate implements debug.Session.
func (s *session) Evaluate(ctx context.Context, expression string, frameID int) (string, error) {
	return s.client.Evaluate(ctx, expression, frameID, evalContextREPL)
}
