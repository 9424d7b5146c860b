// Package debug turns client-submitted debugging plans into calls against a
// debugger backend. Plans run strictly in order, one at a time, and report a
// human-readable result line per step.
package debug

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jasonjmcghee/claude-debugs-for-you/launchcfg"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	defaultSessionWait = 5 * time.Second
	defaultPollEvery   = 100 * time.Millisecond
)

// Orchestrator executes debugging plans against a Backend. A mutex serializes
// whole plans: the backend drives one shared debuggee, so interleaving two
// plans would corrupt both.
type Orchestrator struct {
	backend  Backend
	launches LaunchSource
	root     string
	clock    clock.Clock
	log      *zap.SugaredLogger

	sessionWait time.Duration
	pollEvery   time.Duration

	mu sync.Mutex
}

// NewOrchestrator returns an Orchestrator rooted at the given workspace
// directory. A nil clk selects the wall clock.
func NewOrchestrator(backend Backend, launches LaunchSource, root string, clk clock.Clock, log *zap.SugaredLogger) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	return &Orchestrator{
		backend:     backend,
		launches:    launches,
		root:        root,
		clock:       clk,
		log:         log,
		sessionWait: defaultSessionWait,
		pollEvery:   defaultPollEvery,
	}
}

// ExecutePlan runs the plan's steps in order and returns one result line per
// step. The first failing step aborts the plan: no results are returned and
// the error identifies the step. Evaluation failures are the one exception;
// they become the step's result line instead of aborting.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan Plan) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	results := make([]string, 0, len(plan))
	for i, step := range plan {
		result, err := o.runStep(ctx, step)
		if err != nil {
			o.log.Warnw("debug plan aborted",
				"step", i+1, "type", step.Type, "completed", len(results), "error", err)
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Type, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (o *Orchestrator) runStep(ctx context.Context, step Step) (string, error) {
	switch step.Type {
	case StepSetBreakpoint:
		return o.setBreakpoint(ctx, step)
	case StepRemoveBreakpoint:
		return o.removeBreakpoint(ctx, step)
	case StepContinue:
		return o.continueExecution(ctx)
	case StepEvaluate:
		return o.evaluate(ctx, step)
	case StepLaunch:
		return o.launch(ctx, step)
	default:
		return "", &ValidationError{Kind: string(step.Type), Reason: "unknown step type"}
	}
}

func (o *Orchestrator) setBreakpoint(ctx context.Context, step Step) (string, error) {
	bp := Breakpoint{File: step.File, Line: step.Line - 1, Condition: step.Condition}
	if err := o.backend.AddBreakpoint(ctx, bp); err != nil {
		return "", &BackendError{Op: "add breakpoint", Err: err}
	}
	if step.Condition != "" {
		return fmt.Sprintf("Breakpoint set at %s:%d with condition %q", step.File, step.Line, step.Condition), nil
	}
	return fmt.Sprintf("Breakpoint set at %s:%d", step.File, step.Line), nil
}

// removeBreakpoint unregisters every breakpoint matching the step's file and
// line. Zero matches is a successful no-op, so plans can clean up
// breakpoints they are not sure still exist.
func (o *Orchestrator) removeBreakpoint(ctx context.Context, step Step) (string, error) {
	bps, err := o.backend.Breakpoints(ctx)
	if err != nil {
		return "", &BackendError{Op: "list breakpoints", Err: err}
	}
	matches := lo.Filter(bps, func(bp Breakpoint, _ int) bool {
		return bp.Line == step.Line-1 && sameFile(bp.File, step.File)
	})
	if len(matches) > 0 {
		if err := o.backend.RemoveBreakpoints(ctx, matches); err != nil {
			return "", &BackendError{Op: "remove breakpoints", Err: err}
		}
	}
	return fmt.Sprintf("Removed %d breakpoint(s) at %s:%d", len(matches), step.File, step.Line), nil
}

func (o *Orchestrator) continueExecution(ctx context.Context) (string, error) {
	sess, err := o.activeSession(ctx)
	if err != nil {
		return "", err
	}
	if err := sess.Continue(ctx); err != nil {
		return "", &BackendError{Op: "continue", Err: err}
	}
	return "Continued execution", nil
}

func (o *Orchestrator) evaluate(ctx context.Context, step Step) (string, error) {
	sess, err := o.activeSession(ctx)
	if err != nil {
		return "", err
	}
	value, err := o.evaluateInTopFrame(ctx, sess, step.Expression)
	if err != nil {
		// Bad expressions are expected while a client probes program state;
		// report them in-band so the plan keeps going.
		o.log.Warnw("expression evaluation failed", "expression", step.Expression, "error", err)
		return fmt.Sprintf("Failed to evaluate %q: %v", step.Expression, err), nil
	}
	return fmt.Sprintf("Evaluated %q: %s", step.Expression, value), nil
}

func (o *Orchestrator) evaluateInTopFrame(ctx context.Context, sess Session, expression string) (string, error) {
	threads, err := sess.Threads(ctx)
	if err != nil {
		return "", err
	}
	if len(threads) == 0 {
		return "", errors.New("session has no threads")
	}
	frames, err := sess.StackTrace(ctx, threads[0].ID)
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", errors.New("thread has no stack frames")
	}
	return sess.Evaluate(ctx, expression, frames[0].ID)
}

func (o *Orchestrator) launch(ctx context.Context, step Step) (string, error) {
	configs, err := o.launches.Configurations(ctx)
	if err != nil {
		return "", &BackendError{Op: "read launch configurations", Err: err}
	}
	if len(configs) == 0 {
		return "", ErrNoLaunchConfig
	}

	file := step.File
	if !filepath.IsAbs(file) {
		file = filepath.Join(o.root, file)
	}
	derived, err := launchcfg.Resolve(configs[0], file, o.root)
	if err != nil {
		return "", &BackendError{Op: "resolve launch configuration", Err: err}
	}

	if err := o.backend.Launch(ctx, derived); err != nil {
		return "", &BackendError{Op: "launch", Err: err}
	}

	sess, err := o.waitForSession(ctx)
	if err != nil {
		return "", err
	}
	if line, ok := o.stoppedAtBreakpoint(ctx, sess); ok {
		return fmt.Sprintf("Stopped at breakpoint on line %d", line), nil
	}
	return "Debug session started", nil
}

// waitForSession polls the backend until a session appears. Query errors
// count as absence; launches that never produce a session end in
// ErrSessionTimeout.
func (o *Orchestrator) waitForSession(ctx context.Context) (Session, error) {
	deadline := o.clock.Now().Add(o.sessionWait)
	ticker := o.clock.Ticker(o.pollEvery)
	defer ticker.Stop()

	var lastErr error
	for {
		sess, err := o.backend.ActiveSession(ctx)
		if err == nil && sess != nil {
			return sess, nil
		}
		lastErr = err
		if !o.clock.Now().Before(deadline) {
			o.log.Warnw("no debug session after launch", "waited", o.sessionWait, "lastError", lastErr)
			return nil, ErrSessionTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// stoppedAtBreakpoint reports the 1-based line of the first thread's top
// frame when it sits on a registered breakpoint. Inspection is best effort;
// any failure means "not stopped at a breakpoint".
func (o *Orchestrator) stoppedAtBreakpoint(ctx context.Context, sess Session) (int, bool) {
	threads, err := sess.Threads(ctx)
	if err != nil || len(threads) == 0 {
		return 0, false
	}
	frames, err := sess.StackTrace(ctx, threads[0].ID)
	if err != nil || len(frames) == 0 {
		return 0, false
	}
	top := frames[0]
	bps, err := o.backend.Breakpoints(ctx)
	if err != nil {
		return 0, false
	}
	hit := lo.ContainsBy(bps, func(bp Breakpoint) bool {
		return bp.Line == top.Line && sameFile(bp.File, top.Source)
	})
	if !hit {
		return 0, false
	}
	return top.Line + 1, true
}

func (o *Orchestrator) activeSession(ctx context.Context) (Session, error) {
	sess, err := o.backend.ActiveSession(ctx)
	if err != nil {
		return nil, &BackendError{Op: "query active session", Err: err}
	}
	if sess == nil {
		return nil, ErrNoActiveSession
	}
	return sess, nil
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
