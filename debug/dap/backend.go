package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/jasonjmcghee/claude-debugs-for-you/debug"
)

const dialRetryEvery = 100 * time.Millisecond

// starter abstracts adapter startup so tests can serve DAP in-process.
type starter interface {
	Start(debugType string) (*adapterProc, string, error)
}

// Backend implements debug.Backend over DAP adapters. It owns the breakpoint
// registry and at most one live session; a new launch replaces whatever
// session came before it.
type Backend struct {
	adapters starter
	log      *zap.SugaredLogger

	mu      sync.Mutex
	bps     map[string][]debug.Breakpoint // keyed by cleaned file path
	current *session
}

// NewBackend returns a Backend that starts adapters from the given set.
func NewBackend(adapters *AdapterSet, log *zap.SugaredLogger) *Backend {
	return &Backend{
		adapters: adapters,
		log:      log,
		bps:      make(map[string][]debug.Breakpoint),
	}
}

// Breakpoints implements debug.Backend.
func (b *Backend) Breakpoints(ctx context.Context) ([]debug.Breakpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lo.Flatten(lo.Values(b.bps)), nil
}

// AddBreakpoint implements debug.Backend. Setting a breakpoint on a line
// that already has one replaces it, so conditions can be updated in place.
func (b *Backend) AddBreakpoint(ctx context.Context, bp debug.Breakpoint) error {
	bp.File = filepath.Clean(bp.File)

	b.mu.Lock()
	list := b.bps[bp.File]
	if i := slotFor(list, bp.Line); i >= 0 {
		list[i] = bp
	} else {
		list = append(list, bp)
	}
	b.bps[bp.File] = list
	sess := b.currentLocked()
	b.mu.Unlock()

	if sess == nil {
		return nil
	}
	return b.syncFile(ctx, sess.client, bp.File)
}

// RemoveBreakpoints implements debug.Backend.
func (b *Backend) RemoveBreakpoints(ctx context.Context, bps []debug.Breakpoint) error {
	b.mu.Lock()
	touched := make(map[string]struct{})
	for _, bp := range bps {
		key := filepath.Clean(bp.File)
		list, ok := b.bps[key]
		if !ok {
			continue
		}
		filtered := lo.Reject(list, func(existing debug.Breakpoint, _ int) bool {
			return existing.Line == bp.Line
		})
		if len(filtered) == len(list) {
			continue
		}
		touched[key] = struct{}{}
		if len(filtered) == 0 {
			delete(b.bps, key)
		} else {
			b.bps[key] = filtered
		}
	}
	sess := b.currentLocked()
	b.mu.Unlock()

	if sess == nil {
		return nil
	}
	for key := range touched {
		if err := b.syncFile(ctx, sess.client, key); err != nil {
			return err
		}
	}
	return nil
}

// ActiveSession implements debug.Backend. It returns (nil, nil) while no
// debuggee runs.
func (b *Backend) ActiveSession(ctx context.Context) (debug.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess := b.currentLocked()
	if sess == nil {
		return nil, nil
	}
	return sess, nil
}

// currentLocked returns the live session, reaping one that ended on its own.
// Callers must hold b.mu.
func (b *Backend) currentLocked() *session {
	if b.current == nil {
		return nil
	}
	select {
	case <-b.current.done:
		b.current.proc.Kill()
		_ = b.current.client.Close()
		b.current = nil
		return nil
	default:
		return b.current
	}
}

// Launch implements debug.Backend. It spawns the adapter selected by the
// configuration's "type", runs the DAP configuration handshake with the
// registry's breakpoints, and installs the new session once the adapter has
// accepted the launch.
func (b *Backend) Launch(ctx context.Context, configuration json.RawMessage) error {
	debugType := gjson.GetBytes(configuration, "type").Str
	if debugType == "" {
		return errors.New(`launch configuration has no "type"`)
	}

	b.mu.Lock()
	prev := b.currentLocked()
	b.current = nil
	b.mu.Unlock()
	if prev != nil {
		b.log.Infow("replacing previous debug session", "session", prev.ID())
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		prev.close(closeCtx)
		cancel()
	}

	proc, addr, err := b.adapters.Start(debugType)
	if err != nil {
		return err
	}
	client := NewClient(b.log)
	if err := b.dialAdapter(ctx, client, addr); err != nil {
		proc.Kill()
		return err
	}
	sess := newSession(client, proc, b.log)

	if err := b.configureAndLaunch(ctx, sess, debugType, configuration); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		sess.close(closeCtx)
		cancel()
		return err
	}

	b.mu.Lock()
	b.current = sess
	b.mu.Unlock()
	b.log.Infow("debug session started", "session", sess.ID(), "type", debugType)
	return nil
}

// configureAndLaunch runs the DAP startup sequence: initialize, launch
// (deferred response), wait for the initialized event, replay breakpoints,
// configurationDone, then collect the launch response.
func (b *Backend) configureAndLaunch(ctx context.Context, sess *session, debugType string, configuration json.RawMessage) error {
	if err := sess.client.Initialize(ctx, debugType); err != nil {
		return fmt.Errorf("initialize adapter: %w", err)
	}
	pending, err := sess.client.Launch(configuration)
	if err != nil {
		return err
	}
	if err := sess.awaitInitialized(ctx); err != nil {
		return err
	}
	if err := b.syncAll(ctx, sess.client); err != nil {
		return fmt.Errorf("configure breakpoints: %w", err)
	}
	if err := sess.client.ConfigurationDone(ctx); err != nil {
		return err
	}
	if _, err := pending.Await(ctx); err != nil {
		return fmt.Errorf("launch debuggee: %w", err)
	}
	return nil
}

// dialAdapter retries while the adapter process is still binding its port.
func (b *Backend) dialAdapter(ctx context.Context, client *Client, addr string) error {
	var err error
	for attempt := 0; attempt < 50; attempt++ {
		if err = client.Connect(ctx, addr); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dialRetryEvery):
		}
	}
	return fmt.Errorf("debug adapter never came up on %s: %w", addr, err)
}

func (b *Backend) syncAll(ctx context.Context, client *Client) error {
	b.mu.Lock()
	files := lo.Keys(b.bps)
	b.mu.Unlock()
	for _, file := range files {
		if err := b.syncFile(ctx, client, file); err != nil {
			return err
		}
	}
	return nil
}

// syncFile replaces the adapter's breakpoint set for one file with the
// registry's view. DAP has no per-breakpoint removal, only whole-file
// replacement.
func (b *Backend) syncFile(ctx context.Context, client *Client, file string) error {
	b.mu.Lock()
	list := append([]debug.Breakpoint(nil), b.bps[file]...)
	b.mu.Unlock()

	wire := lo.Map(list, func(bp debug.Breakpoint, _ int) dap.SourceBreakpoint {
		return dap.SourceBreakpoint{Line: bp.Line + 1, Condition: bp.Condition}
	})
	verified, err := client.SetBreakpoints(ctx, file, wire)
	if err != nil {
		return fmt.Errorf("set breakpoints in %s: %w", file, err)
	}
	for _, vb := range verified {
		if !vb.Verified {
			b.log.Warnw("breakpoint not verified by adapter",
				"file", file, "line", vb.Line, "message", vb.Message)
		}
	}
	return nil
}

// Shutdown ends any live session and stops its adapter.
func (b *Backend) Shutdown(ctx context.Context) {
	b.mu.Lock()
	sess := b.current
	b.current = nil
	b.mu.Unlock()
	if sess != nil {
		sess.close(ctx)
	}
}

func slotFor(list []debug.Breakpoint, line int) int {
	for i, bp := range list {
		if bp.Line == line {
			return i
		}
	}
	return -1
}
