package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jasonjmcghee/claude-debugs-for-you/debug"
)

// fakeAdapter serves canned DAP over a real TCP socket: launch responses are
// withheld until configurationDone, a stopped event follows the launch, and
// a terminated event follows continue.
type fakeAdapter struct {
	t        *testing.T
	listener net.Listener

	mu          sync.Mutex
	seq         int
	launched    []json.RawMessage
	breakpoints map[string][]dap.SourceBreakpoint
	evalContext string
	continues   []int
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeAdapter{
		t:           t,
		listener:    l,
		seq:         1000,
		breakpoints: make(map[string][]dap.SourceBreakpoint),
	}
	go f.serve()
	t.Cleanup(func() { l.Close() })
	return f
}

func (f *fakeAdapter) addr() string {
	return f.listener.Addr().String()
}

func (f *fakeAdapter) serve() {
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)
	var launchSeq int
	for {
		msg, err := dap.ReadProtocolMessage(reader)
		if err != nil {
			return
		}
		switch req := msg.(type) {
		case *dap.InitializeRequest:
			f.write(conn, &dap.InitializeResponse{Response: f.response(req.Seq, "initialize")})
		case *dap.LaunchRequest:
			f.mu.Lock()
			f.launched = append(f.launched, req.Arguments)
			f.mu.Unlock()
			launchSeq = req.Seq
			f.write(conn, &dap.InitializedEvent{Event: f.event("initialized")})
		case *dap.SetBreakpointsRequest:
			f.mu.Lock()
			f.breakpoints[req.Arguments.Source.Path] = req.Arguments.Breakpoints
			f.mu.Unlock()
			verified := make([]dap.Breakpoint, len(req.Arguments.Breakpoints))
			for i, sb := range req.Arguments.Breakpoints {
				verified[i] = dap.Breakpoint{Id: i + 1, Verified: true, Line: sb.Line}
			}
			f.write(conn, &dap.SetBreakpointsResponse{
				Response: f.response(req.Seq, "setBreakpoints"),
				Body:     dap.SetBreakpointsResponseBody{Breakpoints: verified},
			})
		case *dap.ConfigurationDoneRequest:
			f.write(conn, &dap.ConfigurationDoneResponse{Response: f.response(req.Seq, "configurationDone")})
			f.write(conn, &dap.LaunchResponse{Response: f.response(launchSeq, "launch")})
			f.write(conn, &dap.StoppedEvent{
				Event: f.event("stopped"),
				Body:  dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1, AllThreadsStopped: true},
			})
		case *dap.ThreadsRequest:
			f.write(conn, &dap.ThreadsResponse{
				Response: f.response(req.Seq, "threads"),
				Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "main"}}},
			})
		case *dap.StackTraceRequest:
			f.write(conn, &dap.StackTraceResponse{
				Response: f.response(req.Seq, "stackTrace"),
				Body: dap.StackTraceResponseBody{
					StackFrames: []dap.StackFrame{
						{Id: 100, Name: "main", Source: &dap.Source{Path: "/work/main.py"}, Line: 10},
					},
					TotalFrames: 1,
				},
			})
		case *dap.EvaluateRequest:
			f.mu.Lock()
			f.evalContext = req.Arguments.Context
			f.mu.Unlock()
			f.write(conn, &dap.EvaluateResponse{
				Response: f.response(req.Seq, "evaluate"),
				Body:     dap.EvaluateResponseBody{Result: "42"},
			})
		case *dap.ContinueRequest:
			f.mu.Lock()
			f.continues = append(f.continues, req.Arguments.ThreadId)
			f.mu.Unlock()
			f.write(conn, &dap.ContinueResponse{
				Response: f.response(req.Seq, "continue"),
				Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
			})
			f.write(conn, &dap.TerminatedEvent{Event: f.event("terminated")})
		case *dap.DisconnectRequest:
			f.write(conn, &dap.DisconnectResponse{Response: f.response(req.Seq, "disconnect")})
			return
		}
	}
}

func (f *fakeAdapter) response(requestSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: f.nextSeq(), Type: "response"},
		RequestSeq:      requestSeq,
		Success:         true,
		Command:         command,
	}
}

func (f *fakeAdapter) event(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: f.nextSeq(), Type: "event"},
		Event:           name,
	}
}

func (f *fakeAdapter) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.seq
	f.seq++
	return seq
}

func (f *fakeAdapter) write(conn net.Conn, msg dap.Message) {
	if err := dap.WriteProtocolMessage(conn, msg); err != nil {
		f.t.Logf("fake adapter write: %v", err)
	}
}

// fakeStarter hands the backend a connection to the in-process fake adapter
// instead of spawning a real one.
type fakeStarter struct {
	addr string
}

func (s *fakeStarter) Start(debugType string) (*adapterProc, string, error) {
	return &adapterProc{cmd: exec.Command("true"), log: zap.NewNop().Sugar()}, s.addr, nil
}

func newTestBackend(t *testing.T) (*Backend, *fakeAdapter) {
	t.Helper()
	f := newFakeAdapter(t)
	b := NewBackend(nil, zap.NewNop().Sugar())
	b.adapters = &fakeStarter{addr: f.addr()}
	return b, f
}

func TestBackendBreakpointRegistry(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.AddBreakpoint(ctx, debug.Breakpoint{File: "/work/main.py", Line: 9}))
	require.NoError(t, b.AddBreakpoint(ctx, debug.Breakpoint{File: "/work/main.py", Line: 14}))
	require.NoError(t, b.AddBreakpoint(ctx, debug.Breakpoint{File: "/work/util.py", Line: 2}))

	bps, err := b.Breakpoints(ctx)
	require.NoError(t, err)
	assert.Len(t, bps, 3)

	err = b.RemoveBreakpoints(ctx, []debug.Breakpoint{{File: "/work/main.py", Line: 9}})
	require.NoError(t, err)
	bps, err = b.Breakpoints(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []debug.Breakpoint{
		{File: "/work/main.py", Line: 14},
		{File: "/work/util.py", Line: 2},
	}, bps)
}

func TestBackendAddBreakpointReplacesSameLine(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.AddBreakpoint(ctx, debug.Breakpoint{File: "/work/main.py", Line: 9}))
	require.NoError(t, b.AddBreakpoint(ctx, debug.Breakpoint{File: "/work/main.py", Line: 9, Condition: "x > 3"}))

	bps, err := b.Breakpoints(ctx)
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.Equal(t, "x > 3", bps[0].Condition)
}

func TestBackendActiveSessionNilWithoutLaunch(t *testing.T) {
	b, _ := newTestBackend(t)

	sess, err := b.ActiveSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestBackendLaunchHandshake(t *testing.T) {
	b, f := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.AddBreakpoint(ctx, debug.Breakpoint{File: "/work/main.py", Line: 9}))

	config := json.RawMessage(`{"type": "python", "request": "launch", "program": "/work/main.py"}`)
	require.NoError(t, b.Launch(ctx, config))

	f.mu.Lock()
	launched := append([]json.RawMessage(nil), f.launched...)
	wire := append([]dap.SourceBreakpoint(nil), f.breakpoints["/work/main.py"]...)
	f.mu.Unlock()
	require.Len(t, launched, 1)
	assert.JSONEq(t, string(config), string(launched[0]))
	// The registry's zero-based line arrives 1-based on the wire.
	require.Len(t, wire, 1)
	assert.Equal(t, 10, wire[0].Line)

	sess, err := b.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestBackendSessionOperations(t *testing.T) {
	b, f := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Launch(ctx, json.RawMessage(`{"type": "python", "program": "/work/main.py"}`)))
	sess, err := b.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)

	threads, err := sess.Threads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, debug.Thread{ID: 1, Name: "main"}, threads[0])

	frames, err := sess.StackTrace(ctx, threads[0].ID)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	// Wire line 10 becomes zero-based 9.
	assert.Equal(t, debug.Frame{ID: 100, Name: "main", Source: "/work/main.py", Line: 9}, frames[0])

	value, err := sess.Evaluate(ctx, "x + 1", frames[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "42", value)
	f.mu.Lock()
	assert.Equal(t, "repl", f.evalContext)
	f.mu.Unlock()
}

func TestBackendSessionEndsOnTerminate(t *testing.T) {
	b, f := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Launch(ctx, json.RawMessage(`{"type": "python", "program": "/work/main.py"}`)))
	sess, err := b.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)

	// The fake terminates the debuggee after continue.
	require.NoError(t, sess.Continue(ctx))
	f.mu.Lock()
	continues := append([]int(nil), f.continues...)
	f.mu.Unlock()
	assert.Equal(t, []int{1}, continues)

	require.Eventually(t, func() bool {
		sess, err := b.ActiveSession(ctx)
		return err == nil && sess == nil
	}, time.Second, 10*time.Millisecond)
}

func TestBackendLaunchUnknownType(t *testing.T) {
	b := NewBackend(NewAdapterSet(nil, zap.NewNop().Sugar()), zap.NewNop().Sugar())

	err := b.Launch(context.Background(), json.RawMessage(`{"type": "ruby"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no debug adapter configured for type "ruby"`)
}

func TestBackendLaunchMissingType(t *testing.T) {
	b, _ := newTestBackend(t)

	err := b.Launch(context.Background(), json.RawMessage(`{"program": "/work/main.py"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no "type"`)
}

func TestClientSetBreakpoints(t *testing.T) {
	f := newFakeAdapter(t)
	c := NewClient(zap.NewNop().Sugar())
	require.NoError(t, c.Connect(context.Background(), f.addr()))
	defer c.Close()

	verified, err := c.SetBreakpoints(context.Background(), "/work/main.py", []dap.SourceBreakpoint{
		{Line: 10},
		{Line: 14, Condition: "x > 3"},
	})
	require.NoError(t, err)
	require.Len(t, verified, 2)
	assert.True(t, verified[0].Verified)
	assert.Equal(t, 10, verified[0].Line)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "x > 3", f.breakpoints["/work/main.py"][1].Condition)
}

func TestAdapterSetUnknownType(t *testing.T) {
	s := NewAdapterSet(nil, zap.NewNop().Sugar())
	_, _, err := s.Start("ruby")
	require.Error(t, err)
}

func TestAdapterSetOverrides(t *testing.T) {
	s := NewAdapterSet(map[string]AdapterCommand{
		"go":   {Command: "custom-dlv", Args: []string{"dap"}},
		"ruby": {Command: "rdbg", Args: []string{"--open", "--port", "{port}"}},
	}, zap.NewNop().Sugar())

	assert.ElementsMatch(t, []string{"go", "python", "ruby"}, s.Types())
	assert.Equal(t, "custom-dlv", s.commands["go"].Command)
}
