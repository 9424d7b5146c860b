// Package dap implements the debug.Backend boundary over the Debug Adapter
// Protocol. It spawns one adapter process per launch, speaks DAP to it over
// TCP, and mirrors the server's breakpoint registry into the adapter.
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/go-dap"
	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

// Client is a DAP client over a single TCP connection. Requests may be
// issued from multiple goroutines; responses are matched to requests by
// sequence number. Events are surfaced on Events in arrival order.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	log    *zap.SugaredLogger

	writeMu sync.Mutex // serializes wire writes

	mu      sync.Mutex
	seq     int
	pending map[int]chan dap.Message
	closed  bool

	events chan dap.Message
}

// NewClient creates a client that is not yet connected.
func NewClient(log *zap.SugaredLogger) *Client {
	return &Client{
		seq:     1,
		pending: make(map[int]chan dap.Message),
		events:  make(chan dap.Message, 100),
		log:     log,
	}
}

// Connect dials the adapter and starts the read loop.
func (c *Client) Connect(ctx context.Context, addr string) error {
	dialCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to debug adapter: %w", err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	go c.readLoop()
	return nil
}

// Close tears down the connection. Pending requests fail and Events is
// closed once the read loop notices.
func (c *Client) Close() error {
	c.mu.Lock()
	closed := c.closed
	c.closed = true
	c.mu.Unlock()
	if closed || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Events returns the adapter's event stream. The channel is closed when the
// connection goes away.
func (c *Client) Events() <-chan dap.Message {
	return c.events
}

// readLoop routes responses to their waiting requests and everything else to
// the events channel.
func (c *Client) readLoop() {
	for {
		message, err := dap.ReadProtocolMessage(c.reader)
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.closed = true
			for seq, ch := range c.pending {
				close(ch)
				delete(c.pending, seq)
			}
			c.mu.Unlock()
			if err != io.EOF && !wasClosed {
				c.log.Warnw("adapter connection lost", "error", err)
			}
			close(c.events)
			return
		}

		if resp, ok := message.(dap.ResponseMessage); ok {
			requestSeq := resp.GetResponse().RequestSeq
			c.mu.Lock()
			ch, waiting := c.pending[requestSeq]
			if waiting {
				delete(c.pending, requestSeq)
			}
			c.mu.Unlock()
			if !waiting {
				c.log.Debugw("discarding unawaited response",
					"command", resp.GetResponse().Command, "requestSeq", requestSeq)
				continue
			}
			ch <- message
			continue
		}

		select {
		case c.events <- message:
		default:
			c.log.Warnw("event buffer full, dropping", "type", fmt.Sprintf("%T", message))
		}
	}
}

// newRequest allocates the next sequence number and registers a response
// channel for it.
func (c *Client) newRequest(command string) (dap.Request, chan dap.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return dap.Request{}, nil, errors.New("client is closed")
	}
	seq := c.seq
	c.seq++
	ch := make(chan dap.Message, 1)
	c.pending[seq] = ch
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  seq,
			Type: "request",
		},
		Command: command,
	}, ch, nil
}

func (c *Client) write(request dap.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return dap.WriteProtocolMessage(c.conn, request)
}

// Pending is an in-flight request. The launch handshake needs it: adapters
// answer the launch request only after configurationDone, so the response is
// awaited separately from issuing the request.
type Pending struct {
	command string
	ch      chan dap.Message
}

// Await blocks until the response arrives. It returns an error for adapter
// error responses, unsuccessful responses, timeouts, and lost connections.
func (p *Pending) Await(ctx context.Context) (dap.Message, error) {
	timeout := time.After(requestTimeout)
	select {
	case msg, ok := <-p.ch:
		if !ok {
			return nil, fmt.Errorf("connection closed while awaiting %q response", p.command)
		}
		if err := responseError(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case <-timeout:
		return nil, fmt.Errorf("timeout waiting for %q response", p.command)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// responseError turns unsuccessful responses into errors.
func responseError(msg dap.Message) error {
	if errResp, ok := msg.(*dap.ErrorResponse); ok {
		if errResp.Body.Error != nil && errResp.Body.Error.Format != "" {
			return fmt.Errorf("adapter error: %s", errResp.Body.Error.Format)
		}
		return fmt.Errorf("adapter error: %s", errResp.Message)
	}
	resp, ok := msg.(dap.ResponseMessage)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	if r := resp.GetResponse(); !r.Success {
		return fmt.Errorf("%s request failed: %s", r.Command, r.Message)
	}
	return nil
}

// start issues a request without waiting for its response.
func (c *Client) start(request dap.Message, command string, ch chan dap.Message) (*Pending, error) {
	if err := c.write(request); err != nil {
		c.mu.Lock()
		delete(c.pending, request.GetSeq())
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s request: %w", command, err)
	}
	return &Pending{command: command, ch: ch}, nil
}

// call issues a request and waits for the matching response.
func (c *Client) call(ctx context.Context, request dap.Message, command string, ch chan dap.Message) (dap.Message, error) {
	pending, err := c.start(request, command, ch)
	if err != nil {
		return nil, err
	}
	return pending.Await(ctx)
}

// Initialize performs the DAP initialize handshake. Lines and columns are
// 1-based on the wire.
func (c *Client) Initialize(ctx context.Context, adapterID string) error {
	req, ch, err := c.newRequest("initialize")
	if err != nil {
		return err
	}
	request := &dap.InitializeRequest{
		Request: req,
		Arguments: dap.InitializeRequestArguments{
			ClientID:                     "debug-mcp",
			ClientName:                   "Debug MCP Server",
			AdapterID:                    adapterID,
			PathFormat:                   "path",
			LinesStartAt1:                true,
			ColumnsStartAt1:              true,
			SupportsVariableType:         true,
			SupportsRunInTerminalRequest: false,
		},
	}
	_, err = c.call(ctx, request, "initialize", ch)
	return err
}

// Launch issues a launch request with the given configuration and returns
// without waiting: adapters withhold the response until the configuration
// phase finishes.
func (c *Client) Launch(configuration json.RawMessage) (*Pending, error) {
	req, ch, err := c.newRequest("launch")
	if err != nil {
		return nil, err
	}
	request := &dap.LaunchRequest{
		Request:   req,
		Arguments: configuration,
	}
	return c.start(request, "launch", ch)
}

// SetBreakpoints replaces the full breakpoint set of one source file.
func (c *Client) SetBreakpoints(ctx context.Context, path string, bps []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	req, ch, err := c.newRequest("setBreakpoints")
	if err != nil {
		return nil, err
	}
	request := &dap.SetBreakpointsRequest{
		Request: req,
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: path},
			Breakpoints: bps,
		},
	}
	msg, err := c.call(ctx, request, "setBreakpoints", ch)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.SetBreakpointsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", msg)
	}
	return resp.Body.Breakpoints, nil
}

// ConfigurationDone ends the configuration phase.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	req, ch, err := c.newRequest("configurationDone")
	if err != nil {
		return err
	}
	_, err = c.call(ctx, &dap.ConfigurationDoneRequest{Request: req}, "configurationDone", ch)
	return err
}

// Continue resumes the given thread. Adapters resume all threads unless the
// launch configuration says otherwise.
func (c *Client) Continue(ctx context.Context, threadID int) error {
	req, ch, err := c.newRequest("continue")
	if err != nil {
		return err
	}
	request := &dap.ContinueRequest{
		Request:   req,
		Arguments: dap.ContinueArguments{ThreadId: threadID},
	}
	_, err = c.call(ctx, request, "continue", ch)
	return err
}

// Threads lists the debuggee's threads.
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	req, ch, err := c.newRequest("threads")
	if err != nil {
		return nil, err
	}
	msg, err := c.call(ctx, &dap.ThreadsRequest{Request: req}, "threads", ch)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.ThreadsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", msg)
	}
	return resp.Body.Threads, nil
}

// StackTrace returns up to levels frames of the given thread, innermost
// first.
func (c *Client) StackTrace(ctx context.Context, threadID, levels int) ([]dap.StackFrame, error) {
	req, ch, err := c.newRequest("stackTrace")
	if err != nil {
		return nil, err
	}
	request := &dap.StackTraceRequest{
		Request: req,
		Arguments: dap.StackTraceArguments{
			ThreadId: threadID,
			Levels:   levels,
		},
	}
	msg, err := c.call(ctx, request, "stackTrace", ch)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.StackTraceResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", msg)
	}
	return resp.Body.StackFrames, nil
}

// Evaluate evaluates an expression in a frame. The evalContext selects the
// adapter's evaluation mode ("repl", "watch", ...).
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (string, error) {
	req, ch, err := c.newRequest("evaluate")
	if err != nil {
		return "", err
	}
	request := &dap.EvaluateRequest{
		Request: req,
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evalContext,
		},
	}
	msg, err := c.call(ctx, request, "evaluate", ch)
	if err != nil {
		return "", err
	}
	resp, ok := msg.(*dap.EvaluateResponse)
	if !ok {
		return "", fmt.Errorf("unexpected response type %T", msg)
	}
	return resp.Body.Result, nil
}

// Disconnect asks the adapter to stop the debuggee and end the session.
func (c *Client) Disconnect(ctx context.Context) error {
	req, ch, err := c.newRequest("disconnect")
	if err != nil {
		return err
	}
	request := &dap.DisconnectRequest{
		Request:   req,
		Arguments: &dap.DisconnectArguments{TerminateDebuggee: true},
	}
	_, err = c.call(ctx, request, "disconnect", ch)
	return err
}
