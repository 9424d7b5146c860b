package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

const replyTimeout = 10 * time.Second

var errReplExit = errors.New("exit")

// newClientCmd starts an interactive shell against a running server,
// speaking the same SSE and POST exchanges an editor-embedded client would.
func newClientCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interactive client for a running debug-mcp server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(cmd.Context(), fmt.Sprintf("http://127.0.0.1:%d", port))
		},
	}
	cmd.Flags().IntVar(&port, "port", 4711, "Port the server listens on")
	return cmd
}

// sseClient is a minimal MCP client over the server's SSE transport.
// Replies arrive on the stream and are routed to callers by request id.
type sseClient struct {
	endpoint string
	stream   *http.Response

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan gjson.Result
	closed  bool
}

func dialSSE(base string) (*sseClient, error) {
	resp, err := http.Get(base + "/sse")
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open event stream: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	event, data, err := nextFrame(scanner)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("read endpoint announcement: %w", err)
	}
	if event != "endpoint" {
		resp.Body.Close()
		return nil, fmt.Errorf("expected endpoint announcement, got %q", event)
	}

	c := &sseClient{
		endpoint: base + data,
		stream:   resp,
		pending:  make(map[int64]chan gjson.Result),
	}
	go c.readLoop(scanner)
	return c, nil
}

func (c *sseClient) close() {
	c.stream.Body.Close()
}

// nextFrame reads one event/data frame off the stream.
func nextFrame(scanner *bufio.Scanner) (event, data string, err error) {
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	return "", "", io.EOF
}

func (c *sseClient) readLoop(scanner *bufio.Scanner) {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	for {
		event, data, err := nextFrame(scanner)
		if err != nil {
			return
		}
		if event != "message" {
			continue
		}
		id := gjson.Get(data, "id")
		if !id.Exists() {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[id.Int()]
		if ok {
			delete(c.pending, id.Int())
		}
		c.mu.Unlock()
		if ok {
			ch <- gjson.Parse(data)
		}
	}
}

func (c *sseClient) drop(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// post sends one JSON-RPC body to the message endpoint.
func (c *sseClient) post(ctx context.Context, body map[string]interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("message rejected: status %d", resp.StatusCode)
	}
	return nil
}

// call sends a request and waits for its reply frame.
func (c *sseClient) call(ctx context.Context, method string, params interface{}) (gjson.Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return gjson.Result{}, errors.New("connection closed")
	}
	c.nextID++
	id := c.nextID
	ch := make(chan gjson.Result, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	body := map[string]interface{}{
		"jsonrpc": mcp.JSONRPC_VERSION,
		"id":      id,
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}
	if err := c.post(ctx, body); err != nil {
		c.drop(id)
		return gjson.Result{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return gjson.Result{}, errors.New("connection closed while awaiting reply")
		}
		if errMsg := reply.Get("error.message"); errMsg.Exists() {
			return gjson.Result{}, fmt.Errorf("server error: %s", errMsg.String())
		}
		return reply, nil
	case <-time.After(replyTimeout):
		c.drop(id)
		return gjson.Result{}, fmt.Errorf("timed out waiting for %s reply", method)
	case <-ctx.Done():
		c.drop(id)
		return gjson.Result{}, ctx.Err()
	}
}

func (c *sseClient) initialize(ctx context.Context) error {
	_, err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "debug-mcp-client",
			"version": version,
		},
	})
	if err != nil {
		return err
	}
	// Servers expect the initialized notification before tool traffic.
	return c.post(ctx, map[string]interface{}{
		"jsonrpc": mcp.JSONRPC_VERSION,
		"method":  "notifications/initialized",
	})
}

func runClient(ctx context.Context, base string) error {
	c, err := dialSSE(base)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	fmt.Printf("connected to %s/sse\n", base)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "debug-mcp> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".debug-mcp_history"),
		AutoComplete:    replCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("create readline instance: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if err := runReplCommand(ctx, c, input); err != nil {
			if errors.Is(err, errReplExit) {
				return nil
			}
			fmt.Printf("error: %v\n", err)
		}
	}
}

func replCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("tools"),
		readline.PcItem("call",
			readline.PcItem("listFiles"),
			readline.PcItem("getFile"),
			readline.PcItem("debug"),
		),
		readline.PcItem("exit"),
	)
}

const replHelp = `Commands:
  tools                 list the server's tools
  call <tool> [json]    call a tool with JSON arguments
  help                  show this help
  exit                  leave the client
`

func runReplCommand(ctx context.Context, c *sseClient, input string) error {
	name, rest, _ := strings.Cut(input, " ")
	switch name {
	case "help":
		fmt.Print(replHelp)
		return nil
	case "tools":
		return replListTools(ctx, c)
	case "call":
		return replCallTool(ctx, c, rest)
	case "exit", "quit":
		return errReplExit
	default:
		return fmt.Errorf("unknown command %q, try help", name)
	}
}

func replListTools(ctx context.Context, c *sseClient) error {
	reply, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	for _, tool := range reply.Get("result.tools").Array() {
		fmt.Printf("%s\n    %s\n", tool.Get("name").String(), tool.Get("description").String())
	}
	return nil
}

func replCallTool(ctx context.Context, c *sseClient, rest string) error {
	name, argsJSON, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if name == "" {
		return errors.New("usage: call <tool> [json arguments]")
	}

	arguments := json.RawMessage("{}")
	if trimmed := strings.TrimSpace(argsJSON); trimmed != "" {
		if !gjson.Valid(trimmed) {
			return fmt.Errorf("arguments are not valid JSON: %s", trimmed)
		}
		arguments = json.RawMessage(trimmed)
	}

	reply, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return err
	}

	result := reply.Get("result")
	for _, content := range result.Get("content").Array() {
		fmt.Println(content.Get("text").String())
	}
	if result.Get("isError").Bool() {
		fmt.Println("(tool reported an error)")
	}
	return nil
}
