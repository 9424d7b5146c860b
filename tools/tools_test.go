package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/jasonjmcghee/claude-debugs-for-you/debug"
	"github.com/jasonjmcghee/claude-debugs-for-you/workspace"
)

type fakeRunner struct {
	mu      sync.Mutex
	plans   []debug.Plan
	results []string
	err     error
}

func (f *fakeRunner) ExecutePlan(_ context.Context, plan debug.Plan) ([]string, error) {
	f.mu.Lock()
	f.plans = append(f.plans, plan)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeRunner) planCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plans)
}

func newToolServer(t *testing.T) (*server.MCPServer, *fakeRunner, string) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "main.py"), []byte("x = 1\nprint(x)\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "index.js"), []byte("module.exports = {}\n"), 0o644))

	files, err := workspace.New([]string{root}, zap.NewNop().Sugar())
	require.NoError(t, err)

	runner := &fakeRunner{results: []string{"Breakpoint set at main.py:2"}}
	s := server.NewMCPServer("debug-mcp", "0.1.0", server.WithToolCapabilities(false))
	Register(s, files, runner, zap.NewNop().Sugar())
	return s, runner, root
}

func handle(t *testing.T, s *server.MCPServer, request map[string]interface{}) mcp.JSONRPCMessage {
	t.Helper()
	data, err := json.Marshal(request)
	require.NoError(t, err, "Failed to marshal request")
	return s.HandleMessage(context.Background(), data)
}

func callTool(t *testing.T, s *server.MCPServer, name string, arguments map[string]interface{}) mcp.JSONRPCMessage {
	t.Helper()
	return handle(t, s, map[string]interface{}{
		"jsonrpc": mcp.JSONRPC_VERSION,
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": arguments,
		},
	})
}

// toolText unwraps the text content of a tool response and whether the
// result was flagged as an error.
func toolText(t *testing.T, resp mcp.JSONRPCMessage) (string, bool) {
	t.Helper()

	jsonResp, ok := resp.(mcp.JSONRPCResponse)
	require.True(t, ok, "Unexpected response type: %T", resp)

	data, err := json.Marshal(jsonResp.Result)
	require.NoError(t, err, "Failed to marshal result")

	var result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(data, &result), "Failed to unmarshal tool result")
	require.NotEmpty(t, result.Content, "Tool response has no content")
	return result.Content[0].Text, result.IsError
}

// protocolError asserts the response is a JSON-RPC level error and returns
// its message.
func protocolError(t *testing.T, resp mcp.JSONRPCMessage) string {
	t.Helper()

	jsonErr, ok := resp.(mcp.JSONRPCError)
	require.True(t, ok, "Expected a protocol error, got %T", resp)

	data, err := json.Marshal(jsonErr)
	require.NoError(t, err)
	return gjson.GetBytes(data, "error.message").String()
}

type toolInfo struct {
	Name        string                 `json:"name"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func listTools(t *testing.T, s *server.MCPServer) []toolInfo {
	t.Helper()

	resp := handle(t, s, map[string]interface{}{
		"jsonrpc": mcp.JSONRPC_VERSION,
		"id":      1,
		"method":  "tools/list",
	})
	jsonResp, ok := resp.(mcp.JSONRPCResponse)
	require.True(t, ok, "Unexpected response type: %T", resp)

	data, err := json.Marshal(jsonResp.Result)
	require.NoError(t, err)

	var result struct {
		Tools []toolInfo `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(data, &result))
	return result.Tools
}

func TestRegisterExposesExactlyThreeTools(t *testing.T) {
	s, _, _ := newToolServer(t)

	names := lo.Map(listTools(t, s), func(tool toolInfo, _ int) string {
		return tool.Name
	})
	assert.ElementsMatch(t, []string{"listFiles", "getFile", "debug"}, names)
}

func TestDebugToolSchema(t *testing.T) {
	s, _, _ := newToolServer(t)

	tools := listTools(t, s)
	var schema map[string]interface{}
	for _, tool := range tools {
		if tool.Name == "debug" {
			schema = tool.InputSchema
			break
		}
	}
	require.NotNil(t, schema, "debug tool not found")

	required, ok := schema["required"].([]interface{})
	require.True(t, ok, "Failed to get required from schema")
	assert.Contains(t, required, "steps")

	properties, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok, "Failed to get properties from schema")
	steps, ok := properties["steps"].(map[string]interface{})
	require.True(t, ok, "steps property not found in schema")
	items, ok := steps["items"].(map[string]interface{})
	require.True(t, ok, "items not found for steps property")

	itemRequired, ok := items["required"].([]interface{})
	require.True(t, ok, "required not found on step items")
	assert.ElementsMatch(t, []interface{}{"type", "file"}, itemRequired)

	itemProps, ok := items["properties"].(map[string]interface{})
	require.True(t, ok, "properties not found on step items")
	kind, ok := itemProps["type"].(map[string]interface{})
	require.True(t, ok, "type property not found on step items")

	enum, ok := kind["enum"].([]interface{})
	require.True(t, ok, "Enum not found for step type")
	assert.ElementsMatch(t, []interface{}{
		"setBreakpoint", "removeBreakpoint", "continue", "evaluate", "launch",
	}, enum)
}

func TestListFilesDefaultsExcludeDependencyDirs(t *testing.T) {
	s, _, root := newToolServer(t)

	text, isError := toolText(t, callTool(t, s, "listFiles", map[string]interface{}{}))
	require.False(t, isError)

	var paths []string
	require.NoError(t, json.Unmarshal([]byte(text), &paths), "listFiles should return a JSON array")
	assert.Contains(t, paths, filepath.Join(root, "src", "main.py"))
	assert.NotContains(t, paths, filepath.Join(root, "node_modules", "pkg", "index.js"))
}

func TestListFilesIncludePatterns(t *testing.T) {
	s, _, root := newToolServer(t)

	text, isError := toolText(t, callTool(t, s, "listFiles", map[string]interface{}{
		"includePatterns": []string{"**/*.js"},
		"excludePatterns": []string{},
	}))
	require.False(t, isError)

	var paths []string
	require.NoError(t, json.Unmarshal([]byte(text), &paths))
	assert.Equal(t, []string{filepath.Join(root, "node_modules", "pkg", "index.js")}, paths)
}

func TestListFilesEmptyWorkspaceReturnsEmptyArray(t *testing.T) {
	s, _, _ := newToolServer(t)

	text, isError := toolText(t, callTool(t, s, "listFiles", map[string]interface{}{
		"includePatterns": []string{"**/*.rs"},
	}))
	require.False(t, isError)
	assert.Equal(t, "[]", text)
}

func TestGetFileNumbersLines(t *testing.T) {
	s, _, root := newToolServer(t)

	text, isError := toolText(t, callTool(t, s, "getFile", map[string]interface{}{
		"path": filepath.Join(root, "src", "main.py"),
	}))
	require.False(t, isError)
	assert.Equal(t, "1: x = 1\n2: print(x)", text)
}

func TestGetFileMissingFileIsToolError(t *testing.T) {
	s, _, root := newToolServer(t)

	text, isError := toolText(t, callTool(t, s, "getFile", map[string]interface{}{
		"path": filepath.Join(root, "src", "absent.py"),
	}))
	assert.True(t, isError)
	assert.Contains(t, text, "Failed to read file")
}

func TestGetFileMissingPathIsProtocolError(t *testing.T) {
	s, _, _ := newToolServer(t)

	msg := protocolError(t, callTool(t, s, "getFile", map[string]interface{}{}))
	assert.Contains(t, msg, "path")
}

func TestDebugToolCompilesAndRuns(t *testing.T) {
	s, runner, _ := newToolServer(t)

	text, isError := toolText(t, callTool(t, s, "debug", map[string]interface{}{
		"steps": []map[string]interface{}{
			{"type": "setBreakpoint", "file": "main.py", "line": 2},
		},
	}))
	require.False(t, isError)
	assert.Equal(t, "Breakpoint set at main.py:2", text)

	require.Len(t, runner.plans, 1)
	plan := runner.plans[0]
	require.Len(t, plan, 1)
	assert.Equal(t, debug.StepSetBreakpoint, plan[0].Type)
	assert.Equal(t, "main.py", plan[0].File)
	assert.Equal(t, 2, plan[0].Line)
}

func TestDebugToolJoinsResults(t *testing.T) {
	s, runner, _ := newToolServer(t)
	runner.results = []string{
		"Breakpoint set at main.py:2",
		"Stopped at breakpoint on line 2",
		`Evaluated "x": 1`,
	}

	text, isError := toolText(t, callTool(t, s, "debug", map[string]interface{}{
		"steps": []map[string]interface{}{
			{"type": "setBreakpoint", "file": "main.py", "line": 2},
			{"type": "launch", "file": "main.py"},
			{"type": "evaluate", "file": "main.py", "expression": "x"},
		},
	}))
	require.False(t, isError)
	assert.Equal(t, "Breakpoint set at main.py:2\nStopped at breakpoint on line 2\nEvaluated \"x\": 1", text)
}

func TestDebugToolValidationIsProtocolError(t *testing.T) {
	s, runner, _ := newToolServer(t)

	msg := protocolError(t, callTool(t, s, "debug", map[string]interface{}{
		"steps": []map[string]interface{}{
			{"type": "setBreakpoint", "file": "main.py"},
		},
	}))
	assert.Contains(t, msg, "step 1")
	assert.Equal(t, 0, runner.planCount(), "invalid plans must never reach the runner")
}

func TestDebugToolMissingStepsIsProtocolError(t *testing.T) {
	s, runner, _ := newToolServer(t)

	msg := protocolError(t, callTool(t, s, "debug", map[string]interface{}{}))
	assert.Contains(t, msg, "steps")
	assert.Equal(t, 0, runner.planCount())
}

func TestDebugToolRuntimeFailureIsToolError(t *testing.T) {
	s, runner, _ := newToolServer(t)
	runner.err = errors.New("step 2 (continue): no active debug session")

	text, isError := toolText(t, callTool(t, s, "debug", map[string]interface{}{
		"steps": []map[string]interface{}{
			{"type": "setBreakpoint", "file": "main.py", "line": 2},
			{"type": "continue", "file": "main.py"},
		},
	}))
	assert.True(t, isError, "runtime failures surface as tool errors, not protocol errors")
	assert.Equal(t, "step 2 (continue): no active debug session", text)
}
