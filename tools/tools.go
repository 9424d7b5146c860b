// Package tools registers the workspace and debugging tools on a shared
// MCP server. Three tools are exposed: listFiles, getFile, and debug.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jasonjmcghee/claude-debugs-for-you/debug"
	"github.com/jasonjmcghee/claude-debugs-for-you/workspace"
)

// PlanRunner executes a compiled debugging plan and returns one result
// string per completed step.
type PlanRunner interface {
	ExecutePlan(ctx context.Context, plan debug.Plan) ([]string, error)
}

// Register wires all tools onto s.
func Register(s *server.MCPServer, files *workspace.Accessor, runner PlanRunner, log *zap.SugaredLogger) {
	registerListFilesTool(s, files, log)
	registerGetFileTool(s, files, log)
	registerDebugTool(s, runner, log)
}

// registerListFilesTool registers the listFiles tool
func registerListFilesTool(s *server.MCPServer, files *workspace.Accessor, log *zap.SugaredLogger) {
	tool := mcp.NewTool("listFiles",
		mcp.WithDescription("List files across the workspace as absolute paths"),
		mcp.WithArray("includePatterns",
			mcp.Description("Glob patterns to include, e.g. **/*.go. Defaults to every file"),
			mcp.Items(map[string]interface{}{"type": "string"}),
		),
		mcp.WithArray("excludePatterns",
			mcp.Description("Glob patterns to exclude. Defaults to version control and dependency directories"),
			mcp.Items(map[string]interface{}{"type": "string"}),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		include := request.GetStringSlice("includePatterns", nil)
		exclude := request.GetStringSlice("excludePatterns", nil)

		paths, err := files.ListFiles(ctx, include, exclude)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list files: %v", err)), nil
		}
		if paths == nil {
			paths = []string{}
		}

		log.Debugw("listFiles", "count", len(paths))

		data, err := json.Marshal(paths)
		if err != nil {
			return nil, fmt.Errorf("marshal file list: %w", err)
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

// registerGetFileTool registers the getFile tool
func registerGetFileTool(s *server.MCPServer, files *workspace.Accessor, log *zap.SugaredLogger) {
	tool := mcp.NewTool("getFile",
		mcp.WithDescription("Read a file with every line prefixed by its 1-based line number. Breakpoint lines in debug steps refer to this numbering"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path of the file to read"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := request.RequireString("path")
		if err != nil {
			return nil, err
		}

		log.Debugw("getFile", "path", path)

		content, err := files.GetFile(path)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read file: %v", err)), nil
		}
		return mcp.NewToolResultText(content), nil
	})
}

// registerDebugTool registers the debug tool
func registerDebugTool(s *server.MCPServer, runner PlanRunner, log *zap.SugaredLogger) {
	tool := mcp.NewTool("debug",
		mcp.WithDescription("Run an ordered list of debugging steps: set or remove breakpoints, launch the program under the debugger, continue execution, and evaluate expressions while paused"),
		mcp.WithArray("steps",
			mcp.Required(),
			mcp.Description("Steps to run in order. Use getFile first so breakpoint lines match its numbering"),
			mcp.Items(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"type": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"setBreakpoint", "removeBreakpoint", "continue", "evaluate", "launch"},
						"description": "Step kind",
					},
					"file": map[string]interface{}{
						"type":        "string",
						"description": "File the step applies to",
					},
					"line": map[string]interface{}{
						"type":        "number",
						"description": "1-based line number, required for breakpoint steps",
					},
					"expression": map[string]interface{}{
						"type":        "string",
						"description": "Expression to evaluate in the paused top frame",
					},
					"condition": map[string]interface{}{
						"type":        "string",
						"description": "Optional breakpoint condition",
					},
				},
				"required": []string{"type", "file"},
			}),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Steps []debug.StepSpec `json:"steps"`
		}
		if err := request.BindArguments(&args); err != nil {
			return nil, fmt.Errorf("invalid steps argument: %w", err)
		}
		if args.Steps == nil {
			return nil, errors.New("missing required argument: steps")
		}

		plan, err := debug.CompileSteps(args.Steps)
		if err != nil {
			return nil, err
		}

		log.Infow("running debug plan", "steps", len(plan))

		results, err := runner.ExecutePlan(ctx, plan)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(strings.Join(results, "\n")), nil
	})
}
