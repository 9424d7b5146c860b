// debug-mcp bridges MCP clients to interactive debugging: it exposes the
// workspace and a debug-adapter backend as MCP tools over an SSE or stdio
// transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jasonjmcghee/claude-debugs-for-you/config"
	"github.com/jasonjmcghee/claude-debugs-for-you/debug"
	"github.com/jasonjmcghee/claude-debugs-for-you/debug/dap"
	"github.com/jasonjmcghee/claude-debugs-for-you/launchcfg"
	"github.com/jasonjmcghee/claude-debugs-for-you/sse"
	"github.com/jasonjmcghee/claude-debugs-for-you/tools"
	"github.com/jasonjmcghee/claude-debugs-for-you/workspace"
)

// version can be overridden at build time with -ldflags.
var version = "dev"

const instructions = `Use listFiles and getFile to inspect the workspace, then drive the
debugger with the debug tool. Set breakpoints before launching; launch
stops at the first breakpoint hit, after which you can evaluate
expressions in the paused frame or continue. Line numbers are 1-based
and match getFile output.`

var (
	flagPort       int
	flagTransport  string
	flagVerbose    bool
	flagConfig     string
	flagLogFile    string
	flagWorkspaces []string
)

var rootCmd = &cobra.Command{
	Use:   "debug-mcp",
	Short: "MCP server that lets language model agents debug programs interactively",
	Long: `debug-mcp exposes interactive debugging to MCP clients.

It serves three tools: listFiles and getFile for inspecting the
workspace, and debug for running an ordered plan of debugging steps
(set or remove breakpoints, launch, continue, evaluate). Programs are
launched through Debug Adapter Protocol adapters selected by the "type"
of the workspace's launch.json configuration.

By default the server speaks SSE on port 4711; clients open GET /sse
and post JSON-RPC messages to the announced endpoint. The stdio
transport serves a single client over stdin/stdout instead, with logs
redirected to a file.

SIGHUP restarts the listener; SIGINT and SIGTERM stop the server.`,
	RunE: runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.Flags().IntVar(&flagPort, "port", 4711, "Listen port for the sse transport")
	rootCmd.Flags().StringVar(&flagTransport, "transport", "sse", "Transport to serve on: sse or stdio")
	rootCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging and startup diagnostics")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "Path to a config file (default: debug-mcp.yaml in . or ~/.debug-mcp)")
	rootCmd.Flags().StringVar(&flagLogFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.Flags().StringSliceVar(&flagWorkspaces, "workspace", nil, "Workspace root, repeatable (default: current directory)")

	rootCmd.AddCommand(newStatusCmd(), newURLCmd(), newClientCmd())
}

// loadConfig resolves the effective configuration: file and environment
// first, then explicit flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFromFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport = flagTransport
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = flagVerbose
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = flagLogFile
	}
	if cmd.Flags().Changed("workspace") {
		cfg.Workspaces = flagWorkspaces
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, flush, err := buildLogger(cfg.Verbose, cfg.LogFile, cfg.Transport == "stdio")
	if err != nil {
		return err
	}
	defer flush()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	files, err := workspace.New(cfg.Workspaces, log)
	if err != nil {
		return err
	}
	primaryRoot := files.Roots()[0]

	adapters := dap.NewAdapterSet(cfg.Adapters, log)
	backend := dap.NewBackend(adapters, log)
	launches := launchcfg.NewFile(primaryRoot, log)
	orch := debug.NewOrchestrator(backend, launches, primaryRoot, nil, log)

	s := server.NewMCPServer(
		"Debug MCP Server",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	tools.Register(s, files, orch, log)

	if cfg.Verbose {
		log.Infow("starting",
			"version", version,
			"transport", cfg.Transport,
			"addr", cfg.Addr(),
			"workspaces", files.Roots(),
			"adapters", adapters.Types(),
		)
	}

	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		backend.Shutdown(shutdownCtx)
	}()

	if cfg.Transport == "stdio" {
		return runStdio(ctx, s, log)
	}
	return runSSE(ctx, s, cfg.Addr(), log)
}

func runStdio(ctx context.Context, s *server.MCPServer, log *zap.SugaredLogger) error {
	log.Infow("serving on stdio")
	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}

// runSSE serves HTTP, restarting the listener on SIGHUP, until the parent
// context is cancelled or the listener fails.
func runSSE(ctx context.Context, s *server.MCPServer, addr string, log *zap.SugaredLogger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	srv := sse.NewServer(s, log)
	for {
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-hup:
				log.Infow("received SIGHUP, restarting listener")
				cancel()
			case <-runCtx.Done():
			}
		}()

		err := srv.Start(runCtx, addr)
		cancel()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
