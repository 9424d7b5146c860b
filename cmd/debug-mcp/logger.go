package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// buildLogger constructs the process logger. The stdio transport keeps
// stdout clean for the protocol, so its logs always go to a file; the sse
// transport logs to stderr unless a file is configured.
func buildLogger(verbose bool, logFile string, stdio bool) (*zap.SugaredLogger, func(), error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	switch {
	case logFile != "":
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		cfg.OutputPaths = []string{logFile}
		cfg.ErrorOutputPaths = []string{logFile}
	case stdio:
		path, err := defaultLogFile()
		if err != nil {
			return nil, nil, err
		}
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	default:
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	flush := func() { _ = logger.Sync() }
	return logger.Sugar(), flush, nil
}

// defaultLogFile is where stdio-transport logs land.
func defaultLogFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".debug-mcp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	return filepath.Join(dir, "debug-mcp.log"), nil
}
