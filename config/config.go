// Package config loads runtime configuration from files, environment
// variables, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/jasonjmcghee/claude-debugs-for-you/debug/dap"
)

// Config holds the server configuration.
type Config struct {
	// Port the HTTP listener binds on localhost.
	Port int `mapstructure:"port"`

	// Transport selects how clients connect: "sse" or "stdio".
	Transport string `mapstructure:"transport"`

	// Verbose enables debug-level logging and startup diagnostics.
	Verbose bool `mapstructure:"verbose"`

	// LogFile redirects logs to a file. Empty means stderr for the sse
	// transport; stdio always logs to a file because stdout carries the
	// protocol.
	LogFile string `mapstructure:"log_file"`

	// Workspaces are the roots files and launch configurations are read
	// from.
	Workspaces []string `mapstructure:"workspaces"`

	// Adapters maps a launch configuration type to the debug adapter
	// command serving it, merged over the built-in defaults.
	Adapters map[string]dap.AdapterCommand `mapstructure:"adapters"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Port:       4711,
		Transport:  "sse",
		Verbose:    false,
		Workspaces: []string{"."},
	}
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

// Validate reports configuration values no server can start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Transport != "sse" && c.Transport != "stdio" {
		return fmt.Errorf("unknown transport %q (want sse or stdio)", c.Transport)
	}
	if len(c.Workspaces) == 0 {
		return fmt.Errorf("at least one workspace root required")
	}
	return nil
}

// Load loads configuration from debug-mcp.yaml and the environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("debug-mcp")
	v.SetConfigType("yaml")

	// Current directory first, then the user's config directory.
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".debug-mcp"))
	}

	// Environment variables
	v.SetEnvPrefix("DEBUG_MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("port", "DEBUG_MCP_PORT")
	v.BindEnv("transport", "DEBUG_MCP_TRANSPORT")
	v.BindEnv("verbose", "DEBUG_MCP_VERBOSE")
	v.BindEnv("log_file", "DEBUG_MCP_LOG_FILE")

	// Set defaults
	cfg := Default()
	v.SetDefault("port", cfg.Port)
	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("workspaces", cfg.Workspaces)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found; defaults and environment apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
