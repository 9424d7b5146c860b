package dap

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// AdapterCommand describes how to start a debug adapter that serves DAP on a
// TCP address. {addr} and {port} in Args are filled in at start time.
type AdapterCommand struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// DefaultAdapters maps launch configuration types to the adapters the server
// knows out of the box. Runtime configuration can add to or override these.
func DefaultAdapters() map[string]AdapterCommand {
	return map[string]AdapterCommand{
		"go": {
			Command: "dlv",
			Args:    []string{"dap", "--listen", "{addr}"},
		},
		"python": {
			Command: "python3",
			Args:    []string{"-m", "debugpy.adapter", "--host", "127.0.0.1", "--port", "{port}"},
		},
	}
}

// AdapterSet resolves launch configuration types to adapter commands and
// starts adapter processes.
type AdapterSet struct {
	commands map[string]AdapterCommand
	log      *zap.SugaredLogger
}

// NewAdapterSet builds a set from the defaults with overrides applied on
// top. Overrides may add new types or replace default commands.
func NewAdapterSet(overrides map[string]AdapterCommand, log *zap.SugaredLogger) *AdapterSet {
	commands := DefaultAdapters()
	for name, cmd := range overrides {
		commands[name] = cmd
	}
	return &AdapterSet{commands: commands, log: log}
}

// Types lists the configured launch configuration types.
func (s *AdapterSet) Types() []string {
	types := make([]string, 0, len(s.commands))
	for name := range s.commands {
		types = append(types, name)
	}
	return types
}

// Start launches the adapter for the given type on a free loopback port and
// returns the running process together with the address it serves on.
func (s *AdapterSet) Start(debugType string) (*adapterProc, string, error) {
	spec, ok := s.commands[debugType]
	if !ok {
		return nil, "", fmt.Errorf("no debug adapter configured for type %q", debugType)
	}

	port, err := freePort()
	if err != nil {
		return nil, "", fmt.Errorf("pick adapter port: %w", err)
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	expand := strings.NewReplacer("{addr}", addr, "{port}", strconv.Itoa(port))
	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = expand.Replace(a)
	}

	// The adapter must outlive the request that launched it, so no
	// CommandContext here; adapterProc.Kill is the backstop.
	cmd := exec.Command(spec.Command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, "", fmt.Errorf("adapter stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, "", fmt.Errorf("adapter stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start debug adapter %q: %w", spec.Command, err)
	}
	s.log.Infow("debug adapter started", "type", debugType, "command", spec.Command, "addr", addr, "pid", cmd.Process.Pid)

	proc := &adapterProc{cmd: cmd, log: s.log}
	go proc.logOutput("stdout", stdout)
	go proc.logOutput("stderr", stderr)
	go proc.wait()
	return proc, addr, nil
}

// adapterProc is a running debug adapter process.
type adapterProc struct {
	cmd      *exec.Cmd
	log      *zap.SugaredLogger
	killOnce sync.Once
}

// Kill force-stops the adapter. Safe to call more than once and after the
// process has already exited.
func (p *adapterProc) Kill() {
	p.killOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	})
}

func (p *adapterProc) wait() {
	err := p.cmd.Wait()
	if err != nil {
		p.log.Debugw("debug adapter exited", "pid", p.cmd.Process.Pid, "error", err)
		return
	}
	p.log.Debugw("debug adapter exited", "pid", p.cmd.Process.Pid)
}

// logOutput forwards adapter output to the log. Adapters chat on startup;
// none of it may reach our stdout, which carries the MCP stdio transport.
func (p *adapterProc) logOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.log.Debugw("adapter output", "stream", stream, "line", scanner.Text())
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
