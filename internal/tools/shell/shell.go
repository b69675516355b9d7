// Package shell provides the run_command tool: subprocess execution
// rooted at the workspace with a wall-clock timeout.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/tools"
	"github.com/haasonsaas/anvil/internal/workspace"
)

// Defaults for command execution.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxOutput = 100_000
)

// Config wires the shell tool.
type Config struct {
	Workspace *workspace.Workspace

	// Timeout bounds one command. The executor's per-call timeout still
	// applies on top.
	Timeout time.Duration

	// MaxOutput caps captured stdout+stderr bytes.
	MaxOutput int

	// AllowedPrefixes restricts commands to these leading tokens when
	// non-empty (for example "go test", "git status").
	AllowedPrefixes []string
}

// RunCommand executes a shell command inside the workspace.
type RunCommand struct {
	ws        *workspace.Workspace
	timeout   time.Duration
	maxOutput int
	prefixes  []string
}

// NewRunCommand creates the run_command tool.
func NewRunCommand(cfg Config) *RunCommand {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &RunCommand{
		ws:        cfg.Workspace,
		timeout:   timeout,
		maxOutput: maxOutput,
		prefixes:  cfg.AllowedPrefixes,
	}
}

func (t *RunCommand) Name() string { return "run_command" }

func (t *RunCommand) Description() string {
	return "Run a shell command with the workspace as working directory. Returns stdout, stderr, and the exit code."
}

func (t *RunCommand) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command line to execute.",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory relative to the workspace root.",
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *RunCommand) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	command := tools.StringArg(args, "command", "")
	if !t.allowed(command) {
		return tools.Fail(agent.CodeRuleBlocked, agent.BlockedByRules,
			"command does not match any allowed prefix",
			map[string]any{"command": command}), nil
	}

	dir := t.ws.Root()
	if cwd := tools.StringArg(args, "cwd", ""); cwd != "" {
		resolved, err := t.ws.ResolveRead(cwd)
		if err != nil {
			return tools.FailErr(err, map[string]any{"cwd": cwd}), nil
		}
		dir = resolved
	}

	cmdCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return tools.Fail(agent.CodeTimedOut, agent.BlockedByRuntime,
			fmt.Sprintf("command timed out after %v", t.timeout),
			map[string]any{"command": command}), nil
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return tools.Fail(agent.CodeHandlerError, agent.BlockedByRuntime,
				err.Error(), map[string]any{"command": command}), nil
		}
	}

	out := t.render(stdout.String(), stderr.String(), exitCode)
	if exitCode != 0 {
		return &agent.ToolResult{
			Output:  out,
			Error:   fmt.Sprintf("command exited with code %d", exitCode),
			Success: false,
		}, nil
	}
	return tools.Ok(out), nil
}

func (t *RunCommand) allowed(command string) bool {
	if len(t.prefixes) == 0 {
		return true
	}
	trimmed := strings.TrimSpace(command)
	for _, p := range t.prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func (t *RunCommand) render(stdout, stderr string, exitCode int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", exitCode)
	if stdout != "" {
		b.WriteString("stdout:\n" + clip(stdout, t.maxOutput) + "\n")
	}
	if stderr != "" {
		b.WriteString("stderr:\n" + clip(stderr, t.maxOutput) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n[truncated at %d bytes]", limit)
}
