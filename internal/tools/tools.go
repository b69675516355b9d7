// Package tools holds shared helpers for the built-in tool handlers:
// argument decoding from validated JSON maps and error-envelope result
// construction.
package tools

import (
	"errors"
	"io/fs"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/workspace"
)

// StringArg reads a string argument, returning def when absent.
func StringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

// IntArg reads an integer argument. JSON numbers decode as float64.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// BoolArg reads a boolean argument.
func BoolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// StringSliceArg reads an array-of-strings argument, skipping non-string
// elements.
func StringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, el := range raw {
		if s, ok := el.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Ok builds a successful result.
func Ok(output string) *agent.ToolResult {
	return &agent.ToolResult{Output: output, Success: true}
}

// Fail builds a failed result carrying the error envelope.
func Fail(code, blockedBy, message string, ctx map[string]any) *agent.ToolResult {
	return &agent.ToolResult{
		Output:  agent.Envelope(code, blockedBy, message, ctx),
		Error:   message,
		Success: false,
	}
}

// FailErr maps a workspace or generic error onto the envelope taxonomy.
func FailErr(err error, ctx map[string]any) *agent.ToolResult {
	var pe *workspace.PathError
	if errors.As(err, &pe) {
		return Fail(pe.Code, string(pe.BlockedBy), err.Error(), ctx)
	}
	switch {
	case errors.Is(err, workspace.ErrResourceLimit):
		return Fail(workspace.CodeResourceLimit, agent.BlockedByRuntime, err.Error(), ctx)
	case errors.Is(err, workspace.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return Fail(workspace.CodeNotFound, agent.BlockedByMissing, err.Error(), ctx)
	case errors.Is(err, fs.ErrPermission):
		return Fail("PERMISSION_DENIED", agent.BlockedByPermission, err.Error(), ctx)
	default:
		return Fail(agent.CodeHandlerError, agent.BlockedByRuntime, err.Error(), ctx)
	}
}
