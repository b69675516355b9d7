// Package files provides the workspace file tools: read_file, write_file,
// list_dir, create_dirs, and read_project_file. All paths are resolved
// through the workspace so isolation is enforced in one place.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/anvil/internal/agent"
	"github.com/haasonsaas/anvil/internal/tools"
	"github.com/haasonsaas/anvil/internal/workspace"
)

// DefaultMaxReadBytes caps read_file output.
const DefaultMaxReadBytes = 200_000

// Config wires the file tools.
type Config struct {
	Workspace *workspace.Workspace
	Guard     *workspace.ResourceGuard
	MaxRead   int
}

// ReadFile reads a workspace file.
type ReadFile struct {
	ws      *workspace.Workspace
	maxRead int
}

// NewReadFile creates the read_file tool.
func NewReadFile(cfg Config) *ReadFile {
	maxRead := cfg.MaxRead
	if maxRead <= 0 {
		maxRead = DefaultMaxReadBytes
	}
	return &ReadFile{ws: cfg.Workspace, maxRead: maxRead}
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read a file inside the workspace. Returns up to max_bytes of content."
}

func (t *ReadFile) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the workspace root.",
			},
			"max_bytes": map[string]any{
				"type":        "integer",
				"description": "Maximum bytes to return.",
				"minimum":     1,
			},
		},
		"required": []string{"path"},
	})
}

func (t *ReadFile) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	path := tools.StringArg(args, "path", "")
	resolved, err := t.ws.ResolveRead(path)
	if err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	limit := tools.IntArg(args, "max_bytes", t.maxRead)
	if limit > t.maxRead {
		limit = t.maxRead
	}
	truncated := false
	if len(data) > limit {
		data = data[:limit]
		truncated = true
	}
	out := string(data)
	if truncated {
		out += fmt.Sprintf("\n[truncated at %d bytes]", limit)
	}
	return tools.Ok(out), nil
}

// WriteFile writes a workspace file, checking resource limits first.
type WriteFile struct {
	ws    *workspace.Workspace
	guard *workspace.ResourceGuard
}

// NewWriteFile creates the write_file tool.
func NewWriteFile(cfg Config) *WriteFile {
	return &WriteFile{ws: cfg.Workspace, guard: cfg.Guard}
}

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Description() string {
	return "Write content to a file inside the workspace, creating parent directories as needed."
}

func (t *WriteFile) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the workspace root.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full file content to write.",
			},
		},
		"required": []string{"path", "content"},
	})
}

func (t *WriteFile) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	path := tools.StringArg(args, "path", "")
	content := tools.StringArg(args, "content", "")

	resolved, err := t.ws.ResolveWrite(path)
	if err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	if t.guard != nil {
		if err := t.guard.Check(); err != nil {
			return tools.FailErr(err, map[string]any{"path": path}), nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	return tools.Ok(fmt.Sprintf("Wrote %d bytes to %s", len(content), path)), nil
}

// ListDir lists a workspace directory.
type ListDir struct {
	ws *workspace.Workspace
}

// NewListDir creates the list_dir tool.
func NewListDir(cfg Config) *ListDir {
	return &ListDir{ws: cfg.Workspace}
}

func (t *ListDir) Name() string { return "list_dir" }

func (t *ListDir) Description() string {
	return "List the entries of a workspace directory. Directories are suffixed with '/'."
}

func (t *ListDir) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path relative to the workspace root. Defaults to the root.",
			},
		},
	})
}

func (t *ListDir) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	path := tools.StringArg(args, "path", ".")
	resolved, err := t.ws.ResolveRead(path)
	if err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return tools.Ok("(empty directory)"), nil
	}
	return tools.Ok(strings.Join(names, "\n")), nil
}

// CreateDirs creates a directory tree inside the workspace.
type CreateDirs struct {
	ws *workspace.Workspace
}

// NewCreateDirs creates the create_dirs tool.
func NewCreateDirs(cfg Config) *CreateDirs {
	return &CreateDirs{ws: cfg.Workspace}
}

func (t *CreateDirs) Name() string { return "create_dirs" }

func (t *CreateDirs) Description() string {
	return "Create a directory (and any missing parents) inside the workspace."
}

func (t *CreateDirs) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Directory path relative to the workspace root.",
			},
		},
		"required": []string{"path"},
	})
}

func (t *CreateDirs) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	path := tools.StringArg(args, "path", "")
	resolved, err := t.ws.ResolveWrite(path)
	if err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	return tools.Ok("Created " + path), nil
}

// ReadProjectFile reads from the read-only project tree outside the
// workspace.
type ReadProjectFile struct {
	ws      *workspace.Workspace
	maxRead int
}

// NewReadProjectFile creates the read_project_file tool.
func NewReadProjectFile(cfg Config) *ReadProjectFile {
	maxRead := cfg.MaxRead
	if maxRead <= 0 {
		maxRead = DefaultMaxReadBytes
	}
	return &ReadProjectFile{ws: cfg.Workspace, maxRead: maxRead}
}

func (t *ReadProjectFile) Name() string { return "read_project_file" }

func (t *ReadProjectFile) Description() string {
	return "Read a file from the project tree (read-only, outside the workspace)."
}

func (t *ReadProjectFile) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the project root.",
			},
		},
		"required": []string{"path"},
	})
}

func (t *ReadProjectFile) Execute(ctx context.Context, args map[string]any) (*agent.ToolResult, error) {
	path := tools.StringArg(args, "path", "")
	resolved, err := t.ws.ResolveProjectRead(path)
	if err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return tools.FailErr(err, map[string]any{"path": path}), nil
	}
	if len(data) > t.maxRead {
		data = data[:t.maxRead]
		return tools.Ok(string(data) + fmt.Sprintf("\n[truncated at %d bytes]", t.maxRead)), nil
	}
	return tools.Ok(string(data)), nil
}

func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
