// Package preflight validates proposed tool calls before execution. It
// classifies each proposal into a coarse intent, tracks failures per exact
// call fingerprint and per intent, gates paths that previously failed with
// not-found, suggests safe path rewrites, and escalates a recovery ladder
// that ends in forced planner mode. Preflight never mutates a proposal; the
// executor applies any rewrite it attaches.
package preflight

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Intent is the coarse category of what a proposed tool call is trying to
// do. It is the identity used by the per-intent circuit breaker, so three
// differently-argued attempts at the same thing still exhaust together.
type Intent string

const (
	IntentInspectFile      Intent = "inspect_file"
	IntentExploreDirectory Intent = "explore_directory"
	IntentFindData         Intent = "find_data"
	IntentWriteCode        Intent = "write_code"
	IntentWriteDocument    Intent = "write_document"
	IntentCreateStructure  Intent = "create_structure"
	IntentRunTests         Intent = "run_tests"
	IntentSearchCode       Intent = "search_code"
	IntentNetworkFetch     Intent = "network_fetch"
	IntentOtherAction      Intent = "other_action"
)

// Call is a proposed tool call as preflight sees it: the stable id the
// model assigned, the tool name, and the parsed argument mapping.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Path returns the first path-like argument, or "".
func (c Call) Path() string {
	for _, key := range []string{"path", "file_path", "file", "dir", "directory", "target"} {
		if v, ok := c.Args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Extensions treated as code when classifying writes.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".rs": true, ".java": true, ".c": true, ".h": true,
	".cpp": true, ".rb": true, ".sh": true, ".sql": true,
}

// Classify maps a proposal to its intent. The mapping is rule-based and
// deterministic over (tool name, canonical argument shape); unrecognized
// cases fall to other_action.
func Classify(c Call) Intent {
	name := strings.ToLower(c.Name)

	switch {
	case name == "read_file" || name == "read_project_file" || strings.HasPrefix(name, "view_"):
		return IntentInspectFile
	case name == "list_dir" || name == "list_directory":
		return IntentExploreDirectory
	case name == "search_code" || name == "semantic_search" || strings.HasPrefix(name, "grep"):
		return IntentSearchCode
	case strings.HasPrefix(name, "find_") || strings.HasPrefix(name, "glob"):
		return IntentFindData
	case name == "create_dirs" || name == "create_directory" || name == "mkdir":
		return IntentCreateStructure
	case name == "http_fetch" || strings.HasPrefix(name, "fetch_") || strings.HasPrefix(name, "download"):
		return IntentNetworkFetch
	case name == "write_file" || name == "edit_file" || name == "propose_patch":
		return classifyWrite(c)
	case name == "run_command" || name == "run_shell":
		return classifyCommand(c)
	}
	return IntentOtherAction
}

func classifyWrite(c Call) Intent {
	path := c.Path()
	if path == "" {
		if files, ok := c.Args["target_files"].([]any); ok && len(files) > 0 {
			if s, ok := files[0].(string); ok {
				path = s
			}
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if codeExtensions[ext] {
		return IntentWriteCode
	}
	switch ext {
	case ".md", ".rst", ".txt", ".adoc":
		return IntentWriteDocument
	}
	if path == "" {
		return IntentWriteDocument
	}
	return IntentWriteCode
}

func classifyCommand(c Call) Intent {
	cmd, _ := c.Args["command"].(string)
	lower := strings.ToLower(cmd)
	for _, marker := range []string{"go test", "pytest", "npm test", "cargo test", "make test", "unittest"} {
		if strings.Contains(lower, marker) {
			return IntentRunTests
		}
	}
	return IntentOtherAction
}

// String implements fmt.Stringer for log and reason formatting.
func (i Intent) String() string {
	return string(i)
}

func intentReason(i Intent, weight, threshold int) string {
	return fmt.Sprintf("INTENT EXHAUSTED: %s has accumulated failure weight %d (threshold %d); stop retrying variations of this action", i, weight, threshold)
}
