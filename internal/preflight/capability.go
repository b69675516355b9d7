package preflight

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Capability grades a (tool, file extension) pairing.
type Capability int

const (
	// CapSupported means the pairing works; no warning.
	CapSupported Capability = iota

	// CapUnsupported means the tool will likely mishandle the file; a
	// warning suggests the alternative.
	CapUnsupported

	// CapBlocked means the pairing never works; preflight still lets the
	// executor produce the error, but warns up front.
	CapBlocked
)

// capabilityRule is one row of the static matrix.
type capabilityRule struct {
	tool        string
	extensions  []string
	capability  Capability
	alternative string
	note        string
}

// capabilityMatrix is consulted for advisory warnings only; it never fails
// a proposal.
var capabilityMatrix = []capabilityRule{
	{
		tool:        "semantic_search",
		extensions:  []string{".png", ".jpg", ".gif", ".pdf", ".zip"},
		capability:  CapBlocked,
		alternative: "list_dir",
		note:        "binary files are not indexed",
	},
	{
		tool:        "read_file",
		extensions:  []string{".png", ".jpg", ".gif", ".zip", ".npz", ".db"},
		capability:  CapUnsupported,
		alternative: "list_dir",
		note:        "binary content will not render as text",
	},
	{
		tool:        "search_code",
		extensions:  []string{".png", ".jpg", ".zip"},
		capability:  CapBlocked,
		alternative: "list_dir",
		note:        "binary files are not indexed",
	},
}

// capabilityWarning returns an advisory warning for the call's (tool,
// extension) pairing, or "".
func capabilityWarning(c Call) string {
	path := c.Path()
	if path == "" {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ""
	}
	for _, rule := range capabilityMatrix {
		if rule.tool != strings.ToLower(c.Name) {
			continue
		}
		for _, e := range rule.extensions {
			if e != ext {
				continue
			}
			return fmt.Sprintf("%s on %s files: %s; consider %s instead",
				c.Name, ext, rule.note, rule.alternative)
		}
	}
	return ""
}
