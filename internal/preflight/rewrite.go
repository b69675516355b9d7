package preflight

import "strings"

// RewriteSafety grades a suggested path rewrite.
type RewriteSafety string

const (
	// RewriteSafe rewrites are mechanical normalizations the executor
	// applies automatically.
	RewriteSafe RewriteSafety = "SAFE"

	// RewriteAdvisory rewrites are suggestions surfaced as warnings only.
	RewriteAdvisory RewriteSafety = "ADVISORY"
)

// PathRewrite is a normalized form of a proposal's path argument. Preflight
// attaches it to the result keyed by call id; it never mutates the
// proposal's arguments itself.
type PathRewrite struct {
	// CallID names the proposal the rewrite belongs to.
	CallID string

	// ArgKey is the argument holding the path.
	ArgKey string

	// Original and Rewritten are the before and after values.
	Original  string
	Rewritten string

	// Safety is SAFE for normalizations the executor applies.
	Safety RewriteSafety
}

// pathArgKeys are the argument names checked for rewritable paths.
var pathArgKeys = []string{"path", "file_path", "file", "dir", "directory", "target"}

// computeRewrite detects normalizable path forms: a doubled leading
// workspace/ segment and backslash separators. Returns nil when the path is
// already normal.
func computeRewrite(c Call) *PathRewrite {
	for _, key := range pathArgKeys {
		original, ok := c.Args[key].(string)
		if !ok || original == "" {
			continue
		}
		rewritten := strings.ReplaceAll(original, "\\", "/")
		for strings.HasPrefix(rewritten, "workspace/workspace/") {
			rewritten = strings.TrimPrefix(rewritten, "workspace/")
		}
		if rewritten == original {
			continue
		}
		return &PathRewrite{
			CallID:    c.ID,
			ArgKey:    key,
			Original:  original,
			Rewritten: rewritten,
			Safety:    RewriteSafe,
		}
	}
	return nil
}
