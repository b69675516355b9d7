// Package workspace confines every agent write to a single directory tree and
// grants read-only visibility into the surrounding project. All tool file
// access goes through a Workspace so path traversal, symlink escapes, and
// writes to sensitive files are rejected in one place.
package workspace

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Standard directories created under the workspace root.
var standardDirs = []string{
	"repos",
	"runs",
	"notes",
	"patches",
	"data",
	"queue",
	"chunks",
}

// Default deny-list for writes. Matched against the base name of the target.
var defaultDenyWrite = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
}

// Directories under the project root that project reads never enter.
var defaultDeniedProjectDirs = []string{
	".git",
	"node_modules",
	".venv",
	"venv",
	"__pycache__",
}

// Config controls workspace creation.
type Config struct {
	// Root is the workspace directory. Created if absent.
	Root string

	// ProjectRoot is the read-only project tree. Defaults to the parent of Root.
	ProjectRoot string

	// DenyWrite are glob patterns (matched against base names) that writes
	// may never touch. Defaults cover env files and key material.
	DenyWrite []string

	// DeniedProjectDirs are directory names project reads skip.
	DeniedProjectDirs []string
}

// Workspace is the isolation boundary for agent file operations.
type Workspace struct {
	root        string
	projectRoot string
	denyWrite   []string
	deniedDirs  map[string]bool
}

// New creates the workspace root and its standard directories and returns
// the resolver. The root is created with 0755 if it does not exist.
func New(cfg Config) (*Workspace, error) {
	if cfg.Root == "" {
		return nil, newPathError("new", "", ErrNotFound)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	for _, dir := range standardDirs {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}

	projectRoot := cfg.ProjectRoot
	if projectRoot == "" {
		projectRoot = filepath.Dir(root)
	}
	projectRoot, err = filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	deny := cfg.DenyWrite
	if len(deny) == 0 {
		deny = defaultDenyWrite
	}
	deniedDirs := cfg.DeniedProjectDirs
	if len(deniedDirs) == 0 {
		deniedDirs = defaultDeniedProjectDirs
	}
	dirSet := make(map[string]bool, len(deniedDirs))
	for _, d := range deniedDirs {
		dirSet[d] = true
	}

	return &Workspace{
		root:        root,
		projectRoot: projectRoot,
		denyWrite:   deny,
		deniedDirs:  dirSet,
	}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// ProjectRoot returns the absolute read-only project root.
func (w *Workspace) ProjectRoot() string {
	return w.projectRoot
}

// ResolveWrite resolves a caller-supplied path for writing. The path is
// interpreted relative to the workspace root; a single leading "workspace/"
// segment is stripped so model output like "workspace/notes/a.md" lands in
// the right place. Absolute paths are accepted only when already inside the
// root. Parent directories of the result are created.
func (w *Workspace) ResolveWrite(path string) (string, error) {
	resolved, err := w.resolveInRoot("resolve_write", path)
	if err != nil {
		return "", err
	}
	if w.isDeniedWrite(resolved) {
		return "", newPathError("resolve_write", path, ErrBlockedFile)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", err
	}
	return resolved, nil
}

// ResolveRead resolves a caller-supplied path for reading inside the
// workspace. The deny-list applies the same as for writes, and the target
// must exist.
func (w *Workspace) ResolveRead(path string) (string, error) {
	resolved, err := w.resolveInRoot("resolve_read", path)
	if err != nil {
		return "", err
	}
	if w.isDeniedWrite(resolved) {
		return "", newPathError("resolve_read", path, ErrBlockedFile)
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", newPathError("resolve_read", path, ErrNotFound)
	}
	return resolved, nil
}

// ResolveProjectRead resolves a path for read-only access anywhere under the
// project root. Denied directories and sensitive files are rejected, and the
// target must exist. Relative paths are interpreted against the project root.
func (w *Workspace) ResolveProjectRead(path string) (string, error) {
	const op = "resolve_project_read"
	p := filepath.FromSlash(path)
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.projectRoot, p)
	}
	resolved := filepath.Clean(p)
	if !hasPathPrefix(resolved, w.projectRoot) {
		return "", newPathError(op, path, ErrOutsideWorkspace)
	}
	rel, err := filepath.Rel(w.projectRoot, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", newPathError(op, path, ErrOutsideWorkspace)
	}
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if w.deniedDirs[seg] {
			return "", newPathError(op, path, ErrBlockedFile)
		}
	}
	if isSensitiveFile(resolved) {
		return "", newPathError(op, path, ErrBlockedFile)
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", newPathError(op, path, ErrNotFound)
	}
	return resolved, nil
}

// Contains reports whether an absolute path lies inside the workspace root.
func (w *Workspace) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return hasPathPrefix(abs, w.root)
}

// resolveInRoot normalizes a path and verifies it stays under the root.
func (w *Workspace) resolveInRoot(op, path string) (string, error) {
	p := filepath.FromSlash(path)

	// Models frequently prefix paths with the workspace directory name.
	// Strip one leading "workspace/" so both spellings resolve identically.
	if !filepath.IsAbs(p) {
		sep := string(filepath.Separator)
		if p == "workspace" {
			p = "."
		} else if strings.HasPrefix(p, "workspace"+sep) {
			p = strings.TrimPrefix(p, "workspace"+sep)
		}
		p = filepath.Join(w.root, p)
	}
	resolved := filepath.Clean(p)

	if !hasPathPrefix(resolved, w.root) {
		return "", newPathError(op, path, ErrOutsideWorkspace)
	}
	rel, err := filepath.Rel(w.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", newPathError(op, path, ErrOutsideWorkspace)
	}
	return resolved, nil
}

// isDeniedWrite checks the write deny-list against the base name.
func (w *Workspace) isDeniedWrite(resolved string) bool {
	base := filepath.Base(resolved)
	for _, pattern := range w.denyWrite {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Sensitive file patterns for project reads. Matched against the lowercased
// base name.
var sensitivePatterns = []string{
	"*.pem",
	"*.key",
	"*secret*",
	"*credentials*",
}

func isSensitiveFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	for _, pattern := range sensitivePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// hasPathPrefix reports whether path is prefix itself or lies below it.
// Comparison is case-insensitive on Windows.
func hasPathPrefix(path, prefix string) bool {
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		prefix = strings.ToLower(prefix)
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}
