package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	project := t.TempDir()
	ws, err := New(Config{Root: filepath.Join(project, "workspace")})
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}
	return ws
}

func TestNewCreatesStandardDirs(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, dir := range []string{"repos", "runs", "notes", "patches", "data", "queue", "chunks"} {
		info, err := os.Stat(filepath.Join(ws.Root(), dir))
		if err != nil {
			t.Fatalf("missing standard dir %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", dir)
		}
	}
}

func TestResolveWriteRejectsTraversal(t *testing.T) {
	ws := newTestWorkspace(t)

	cases := []string{
		"../escape.txt",
		"../../etc/passwd",
		"notes/../../outside.txt",
	}
	for _, path := range cases {
		_, err := ws.ResolveWrite(path)
		if !errors.Is(err, ErrOutsideWorkspace) {
			t.Fatalf("ResolveWrite(%q): expected outside-workspace error, got %v", path, err)
		}
		var pe *PathError
		if !errors.As(err, &pe) {
			t.Fatalf("ResolveWrite(%q): expected PathError, got %T", path, err)
		}
		if pe.Code != CodeOutsideWorkspace {
			t.Fatalf("ResolveWrite(%q): code = %s", path, pe.Code)
		}
		if pe.BlockedBy != BlockedByWorkspace {
			t.Fatalf("ResolveWrite(%q): blocked_by = %s", path, pe.BlockedBy)
		}
	}
}

func TestResolveWriteRejectsAbsoluteOutside(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.ResolveWrite("/etc/shadow")
	if !errors.Is(err, ErrOutsideWorkspace) {
		t.Fatalf("expected outside-workspace error, got %v", err)
	}
}

func TestResolveWriteAcceptsAbsoluteInside(t *testing.T) {
	ws := newTestWorkspace(t)
	target := filepath.Join(ws.Root(), "notes", "plan.md")
	resolved, err := ws.ResolveWrite(target)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != target {
		t.Fatalf("resolved = %s, want %s", resolved, target)
	}
}

func TestResolveWriteStripsWorkspacePrefix(t *testing.T) {
	ws := newTestWorkspace(t)
	resolved, err := ws.ResolveWrite("workspace/notes/a.md")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := filepath.Join(ws.Root(), "notes", "a.md")
	if resolved != want {
		t.Fatalf("resolved = %s, want %s", resolved, want)
	}

	// Only one prefix is stripped; a real nested workspace/ dir stays reachable.
	resolved, err = ws.ResolveWrite("workspace/workspace/inner.txt")
	if err != nil {
		t.Fatalf("resolve nested: %v", err)
	}
	want = filepath.Join(ws.Root(), "workspace", "inner.txt")
	if resolved != want {
		t.Fatalf("nested resolved = %s, want %s", resolved, want)
	}
}

func TestResolveWriteBlocksSensitiveFiles(t *testing.T) {
	ws := newTestWorkspace(t)

	cases := []string{
		".env",
		".env.production",
		"secrets/server.pem",
		"keys/deploy.key",
	}
	for _, path := range cases {
		_, err := ws.ResolveWrite(path)
		if !errors.Is(err, ErrBlockedFile) {
			t.Fatalf("ResolveWrite(%q): expected blocked-file error, got %v", path, err)
		}
		var pe *PathError
		if !errors.As(err, &pe) || pe.Code != CodeBlockedFile {
			t.Fatalf("ResolveWrite(%q): expected BLOCKED_FILE code, got %v", path, err)
		}
	}
}

func TestResolveReadBlocksSensitiveFiles(t *testing.T) {
	ws := newTestWorkspace(t)

	// The file existing inside the root must not bypass the deny-list.
	if err := os.WriteFile(filepath.Join(ws.Root(), ".env"), []byte("SECRET=1"), 0o644); err != nil {
		t.Fatalf("seed .env: %v", err)
	}
	for _, path := range []string{".env", "secrets/server.pem"} {
		_, err := ws.ResolveRead(path)
		if !errors.Is(err, ErrBlockedFile) {
			t.Fatalf("ResolveRead(%q): expected blocked-file error, got %v", path, err)
		}
		var pe *PathError
		if !errors.As(err, &pe) || pe.Code != CodeBlockedFile {
			t.Fatalf("ResolveRead(%q): expected BLOCKED_FILE code, got %v", path, err)
		}
	}
}

func TestResolveWriteCreatesParents(t *testing.T) {
	ws := newTestWorkspace(t)
	resolved, err := ws.ResolveWrite("deep/nested/dir/file.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(resolved)); err != nil {
		t.Fatalf("parent not created: %v", err)
	}
}

func TestResolveReadRequiresExistence(t *testing.T) {
	ws := newTestWorkspace(t)

	_, err := ws.ResolveRead("missing.txt")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	var pe *PathError
	if !errors.As(err, &pe) || pe.BlockedBy != BlockedByMissing {
		t.Fatalf("expected missing taxonomy, got %v", err)
	}

	path := filepath.Join(ws.Root(), "notes", "a.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	resolved, err := ws.ResolveRead("notes/a.txt")
	if err != nil {
		t.Fatalf("resolve existing: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved = %s, want %s", resolved, path)
	}
}

func TestResolveProjectRead(t *testing.T) {
	project := t.TempDir()
	ws, err := New(Config{Root: filepath.Join(project, "workspace")})
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}

	srcPath := filepath.Join(project, "src", "main.go")
	if err := os.MkdirAll(filepath.Dir(srcPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(srcPath, []byte("package main"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resolved, err := ws.ResolveProjectRead("src/main.go")
	if err != nil {
		t.Fatalf("project read: %v", err)
	}
	if resolved != srcPath {
		t.Fatalf("resolved = %s, want %s", resolved, srcPath)
	}

	// Outside the project root.
	if _, err := ws.ResolveProjectRead("../elsewhere.txt"); !errors.Is(err, ErrOutsideWorkspace) {
		t.Fatalf("expected outside error, got %v", err)
	}
}

func TestResolveProjectReadDeniesSensitive(t *testing.T) {
	project := t.TempDir()
	ws, err := New(Config{Root: filepath.Join(project, "workspace")})
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}

	cases := map[string]string{
		".env":                       "SECRET=1",
		"config/credentials.json":    "{}",
		"certs/tls.pem":              "---",
		".git/config":                "[core]",
		"node_modules/pkg/index.js":  "x",
		"creds/aws_secret_key.token": "x",
	}
	for rel, content := range cases {
		full := filepath.Join(project, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
		if _, err := ws.ResolveProjectRead(rel); !errors.Is(err, ErrBlockedFile) {
			t.Fatalf("ResolveProjectRead(%q): expected blocked, got %v", rel, err)
		}
	}
}

func TestContains(t *testing.T) {
	ws := newTestWorkspace(t)
	if !ws.Contains(filepath.Join(ws.Root(), "notes", "a.txt")) {
		t.Fatal("expected path inside root to be contained")
	}
	if ws.Contains(filepath.Dir(ws.Root())) {
		t.Fatal("parent of root must not be contained")
	}
}
