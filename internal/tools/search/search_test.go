package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/anvil/internal/embeddings"
	"github.com/haasonsaas/anvil/internal/index"
)

func newIndex(t *testing.T) *index.Index {
	t.Helper()
	root := t.TempDir()
	source := filepath.Join(root, "repos")
	if err := os.MkdirAll(source, 0o755); err != nil {
		t.Fatal(err)
	}
	src := "def handle_request(req):\n    return req.body\n"
	if err := os.WriteFile(filepath.Join(source, "a.py"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := index.Open(index.Config{
		Dir:        filepath.Join(root, "codeindex"),
		SourceRoot: root,
	}, embeddings.NewLocal(0), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := idx.IngestPath(context.Background(), source); err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestSearchCodeFindsChunk(t *testing.T) {
	tool := NewSearchCode(newIndex(t))
	res, err := tool.Execute(context.Background(), map[string]any{"query": "handle_request"})
	if err != nil || !res.Success {
		t.Fatalf("err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Output, "a.py") || !strings.Contains(res.Output, "handle_request") {
		t.Fatalf("Output = %q", res.Output)
	}
}

func TestSearchCodeNoMatches(t *testing.T) {
	tool := NewSearchCode(newIndex(t))
	res, err := tool.Execute(context.Background(), map[string]any{"query": "zzz_missing_zzz"})
	if err != nil || !res.Success {
		t.Fatalf("err=%v res=%+v", err, res)
	}
	if res.Output != "No matches." {
		t.Fatalf("Output = %q", res.Output)
	}
}

func TestSemanticSearchReturnsScoredResults(t *testing.T) {
	tool := NewSemanticSearch(newIndex(t))
	res, err := tool.Execute(context.Background(), map[string]any{"query": "handle request body"})
	if err != nil || !res.Success {
		t.Fatalf("err=%v res=%+v", err, res)
	}
	if !strings.Contains(res.Output, "score=") {
		t.Fatalf("Output = %q", res.Output)
	}
}
