package patches

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "patches"), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.now = func() time.Time {
		return time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	}
	return s
}

func TestCreateWritesArtifacts(t *testing.T) {
	s := newStore(t)

	p, err := s.Create(Proposal{
		Title:       "Fix off-by-one in tokenizer",
		Description: "the loop skipped the final token",
		TargetFiles: []string{"internal/chunks/tokenize.go"},
		Plan:        "adjust the loop bound",
		Diff:        "--- a/tokenize.go\n+++ b/tokenize.go\n",
		Tests:       "go test ./internal/chunks",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.PatchID != "20260402_093000_fix-off-by-one-in-tokenizer" {
		t.Errorf("patch id = %q", p.PatchID)
	}
	if p.Status != StatusProposed {
		t.Errorf("status = %s, want proposed", p.Status)
	}

	for _, name := range []string{PlanFile, DiffFile, TestsFile, MetadataFile} {
		if _, err := os.Stat(filepath.Join(s.Dir(p.PatchID), name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(s.Dir(p.PatchID), MetadataFile))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest map[string]any
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	for _, key := range []string{
		"patch_id", "title", "created_at", "status", "plan_file",
		"diff_file", "tests_file", "target_files", "description", "error_message",
	} {
		if _, ok := manifest[key]; !ok {
			t.Errorf("manifest missing key %q", key)
		}
	}
	if manifest["error_message"] != nil {
		t.Errorf("error_message = %v, want null", manifest["error_message"])
	}
}

func TestCreateRequiresTitleAndDiff(t *testing.T) {
	s := newStore(t)
	if _, err := s.Create(Proposal{Diff: "x"}); err == nil {
		t.Error("Create without title succeeded")
	}
	if _, err := s.Create(Proposal{Title: "t"}); err == nil {
		t.Error("Create without diff succeeded")
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newStore(t)
	p, _ := s.Create(Proposal{Title: "demo", Diff: "d"})

	updated, err := s.UpdateStatus(p.PatchID, StatusFailed, "hunk did not apply")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != StatusFailed {
		t.Errorf("status = %s, want failed", updated.Status)
	}
	if updated.ErrorMessage == nil || !strings.Contains(*updated.ErrorMessage, "hunk") {
		t.Errorf("error message = %v", updated.ErrorMessage)
	}

	if _, err := s.UpdateStatus(p.PatchID, Status("merged"), ""); err == nil {
		t.Error("invalid status accepted")
	}
	if _, err := s.UpdateStatus("nope", StatusApplied, ""); !errors.Is(err, ErrPatchNotFound) {
		t.Errorf("unknown patch error = %v, want ErrPatchNotFound", err)
	}
}

func TestListSkipsForeignDirs(t *testing.T) {
	s := newStore(t)
	s.Create(Proposal{Title: "one", Diff: "d"})

	// A stray directory without a manifest is not a patch.
	os.MkdirAll(filepath.Join(s.root, "scratch"), 0o755)

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List returned %d patches, want 1", len(list))
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Fix the Thing!":   "fix-the-thing",
		"   ":              "patch",
		"CamelCase Title":  "camelcase-title",
		"a/b\\c:d":         "a-b-c-d",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
