package chunks

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(StoreConfig{
		ManifestPath: filepath.Join(dir, "index", "manifest.json"),
		SourceRoot:   dir,
	}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, dir
}

func TestIngestAndSearch(t *testing.T) {
	s, _ := newTestStore(t)

	added, removed, err := s.Ingest("a.py", "def f(): return 1\n")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(added) != 1 || len(removed) != 0 {
		t.Fatalf("added=%d removed=%d", len(added), len(removed))
	}

	results := s.Search("return 1", 5, SearchOptions{Deterministic: true})
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if r.Kind != KindFunction || r.Name != "f" || r.Source != "a.py" {
		t.Fatalf("result = %+v", r)
	}
	if r.Score < 1 {
		t.Fatalf("score = %d", r.Score)
	}

	// Ingesting identical content changes nothing.
	added, removed, err = s.Ingest("a.py", "def f(): return 1\n")
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("re-ingest added=%v removed=%v", added, removed)
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d", s.Count())
	}
}

func TestIngestReplacingContent(t *testing.T) {
	s, _ := newTestStore(t)

	if _, _, err := s.Ingest("a.py", "def f(): return 1\n"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	oldID := ChunkID("def f(): return 1")

	added, removed, err := s.Ingest("a.py", "def g(): return 2\n")
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if len(added) != 1 || len(removed) != 1 {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
	if removed[0] != oldID {
		t.Fatalf("removed = %s, want %s", removed[0], oldID)
	}

	if got := s.Search("return 1", 5, SearchOptions{}); len(got) != 0 {
		t.Fatalf("stale content still found: %+v", got)
	}
	if got := s.Search("return 2", 5, SearchOptions{}); len(got) != 1 {
		t.Fatalf("new content not found")
	}
	if got := s.StaleIDs(); !reflect.DeepEqual(got, []string{oldID}) {
		t.Fatalf("stale = %v, want [%s]", got, oldID)
	}
}

func TestIncrementalReingestPreservesUntouchedChunks(t *testing.T) {
	s, _ := newTestStore(t)

	v1 := "def keep():\n    return 'same'\n\ndef change():\n    return 'v1'\n"
	if _, _, err := s.Ingest("mod.py", v1); err != nil {
		t.Fatalf("ingest v1: %v", err)
	}
	keepID := ""
	for _, id := range s.ActiveIDs() {
		c, _ := s.Get(id)
		if c.Name == "keep" {
			keepID = id
		}
	}
	if keepID == "" {
		t.Fatal("keep chunk not found")
	}

	v2 := "def keep():\n    return 'same'\n\ndef change():\n    return 'v2'\n"
	added, removed, err := s.Ingest("mod.py", v2)
	if err != nil {
		t.Fatalf("ingest v2: %v", err)
	}
	if len(added) != 1 || len(removed) != 1 {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
	found := false
	for _, id := range s.ActiveIDs() {
		if id == keepID {
			found = true
		}
	}
	if !found {
		t.Fatal("untouched chunk id was not preserved")
	}
	if !reflect.DeepEqual(s.StaleIDs(), removed) {
		t.Fatalf("stale = %v, want %v", s.StaleIDs(), removed)
	}
}

func TestDuplicateContentAcrossFiles(t *testing.T) {
	s, _ := newTestStore(t)

	text := "def shared(): return 42\n"
	if _, _, err := s.Ingest("a.py", text); err != nil {
		t.Fatalf("ingest a: %v", err)
	}
	added, _, err := s.Ingest("b.py", text)
	if err != nil {
		t.Fatalf("ingest b: %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("duplicate content produced new ids: %v", added)
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d, want 1", s.Count())
	}

	// Removing one source keeps the chunk alive through the other.
	removed, err := s.RemoveSource("a.py")
	if err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("chunk removed while still referenced: %v", removed)
	}
	if s.Count() != 1 {
		t.Fatalf("count after remove = %d", s.Count())
	}

	removed, err = s.RemoveSource("b.py")
	if err != nil {
		t.Fatalf("remove b: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("final remove = %v", removed)
	}
	if s.Count() != 0 {
		t.Fatalf("count = %d, want 0", s.Count())
	}
}

func TestSearchFiltersAndDeterminism(t *testing.T) {
	s, _ := newTestStore(t)

	if _, _, err := s.Ingest("src/a.go", "package a\n\nfunc Target() int {\n\treturn 7\n}\n"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, _, err := s.Ingest("docs/b.md", "# Target\n\ntarget notes\n"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	all := s.Search("target", 10, SearchOptions{Deterministic: true})
	if len(all) < 2 {
		t.Fatalf("results = %d, want >= 2", len(all))
	}
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Score < cur.Score {
			t.Fatalf("scores not descending: %+v", all)
		}
		if prev.Score == cur.Score && prev.ChunkID > cur.ChunkID {
			t.Fatalf("tie not broken by id: %+v", all)
		}
	}

	onlyGo := s.Search("target", 10, SearchOptions{Extension: ".go"})
	for _, r := range onlyGo {
		if filepath.Ext(r.Source) != ".go" {
			t.Fatalf("extension filter leaked: %+v", r)
		}
	}

	onlyDocs := s.Search("target", 10, SearchOptions{PathPrefix: "docs/"})
	if len(onlyDocs) == 0 {
		t.Fatal("path prefix filter dropped everything")
	}
	for _, r := range onlyDocs {
		if r.Source != "docs/b.md" {
			t.Fatalf("prefix filter leaked: %+v", r)
		}
	}

	sections := s.Search("target", 10, SearchOptions{Kind: KindSection})
	for _, r := range sections {
		if r.Kind != KindSection {
			t.Fatalf("kind filter leaked: %+v", r)
		}
	}
}

func TestSearchANDSemantics(t *testing.T) {
	s, _ := newTestStore(t)
	if _, _, err := s.Ingest("a.txt", "alpha beta\n"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, _, err := s.Ingest("b.txt", "alpha gamma\n"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if got := s.Search("alpha", 10, SearchOptions{}); len(got) != 2 {
		t.Fatalf("single token results = %d, want 2", len(got))
	}
	if got := s.Search("alpha beta", 10, SearchOptions{}); len(got) != 1 {
		t.Fatalf("AND results = %d, want 1", len(got))
	}
	if got := s.Search("alpha delta", 10, SearchOptions{}); len(got) != 0 {
		t.Fatalf("absent token results = %d, want 0", len(got))
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "index", "manifest.json")

	srcPath := filepath.Join(dir, "a.py")
	text := "def f(): return 1\n"
	if err := os.WriteFile(srcPath, []byte(text), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	s1, err := NewStore(StoreConfig{ManifestPath: manifestPath, SourceRoot: dir}, nil)
	if err != nil {
		t.Fatalf("store 1: %v", err)
	}
	if _, _, err := s1.Ingest("a.py", text); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// No temp sibling survives a successful save.
	if _, err := os.Stat(manifestPath + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp sibling left behind: %v", err)
	}

	s2, err := NewStore(StoreConfig{ManifestPath: manifestPath, SourceRoot: dir}, nil)
	if err != nil {
		t.Fatalf("store 2: %v", err)
	}
	if s2.Count() != 1 {
		t.Fatalf("reloaded count = %d", s2.Count())
	}
	if !reflect.DeepEqual(s1.ActiveIDs(), s2.ActiveIDs()) {
		t.Fatalf("id sets differ: %v vs %v", s1.ActiveIDs(), s2.ActiveIDs())
	}

	// Content re-derives from the source file for search and Get.
	results := s2.Search("return 1", 5, SearchOptions{})
	if len(results) != 1 {
		t.Fatalf("reloaded search results = %d, want 1", len(results))
	}
	c, ok := s2.Get(results[0].ChunkID)
	if !ok || c.Content != "def f(): return 1" {
		t.Fatalf("reloaded content = %+v", c)
	}
}

func TestClearStale(t *testing.T) {
	s, _ := newTestStore(t)
	if _, _, err := s.Ingest("a.py", "def f(): return 1\n"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, _, err := s.Ingest("a.py", "def g(): return 2\n"); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	stale := s.StaleIDs()
	if len(stale) != 1 {
		t.Fatalf("stale = %v", stale)
	}
	if err := s.ClearStale(stale); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := s.StaleIDs(); len(got) != 0 {
		t.Fatalf("stale after clear = %v", got)
	}
}

func TestFreshStoresYieldIdenticalIDs(t *testing.T) {
	files := map[string]string{
		"a.py": "def f(): return 1\n",
		"b.go": "package b\n\nfunc G() {}\n",
		"c.md": "# Title\n\nbody\n",
	}

	ingestAll := func() []string {
		s, _ := newTestStore(t)
		for src, text := range files {
			if _, _, err := s.Ingest(src, text); err != nil {
				t.Fatalf("ingest %s: %v", src, err)
			}
		}
		return s.ActiveIDs()
	}

	first := ingestAll()
	second := ingestAll()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("id sets differ across fresh stores:\n%v\n%v", first, second)
	}
}
