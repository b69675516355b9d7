package vectors

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, dir
}

func TestAddAndSearch(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	err := s.Add(ctx, []Entry{
		{ChunkID: "ch_a", Embedding: []float32{1, 0, 0}},
		{ChunkID: "ch_b", Embedding: []float32{0, 1, 0}},
		{ChunkID: "ch_c", Embedding: []float32{0.9, 0.1, 0}},
	}, "test-model")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if s.Count() != 3 || s.Dim() != 3 {
		t.Fatalf("count=%d dim=%d", s.Count(), s.Dim())
	}

	hits, err := s.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].ChunkID != "ch_a" {
		t.Fatalf("top hit = %s, want ch_a", hits[0].ChunkID)
	}
	if hits[0].Score < 0.999 {
		t.Fatalf("identical vector score = %v, want ~1", hits[0].Score)
	}
	if hits[1].ChunkID != "ch_c" {
		t.Fatalf("second hit = %s, want ch_c", hits[1].ChunkID)
	}
}

func TestAddNormalizes(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.Add(context.Background(), []Entry{
		{ChunkID: "ch_big", Embedding: []float32{10, 0}},
	}, ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := s.Search([]float32{3, 0}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if math.Abs(float64(hits[0].Score)-1) > 1e-5 {
		t.Fatalf("score = %v, want 1 regardless of magnitudes", hits[0].Score)
	}
}

func TestAddOverwritesInPlace(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, []Entry{
		{ChunkID: "ch_a", Embedding: []float32{1, 0}},
		{ChunkID: "ch_b", Embedding: []float32{0, 1}},
	}, "m"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(ctx, []Entry{
		{ChunkID: "ch_a", Embedding: []float32{0, 1}},
	}, "m"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if s.Count() != 2 {
		t.Fatalf("count = %d, want 2 (no growth)", s.Count())
	}

	hits, err := s.Search([]float32{0, 1}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// Both now point the same way; tie broken by id ascending.
	if hits[0].ChunkID != "ch_a" || hits[1].ChunkID != "ch_b" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestAddDimensionMismatchFailsWholeBatch(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, []Entry{{ChunkID: "ch_a", Embedding: []float32{1, 0, 0}}}, "m"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := s.Add(ctx, []Entry{
		{ChunkID: "ch_b", Embedding: []float32{1, 0, 0}},
		{ChunkID: "ch_c", Embedding: []float32{1, 0}},
	}, "m")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d, batch must not partially apply", s.Count())
	}
}

func TestSearchDeterministicTieBreak(t *testing.T) {
	s, _ := openTestStore(t)
	err := s.Add(context.Background(), []Entry{
		{ChunkID: "ch_z", Embedding: []float32{1, 0}},
		{ChunkID: "ch_a", Embedding: []float32{1, 0}},
		{ChunkID: "ch_m", Embedding: []float32{1, 0}},
	}, "m")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := s.Search([]float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var got []string
	for _, h := range hits {
		got = append(got, h.ChunkID)
	}
	want := []string{"ch_a", "ch_m", "ch_z"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestRemoveAndPrune(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	err := s.Add(ctx, []Entry{
		{ChunkID: "ch_a", Embedding: []float32{1, 0}},
		{ChunkID: "ch_b", Embedding: []float32{0, 1}},
		{ChunkID: "ch_c", Embedding: []float32{1, 1}},
	}, "m")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.RemoveByIDs([]string{"ch_b", "ch_missing"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"ch_a", "ch_c"}) {
		t.Fatalf("ids after remove = %v", got)
	}

	dropped, err := s.Prune([]string{"ch_a"})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if got := s.IDs(); !reflect.DeepEqual(got, []string{"ch_a"}) {
		t.Fatalf("ids after prune = %v", got)
	}

	// Rows stayed aligned with ids through compaction.
	hits, err := s.Search([]float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits[0].ChunkID != "ch_a" || hits[0].Score < 0.999 {
		t.Fatalf("hit = %+v", hits[0])
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	err = s1.Add(context.Background(), []Entry{
		{ChunkID: "ch_a", Embedding: []float32{1, 0, 0}},
		{ChunkID: "ch_b", Embedding: []float32{0, 1, 0}},
	}, "test-model")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	if s2.Count() != 2 || s2.Dim() != 3 || s2.Model() != "test-model" {
		t.Fatalf("reloaded count=%d dim=%d model=%q", s2.Count(), s2.Dim(), s2.Model())
	}
	hits, err := s2.Search([]float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits[0].ChunkID != "ch_b" {
		t.Fatalf("hit = %+v", hits[0])
	}
}

func TestCorruptionDetected(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = s1.Add(context.Background(), []Entry{
		{ChunkID: "ch_a", Embedding: []float32{1, 0}},
		{ChunkID: "ch_b", Embedding: []float32{0, 1}},
		{ChunkID: "ch_c", Embedding: []float32{1, 1}},
	}, "m")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Truncate the matrix file.
	matrixPath := filepath.Join(dir, MatrixFile)
	raw, err := os.ReadFile(matrixPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(matrixPath, raw[:len(raw)/3], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	_, err = Open(dir, nil)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected corruption error, got %v", err)
	}
	var ce *CorruptError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CorruptError, got %T", err)
	}
}

func TestCorruptionOnCountMismatch(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = s1.Add(context.Background(), []Entry{
		{ChunkID: "ch_a", Embedding: []float32{1, 0}},
	}, "m")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Manifest claims two ids, matrix holds one row.
	manifestPath := filepath.Join(dir, ManifestFile)
	bad := `{"ids":["ch_a","ch_b"],"model":"m","dim":2,"count":2}`
	if err := os.WriteFile(manifestPath, []byte(bad), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	if _, err := Open(dir, nil); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected corruption error, got %v", err)
	}
}

func TestCrashLeavesCommittedState(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = s1.Add(context.Background(), []Entry{
		{ChunkID: "ch_a", Embedding: []float32{1, 0}},
	}, "m")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// A crash between tmp-write and rename leaves a stray sibling.
	if err := os.WriteFile(filepath.Join(dir, MatrixFile+".tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write tmp: %v", err)
	}

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen with stray tmp: %v", err)
	}
	if s2.Count() != 1 {
		t.Fatalf("count = %d, committed state lost", s2.Count())
	}

	// The next successful save replaces the stray sibling.
	err = s2.Add(context.Background(), []Entry{
		{ChunkID: "ch_b", Embedding: []float32{0, 1}},
	}, "m")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, MatrixFile+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("tmp sibling still present after save: %v", err)
	}
}

func TestResetErasesStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = s.Add(context.Background(), []Entry{
		{ChunkID: "ch_a", Embedding: []float32{1, 0}},
	}, "m")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s.Count() != 0 || s.Dim() != 0 {
		t.Fatalf("count=%d dim=%d after reset", s.Count(), s.Dim())
	}
	if _, err := os.Stat(filepath.Join(dir, MatrixFile)); !os.IsNotExist(err) {
		t.Fatalf("matrix file survived reset: %v", err)
	}

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open after reset: %v", err)
	}
	if s2.Count() != 0 {
		t.Fatalf("count = %d", s2.Count())
	}
}
