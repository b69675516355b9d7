// Package vectors stores L2-normalized chunk embeddings with cosine search
// and numpy-compatible persistence. Two files constitute the store on disk:
// an npz matrix and a JSON manifest with the id order and metadata. Writes
// are atomic; loads that fail cross-file consistency raise CorruptError so
// a higher layer can reset and re-embed.
package vectors

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/haasonsaas/anvil/internal/observability"
)

// On-disk file names under the store directory.
const (
	MatrixFile   = "embeddings.npz"
	ManifestFile = "vectors_manifest.json"
)

// Entry pairs a chunk id with its embedding for batch adds.
type Entry struct {
	ChunkID   string
	Embedding []float32
}

// Hit is one similarity search result.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float32 `json:"score"`
}

type storeMeta struct {
	Model string `json:"model"`
	Dim   int    `json:"dim"`
	Count int    `json:"count"`
}

type storeManifest struct {
	IDs []string `json:"ids"`
	storeMeta
}

// Store is the embedding matrix: an ordered id list, a flat row-major
// float32 matrix, and an id-to-row map. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	dir    string
	logger *observability.Logger

	ids   []string
	data  []float32
	rowOf map[string]int
	dim   int
	model string
}

// Open loads the store from dir, creating an empty one when neither file
// exists. Inconsistent files return a CorruptError.
func Open(dir string, logger *observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Store{
		dir:    dir,
		logger: logger,
		rowOf:  make(map[string]int),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dim returns the established embedding dimension, 0 when empty.
func (s *Store) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Count returns the number of stored vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Model returns the recorded embedding model name.
func (s *Store) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// IDs returns the stored chunk ids in row order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Add normalizes and upserts a batch. Existing ids overwrite their row in
// place; new ids append. A dimension mismatch anywhere fails the whole
// batch before any mutation. A model change is logged, not rejected.
func (s *Store) Add(ctx context.Context, entries []Entry, model string) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	if dim == 0 {
		dim = len(entries[0].Embedding)
	}
	for _, e := range entries {
		if len(e.Embedding) != dim {
			return fmt.Errorf("chunk %s: %w: got %d, store dim %d", e.ChunkID, ErrDimensionMismatch, len(e.Embedding), dim)
		}
	}
	if s.dim == 0 {
		s.dim = dim
	}

	if s.model != "" && model != "" && model != s.model {
		s.logger.Warn(ctx, "vector store model changed",
			"stored_model", s.model, "new_model", model)
	}
	if model != "" {
		s.model = model
	}

	for _, e := range entries {
		vec := normalize(e.Embedding)
		if row, ok := s.rowOf[e.ChunkID]; ok {
			copy(s.data[row*dim:(row+1)*dim], vec)
			continue
		}
		s.rowOf[e.ChunkID] = len(s.ids)
		s.ids = append(s.ids, e.ChunkID)
		s.data = append(s.data, vec...)
	}
	return s.saveLocked()
}

// RemoveByIDs drops the listed ids. Missing ids are ignored.
func (s *Store) RemoveByIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(func(id string) bool { return drop[id] })
}

// Prune removes every id not present in activeIDs, resyncing the store with
// the chunk index after deletions.
func (s *Store) Prune(activeIDs []string) (int, error) {
	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.ids)
	if err := s.removeLocked(func(id string) bool { return !active[id] }); err != nil {
		return 0, err
	}
	return before - len(s.ids), nil
}

// removeLocked compacts rows whose id matches the predicate. Caller holds
// the write lock.
func (s *Store) removeLocked(match func(string) bool) error {
	if s.dim == 0 {
		return nil
	}
	keptIDs := s.ids[:0]
	keptData := s.data[:0]
	rowOf := make(map[string]int, len(s.ids))
	for row, id := range s.ids {
		if match(id) {
			continue
		}
		rowOf[id] = len(keptIDs)
		keptIDs = append(keptIDs, id)
		keptData = append(keptData, s.data[row*s.dim:(row+1)*s.dim]...)
	}
	s.ids = keptIDs
	s.data = keptData
	s.rowOf = rowOf
	return s.saveLocked()
}

// Search returns the top-k cosine matches for the query vector. Ordering is
// deterministic: score descending, chunk id ascending on ties.
func (s *Store) Search(query []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ids) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("query: %w: got %d, store dim %d", ErrDimensionMismatch, len(query), s.dim)
	}

	q := normalize(query)
	hits := make([]Hit, len(s.ids))
	for row, id := range s.ids {
		var dot float32
		base := row * s.dim
		for i, qv := range q {
			dot += qv * s.data[base+i]
		}
		hits[row] = Hit{ChunkID: id, Score: dot}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset erases the store in memory and on disk. Used by the self-heal
// rebuild path after corruption.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = nil
	s.data = nil
	s.rowOf = make(map[string]int)
	s.dim = 0
	s.model = ""

	for _, name := range []string{MatrixFile, ManifestFile} {
		path := filepath.Join(s.dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		os.Remove(path + ".tmp")
	}
	return nil
}

// Save persists both files atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	matrix, err := encodeNPZ(s.data, len(s.ids), s.dim)
	if err != nil {
		return err
	}
	manifest, err := json.MarshalIndent(storeManifest{
		IDs: s.ids,
		storeMeta: storeMeta{
			Model: s.model,
			Dim:   s.dim,
			Count: len(s.ids),
		},
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := writeFileAtomic(filepath.Join(s.dir, MatrixFile), matrix); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, ManifestFile), manifest)
}

func (s *Store) load() error {
	matrixPath := filepath.Join(s.dir, MatrixFile)
	manifestPath := filepath.Join(s.dir, ManifestFile)

	matrixRaw, matrixErr := os.ReadFile(matrixPath)
	manifestRaw, manifestErr := os.ReadFile(manifestPath)

	if os.IsNotExist(matrixErr) && os.IsNotExist(manifestErr) {
		return nil
	}
	if matrixErr != nil {
		return &CorruptError{Path: matrixPath, Reason: matrixErr.Error()}
	}
	if manifestErr != nil {
		return &CorruptError{Path: manifestPath, Reason: manifestErr.Error()}
	}

	var m storeManifest
	if err := json.Unmarshal(manifestRaw, &m); err != nil {
		return &CorruptError{Path: manifestPath, Reason: fmt.Sprintf("parse: %v", err)}
	}
	data, rows, dim, err := decodeNPZ(matrixRaw)
	if err != nil {
		return &CorruptError{Path: matrixPath, Reason: err.Error()}
	}

	if rows != len(m.IDs) || len(m.IDs) != m.Count {
		return &CorruptError{
			Path:   matrixPath,
			Reason: fmt.Sprintf("matrix rows %d, manifest ids %d, manifest count %d", rows, len(m.IDs), m.Count),
		}
	}
	if rows > 0 && m.Dim != 0 && dim != m.Dim {
		return &CorruptError{
			Path:   matrixPath,
			Reason: fmt.Sprintf("matrix dim %d, manifest dim %d", dim, m.Dim),
		}
	}

	s.ids = m.IDs
	s.data = data
	s.model = m.Model
	s.dim = m.Dim
	if s.dim == 0 {
		s.dim = dim
	}
	s.rowOf = make(map[string]int, len(s.ids))
	for row, id := range s.ids {
		s.rowOf[id] = row
	}
	return nil
}

// normalize returns the L2-normalized copy of v. Zero vectors pass through.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// writeFileAtomic writes via a temp sibling, fsyncs, and renames into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
