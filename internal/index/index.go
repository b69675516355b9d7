// Package index coordinates the retrieval index: the chunk store, the
// vector store, and the embedding provider behind one ingest/search surface.
// Ingest is incremental and git-aware, corruption in the vector store heals
// by re-embedding from the chunk index, and an optional filesystem watcher
// keeps the index current as files change.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/anvil/internal/chunks"
	"github.com/haasonsaas/anvil/internal/chunks/lang"
	"github.com/haasonsaas/anvil/internal/embeddings"
	"github.com/haasonsaas/anvil/internal/observability"
	"github.com/haasonsaas/anvil/internal/vectors"
)

// On-disk layout under the index directory.
const (
	chunkManifest = "manifest.json"
	vectorsDir    = "vectors"
	metaFile      = "index_meta.json"
)

// Config controls the retrieval index.
type Config struct {
	// Dir is the index directory.
	Dir string

	// SourceRoot resolves relative sources; ingested paths under it are
	// stored relative so the index survives a tree move.
	SourceRoot string

	// MaxFileBytes skips files larger than this. Default: 1 MiB.
	MaxFileBytes int64

	// ChunkLines and ChunkOverlap tune the fallback chunker.
	ChunkLines   int
	ChunkOverlap int

	// Include restricts directory ingest to files whose slash-relative
	// path or base name matches one of these glob patterns. A "**"
	// segment crosses directory boundaries. Empty means every
	// recognized file.
	Include []string

	// Exclude removes matching files from the include set.
	Exclude []string

	// BatchSize bounds texts per embedding request. Default: the
	// provider's maximum.
	BatchSize int

	// AutoHeal resets a corrupted vector store on open instead of failing.
	// The corruption is logged and RebuildPending reports true until
	// Rebuild runs.
	AutoHeal bool
}

// Index owns the chunk and vector stores for one directory.
type Index struct {
	cfg      Config
	chunks   *chunks.Store
	vectors  *vectors.Store
	embedder embeddings.Provider
	logger   *observability.Logger
	metrics  *observability.Metrics

	rebuildPending bool
}

// Open loads both stores. A corrupted vector store fails the open unless
// cfg.AutoHeal is set, in which case the store is reset, the event is
// logged, and the caller is expected to run Rebuild.
func Open(cfg Config, embedder embeddings.Provider, logger *observability.Logger, metrics *observability.Metrics) (*Index, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 1 << 20
	}

	chunkStore, err := chunks.NewStore(chunks.StoreConfig{
		ManifestPath: filepath.Join(cfg.Dir, chunkManifest),
		SourceRoot:   cfg.SourceRoot,
		ChunkLines:   cfg.ChunkLines,
		ChunkOverlap: cfg.ChunkOverlap,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}

	idx := &Index{
		cfg:      cfg,
		chunks:   chunkStore,
		embedder: embedder,
		logger:   logger,
		metrics:  metrics,
	}

	vdir := filepath.Join(cfg.Dir, vectorsDir)
	vectorStore, err := vectors.Open(vdir, logger)
	if err != nil {
		if !errors.Is(err, vectors.ErrCorrupted) || !cfg.AutoHeal {
			return nil, err
		}
		// Never hide the corruption event from operators.
		logger.Error(context.Background(), "vector index corrupted, resetting for rebuild",
			"dir", vdir, "error", err)
		vectorStore, err = healVectorStore(vdir, logger)
		if err != nil {
			return nil, err
		}
		idx.rebuildPending = true
	}
	idx.vectors = vectorStore
	return idx, nil
}

// healVectorStore removes the inconsistent files and opens a fresh store.
func healVectorStore(dir string, logger *observability.Logger) (*vectors.Store, error) {
	for _, name := range []string{vectors.MatrixFile, vectors.ManifestFile} {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		os.Remove(path + ".tmp")
	}
	return vectors.Open(dir, logger)
}

// RebuildPending reports whether a corruption reset is awaiting Rebuild.
func (x *Index) RebuildPending() bool {
	return x.rebuildPending
}

// Chunks exposes the underlying chunk store.
func (x *Index) Chunks() *chunks.Store {
	return x.chunks
}

// Vectors exposes the underlying vector store.
func (x *Index) Vectors() *vectors.Store {
	return x.vectors
}

// IngestPath ingests one file or a directory tree. Returns counts of files
// indexed and chunks added.
func (x *Index) IngestPath(ctx context.Context, path string) (files, added int, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	if !info.IsDir() {
		n, err := x.ingestFile(ctx, path)
		if err != nil {
			return 0, 0, err
		}
		x.recordHead(ctx, filepath.Dir(path))
		return 1, n, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if skippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !lang.Recognized(p) || sensitivePath(p) {
			return nil
		}
		if !x.selected(path, p) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, ferr := x.ingestFile(ctx, p)
		if ferr != nil {
			// Unreadable files are skipped, not fatal.
			x.logger.Warn(ctx, "skipping unreadable file", "path", p, "error", ferr)
			if x.metrics != nil {
				x.metrics.IngestedFiles.WithLabelValues("failed").Inc()
			}
			return nil
		}
		files++
		added += n
		return nil
	})
	if err != nil {
		return files, added, err
	}
	x.recordHead(ctx, path)
	return files, added, nil
}

// ingestFile chunks one file, embeds new chunks, and evicts stale rows.
func (x *Index) ingestFile(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() > x.cfg.MaxFileBytes {
		x.logger.Debug(ctx, "skipping oversized file", "path", path, "bytes", info.Size())
		if x.metrics != nil {
			x.metrics.IngestedFiles.WithLabelValues("skipped").Inc()
		}
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	source := x.sourceKey(path)
	addedIDs, removedIDs, err := x.chunks.Ingest(source, string(data))
	if err != nil {
		return 0, err
	}
	if x.metrics != nil {
		x.metrics.IngestedFiles.WithLabelValues("indexed").Inc()
		x.metrics.IngestedChunks.WithLabelValues("added").Add(float64(len(addedIDs)))
		x.metrics.IngestedChunks.WithLabelValues("removed").Add(float64(len(removedIDs)))
	}

	if err := x.embedIDs(ctx, addedIDs); err != nil {
		return len(addedIDs), err
	}
	if err := x.evictStale(); err != nil {
		return len(addedIDs), err
	}
	return len(addedIDs), nil
}

// RemovePath drops a deleted file's chunks and their vectors.
func (x *Index) RemovePath(path string) error {
	removed, err := x.chunks.RemoveSource(x.sourceKey(path))
	if err != nil {
		return err
	}
	if x.metrics != nil {
		x.metrics.IngestedChunks.WithLabelValues("removed").Add(float64(len(removed)))
	}
	return x.evictStale()
}

// evictStale removes stale chunk ids from the vector store before clearing
// the chunk store's stale set. Vector rows die before the set forgets them.
func (x *Index) evictStale() error {
	stale := x.chunks.StaleIDs()
	if len(stale) == 0 {
		return nil
	}
	if err := x.vectors.RemoveByIDs(stale); err != nil {
		return err
	}
	if x.metrics != nil {
		x.metrics.VectorOps.WithLabelValues("remove").Inc()
	}
	return x.chunks.ClearStale(stale)
}

// embedIDs embeds the named chunks in provider-sized batches.
func (x *Index) embedIDs(ctx context.Context, ids []string) error {
	if x.embedder == nil || len(ids) == 0 {
		return nil
	}
	batch := x.cfg.BatchSize
	if batch <= 0 || batch > x.embedder.MaxBatchSize() {
		batch = x.embedder.MaxBatchSize()
	}

	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		var texts []string
		var present []string
		for _, id := range ids[start:end] {
			c, ok := x.chunks.Get(id)
			if !ok || c.Content == "" {
				continue
			}
			texts = append(texts, c.Content)
			present = append(present, id)
		}
		if len(texts) == 0 {
			continue
		}
		vecs, err := x.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		entries := make([]vectors.Entry, len(present))
		for i, id := range present {
			entries[i] = vectors.Entry{ChunkID: id, Embedding: vecs[i]}
		}
		if err := x.vectors.Add(ctx, entries, x.embedder.Model()); err != nil {
			return err
		}
		if x.metrics != nil {
			x.metrics.VectorOps.WithLabelValues("add").Inc()
		}
	}
	return nil
}

// Rebuild re-embeds every chunk from the chunk store. Used after a
// corruption reset and after switching embedding models.
func (x *Index) Rebuild(ctx context.Context) error {
	if err := x.vectors.Reset(); err != nil {
		return err
	}
	if err := x.embedIDs(ctx, x.chunks.ActiveIDs()); err != nil {
		return err
	}
	x.rebuildPending = false
	if x.metrics != nil {
		x.metrics.VectorOps.WithLabelValues("rebuild").Inc()
	}
	x.logger.Info(ctx, "vector index rebuilt", "chunks", x.vectors.Count())
	return nil
}

// Prune drops vector rows whose chunks no longer exist.
func (x *Index) Prune() (int, error) {
	n, err := x.vectors.Prune(x.chunks.ActiveIDs())
	if err == nil && x.metrics != nil && n > 0 {
		x.metrics.VectorOps.WithLabelValues("prune").Inc()
	}
	return n, err
}

// SearchKeyword runs the inverted-index keyword search.
func (x *Index) SearchKeyword(query string, k int, opts chunks.SearchOptions) []chunks.Result {
	start := time.Now()
	results := x.chunks.Search(query, k, opts)
	if x.metrics != nil {
		x.metrics.SearchDuration.WithLabelValues("keyword").Observe(time.Since(start).Seconds())
	}
	return results
}

// SemanticResult is one vector search hit hydrated with chunk metadata.
type SemanticResult struct {
	ChunkID   string  `json:"chunk_id"`
	Source    string  `json:"source"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Kind      string  `json:"kind"`
	Name      string  `json:"name,omitempty"`
	Score     float32 `json:"score"`
	Snippet   string  `json:"snippet,omitempty"`
}

// SearchSemantic embeds the query and returns the top-k cosine matches with
// chunk metadata attached.
func (x *Index) SearchSemantic(ctx context.Context, query string, k int) ([]SemanticResult, error) {
	if x.embedder == nil {
		return nil, errors.New("semantic search requires an embedding provider")
	}
	start := time.Now()
	qvec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := x.vectors.Search(qvec, k)
	if err != nil {
		return nil, err
	}
	if x.metrics != nil {
		x.metrics.SearchDuration.WithLabelValues("semantic").Observe(time.Since(start).Seconds())
		x.metrics.VectorOps.WithLabelValues("search").Inc()
	}

	out := make([]SemanticResult, 0, len(hits))
	for _, h := range hits {
		r := SemanticResult{ChunkID: h.ChunkID, Score: h.Score}
		if c, ok := x.chunks.Get(h.ChunkID); ok {
			r.Source = c.Source
			r.StartLine = c.StartLine
			r.EndLine = c.EndLine
			r.Kind = c.Kind
			r.Name = c.Name
			if len(c.Content) > 200 {
				r.Snippet = c.Content[:200] + "…"
			} else {
				r.Snippet = c.Content
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// Save flushes both stores.
func (x *Index) Save() error {
	if err := x.chunks.Save(); err != nil {
		return err
	}
	return x.vectors.Save()
}

// sourceKey stores paths relative to the source root when possible.
func (x *Index) sourceKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	if x.cfg.SourceRoot != "" {
		root, err := filepath.Abs(x.cfg.SourceRoot)
		if err == nil {
			if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
				return filepath.ToSlash(rel)
			}
		}
	}
	return filepath.ToSlash(abs)
}

// indexMeta is the small sidecar recording ingest provenance.
type indexMeta struct {
	GitHead   string    `json:"git_head,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// recordHead notes the repository head commit when the ingested path is a
// git checkout. Best effort; failures are ignored.
func (x *Index) recordHead(ctx context.Context, dir string) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return
	}
	meta := indexMeta{
		GitHead:   strings.TrimSpace(string(out)),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(x.cfg.Dir, metaFile), data, 0o644)
}

// selected applies the Include/Exclude globs to one file found during a
// directory walk. Patterns match the path relative to the walk root (slash
// separated) or the base name alone.
func (x *Index) selected(root, file string) bool {
	if len(x.cfg.Include) == 0 && len(x.cfg.Exclude) == 0 {
		return true
	}
	rel, err := filepath.Rel(root, file)
	if err != nil {
		rel = file
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(file)

	matches := func(patterns []string) bool {
		for _, pat := range patterns {
			if matchGlob(pat, rel) || matchGlob(pat, base) {
				return true
			}
		}
		return false
	}
	if len(x.cfg.Include) > 0 && !matches(x.cfg.Include) {
		return false
	}
	return !matches(x.cfg.Exclude)
}

// matchGlob matches a slash-separated path against a glob pattern where a
// "**" segment spans any number of directories; other segments follow
// path.Match rules.
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, parts []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			if matchSegments(pat[1:], parts) {
				return true
			}
			if len(parts) == 0 {
				return false
			}
			parts = parts[1:]
			continue
		}
		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], parts[0]); !ok {
			return false
		}
		pat = pat[1:]
		parts = parts[1:]
	}
	return len(parts) == 0
}

// Directory names never descended into during directory ingest.
func skippedDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", "__pycache__", ".venv", "venv":
		return true
	}
	return false
}

// Sensitive files are excluded at ingest time, mirroring the workspace's
// project-read exclusions.
var sensitiveGlobs = []string{"*.pem", "*.key", "*secret*", "*credentials*"}

func sensitivePath(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	for _, g := range sensitiveGlobs {
		if ok, _ := filepath.Match(g, base); ok {
			return true
		}
	}
	return false
}
