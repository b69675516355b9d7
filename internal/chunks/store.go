package chunks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/anvil/internal/chunks/lang"
	"github.com/haasonsaas/anvil/internal/observability"
)

const manifestVersion = 1

// StoreConfig controls the chunk store.
type StoreConfig struct {
	// ManifestPath is the JSON manifest location.
	ManifestPath string

	// SourceRoot resolves relative chunk sources when content must be
	// re-derived after a reload.
	SourceRoot string

	// ChunkLines and ChunkOverlap tune the fallback chunker.
	ChunkLines   int
	ChunkOverlap int
}

// SearchOptions narrows and orders search results.
type SearchOptions struct {
	// PathPrefix keeps only chunks whose source starts with the prefix.
	PathPrefix string

	// Extension keeps only chunks from files with this extension (".go").
	Extension string

	// Kind keeps only chunks of this kind.
	Kind string

	// Tag keeps only chunks carrying this tag.
	Tag string

	// Deterministic breaks score ties by chunk id ascending.
	Deterministic bool
}

// Store is the chunk index: id-addressed chunk metadata, the source-to-ids
// mapping, an inverted keyword index, and the stale-id set handed to vector
// eviction. All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	cfg    StoreConfig
	logger *observability.Logger

	chunks    map[string]*Chunk
	bySource  map[string]map[string]bool
	sourcesOf map[string]map[string]bool
	inverted  map[string]map[string]bool
	dirty     bool
	stale     map[string]bool
}

// NewStore opens the store, loading the manifest when present. Chunk
// contents are re-derived from source files on demand after a load.
func NewStore(cfg StoreConfig, logger *observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Store{
		cfg:       cfg,
		logger:    logger,
		chunks:    make(map[string]*Chunk),
		bySource:  make(map[string]map[string]bool),
		sourcesOf: make(map[string]map[string]bool),
		inverted:  make(map[string]map[string]bool),
		stale:     make(map[string]bool),
	}
	if cfg.ManifestPath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Ingest chunks a file's text and reconciles the index with its previous
// chunks. Returns ids newly added to the store and ids that became
// unreferenced (the latter are also recorded in the stale set).
func (s *Store) Ingest(source, text string) (added, removed []string, err error) {
	pieces := lang.Chunk(source, text, lang.Options{
		MaxLines: s.cfg.ChunkLines,
		Overlap:  s.cfg.ChunkOverlap,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	newIDs := make(map[string]bool, len(pieces))
	for _, p := range pieces {
		id := ChunkID(p.Text)
		newIDs[id] = true
		delete(s.stale, id)
		existing, known := s.chunks[id]
		if known {
			// Same text seen again: refresh location metadata and cache.
			existing.Source = source
			existing.StartLine = p.StartLine
			existing.EndLine = p.EndLine
			existing.Kind = p.Kind
			existing.Name = p.Name
			existing.Content = p.Text
			continue
		}
		c := &Chunk{
			ID:        id,
			Source:    source,
			StartLine: p.StartLine,
			EndLine:   p.EndLine,
			Kind:      p.Kind,
			Name:      p.Name,
			Content:   p.Text,
		}
		s.chunks[id] = c
		s.indexChunk(c)
		added = append(added, id)
	}

	oldIDs := s.bySource[source]
	for id := range oldIDs {
		if newIDs[id] {
			continue
		}
		s.dereference(id, source)
		if len(s.sourcesOf[id]) == 0 {
			removed = append(removed, id)
		}
	}

	s.bySource[source] = newIDs
	for id := range newIDs {
		refs := s.sourcesOf[id]
		if refs == nil {
			refs = make(map[string]bool)
			s.sourcesOf[id] = refs
		}
		refs[source] = true
	}

	sort.Strings(added)
	sort.Strings(removed)

	if err := s.saveLocked(); err != nil {
		return nil, nil, err
	}
	return added, removed, nil
}

// RemoveSource drops a deleted file's chunks. Ids still referenced by other
// sources survive; the rest join the stale set.
func (s *Store) RemoveSource(source string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id := range s.bySource[source] {
		s.dereference(id, source)
		if len(s.sourcesOf[id]) == 0 {
			removed = append(removed, id)
		}
	}
	delete(s.bySource, source)
	sort.Strings(removed)

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return removed, nil
}

// dereference detaches id from source and fully removes the chunk when no
// source references it anymore. Caller holds the write lock.
func (s *Store) dereference(id, source string) {
	if refs := s.sourcesOf[id]; refs != nil {
		delete(refs, source)
		if len(refs) > 0 {
			// Reassign metadata to a surviving source.
			c := s.chunks[id]
			if c != nil && c.Source == source {
				for other := range refs {
					c.Source = other
					break
				}
			}
			return
		}
		delete(s.sourcesOf, id)
	}

	c := s.chunks[id]
	delete(s.chunks, id)
	s.stale[id] = true

	if c != nil && c.Content != "" {
		for _, tok := range Tokenize(c.Content) {
			if set := s.inverted[tok]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(s.inverted, tok)
				}
			}
		}
	} else {
		// Content unknown, cannot unindex precisely.
		s.dirty = true
	}
}

// indexChunk adds a chunk's tokens to the posting lists. Caller holds the
// write lock.
func (s *Store) indexChunk(c *Chunk) {
	for _, tok := range Tokenize(c.Content) {
		set := s.inverted[tok]
		if set == nil {
			set = make(map[string]bool)
			s.inverted[tok] = set
		}
		set[c.ID] = true
	}
}

// RebuildIndex rebuilds the inverted index from every chunk's content,
// re-deriving missing contents from source files.
func (s *Store) RebuildIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildLocked()
}

func (s *Store) rebuildLocked() {
	s.inverted = make(map[string]map[string]bool)
	for _, c := range s.chunks {
		if c.Content == "" {
			s.deriveContentLocked(c)
		}
		if c.Content == "" {
			continue
		}
		s.indexChunk(c)
	}
	s.dirty = false
}

// Search tokenizes the query, intersects posting lists, filters, scores by
// occurrences of the query string in chunk content, and returns the top k.
func (s *Store) Search(query string, k int, opts SearchOptions) []Result {
	toks := Tokenize(query)
	if len(toks) == 0 || k <= 0 {
		return nil
	}

	s.mu.Lock()
	if s.dirty {
		s.rebuildLocked()
	}

	// Intersect posting lists, smallest first.
	sort.Slice(toks, func(i, j int) bool {
		return len(s.inverted[toks[i]]) < len(s.inverted[toks[j]])
	})
	var candidates map[string]bool
	for _, tok := range toks {
		set := s.inverted[tok]
		if len(set) == 0 {
			s.mu.Unlock()
			return nil
		}
		if candidates == nil {
			candidates = make(map[string]bool, len(set))
			for id := range set {
				candidates[id] = true
			}
			continue
		}
		for id := range candidates {
			if !set[id] {
				delete(candidates, id)
			}
		}
		if len(candidates) == 0 {
			s.mu.Unlock()
			return nil
		}
	}

	queryLower := strings.ToLower(query)
	var results []Result
	for id := range candidates {
		c := s.chunks[id]
		if c == nil || !s.matchesLocked(c, opts) {
			continue
		}
		if c.Content == "" {
			s.deriveContentLocked(c)
		}
		content := strings.ToLower(c.Content)
		score := strings.Count(content, queryLower)
		if score == 0 {
			for _, tok := range toks {
				score += strings.Count(content, tok)
			}
		}
		results = append(results, Result{
			ChunkID:   c.ID,
			Source:    c.Source,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Kind:      c.Kind,
			Name:      c.Name,
			Score:     score,
			Snippet:   snippet(c.Content, queryLower, toks),
		})
	}
	s.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if opts.Deterministic {
			return results[i].ChunkID < results[j].ChunkID
		}
		return false
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (s *Store) matchesLocked(c *Chunk, opts SearchOptions) bool {
	if opts.PathPrefix != "" && !strings.HasPrefix(c.Source, opts.PathPrefix) {
		return false
	}
	if opts.Extension != "" && !strings.EqualFold(filepath.Ext(c.Source), opts.Extension) {
		return false
	}
	if opts.Kind != "" && c.Kind != opts.Kind {
		return false
	}
	if opts.Tag != "" {
		found := false
		for _, t := range c.Tags {
			if t == opts.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// snippet extracts up to 100 characters either side of the first match.
func snippet(content, queryLower string, toks []string) string {
	lower := strings.ToLower(content)
	idx := strings.Index(lower, queryLower)
	matchLen := len(queryLower)
	if idx < 0 {
		for _, tok := range toks {
			if i := strings.Index(lower, tok); i >= 0 {
				idx, matchLen = i, len(tok)
				break
			}
		}
	}
	if idx < 0 {
		return ""
	}
	start := idx - 100
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + 100
	if end > len(content) {
		end = len(content)
	}
	out := content[start:end]
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out = out + "…"
	}
	return out
}

// Get returns the chunk for an id, deriving content if needed.
func (s *Store) Get(id string) (*Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, false
	}
	if c.Content == "" {
		s.deriveContentLocked(c)
	}
	cp := *c
	return &cp, true
}

// ActiveIDs returns every live chunk id, sorted.
func (s *Store) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chunks))
	for id := range s.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StaleIDs returns ids awaiting vector eviction, sorted.
func (s *Store) StaleIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.stale))
	for id := range s.stale {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClearStale drops ids from the stale set once the vector store evicted them.
func (s *Store) ClearStale(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.stale, id)
	}
	return s.saveLocked()
}

// Sources returns every ingested source path, sorted.
func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySource))
	for src := range s.bySource {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of live chunks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// deriveContentLocked re-reads a chunk's source file and re-chunks it to
// recover content dropped by a manifest reload. Failures leave content
// empty; the file may have changed or vanished.
func (s *Store) deriveContentLocked(c *Chunk) {
	path := c.Source
	if !filepath.IsAbs(path) && s.cfg.SourceRoot != "" {
		path = filepath.Join(s.cfg.SourceRoot, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	pieces := lang.Chunk(c.Source, string(data), lang.Options{
		MaxLines: s.cfg.ChunkLines,
		Overlap:  s.cfg.ChunkOverlap,
	})
	for _, p := range pieces {
		id := ChunkID(p.Text)
		if cached, ok := s.chunks[id]; ok && cached.Content == "" {
			cached.Content = p.Text
		}
	}
}

type manifest struct {
	Version int                 `json:"version"`
	Chunks  []*Chunk            `json:"chunks"`
	Sources map[string][]string `json:"sources"`
	Stale   []string            `json:"stale,omitempty"`
}

// Save persists the manifest.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.cfg.ManifestPath == "" {
		return nil
	}

	m := manifest{
		Version: manifestVersion,
		Chunks:  make([]*Chunk, 0, len(s.chunks)),
		Sources: make(map[string][]string, len(s.bySource)),
		Stale:   make([]string, 0, len(s.stale)),
	}
	for _, c := range s.chunks {
		m.Chunks = append(m.Chunks, c)
	}
	sort.Slice(m.Chunks, func(i, j int) bool { return m.Chunks[i].ID < m.Chunks[j].ID })
	for src, ids := range s.bySource {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Strings(list)
		m.Sources[src] = list
	}
	for id := range s.stale {
		m.Stale = append(m.Stale, id)
	}
	sort.Strings(m.Stale)

	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chunk manifest: %w", err)
	}
	return writeFileAtomic(s.cfg.ManifestPath, payload)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.cfg.ManifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse chunk manifest: %w", err)
	}

	for _, c := range m.Chunks {
		s.chunks[c.ID] = c
	}
	for src, ids := range m.Sources {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
			refs := s.sourcesOf[id]
			if refs == nil {
				refs = make(map[string]bool)
				s.sourcesOf[id] = refs
			}
			refs[src] = true
		}
		s.bySource[src] = set
	}
	for _, id := range m.Stale {
		s.stale[id] = true
	}

	// Contents are gone; postings rebuild lazily on first search.
	s.dirty = len(s.chunks) > 0
	return nil
}

// writeFileAtomic writes via a temp sibling, fsyncs, and renames into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
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
