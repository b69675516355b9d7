// Package lang selects a chunking strategy per file type. Source files cut
// at top-level declarations, markup at section headings, everything else
// falls back to whole-file or fixed line windows.
package lang

import (
	"path/filepath"
	"strings"
	"sync"
)

// Piece is one chunk boundary produced by a Chunker. Lines are 1-based and
// inclusive; Text is the exact slice of the input.
type Piece struct {
	StartLine int
	EndLine   int
	Kind      string
	Name      string
	Text      string
}

// Options tunes the fallback chunker.
type Options struct {
	// MaxLines is the window size when no structural boundaries exist.
	// Default: 200.
	MaxLines int

	// Overlap is the line overlap between windows. Default: 0.
	Overlap int
}

// Chunker cuts a file's text into pieces at structural boundaries.
type Chunker interface {
	// Name returns the chunker name for logging.
	Name() string

	// Extensions returns the file extensions this chunker handles.
	Extensions() []string

	// Chunk splits text into pieces. An empty result means the caller
	// should fall back to the whole-file chunker.
	Chunk(text string, opts Options) []Piece
}

// Registry maps file extensions to chunkers.
type Registry struct {
	mu       sync.RWMutex
	byExt    map[string]Chunker
	fallback Chunker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Chunker)}
}

// Register adds a chunker for all its extensions.
func (r *Registry) Register(c Chunker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range c.Extensions() {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		r.byExt[ext] = c
	}
}

// SetFallback sets the chunker used for unknown extensions.
func (r *Registry) SetFallback(c Chunker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = c
}

// ForPath returns the chunker for a path's extension, or the fallback.
func (r *Registry) ForPath(path string) Chunker {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byExt[ext]; ok {
		return c
	}
	return r.fallback
}

// Recognized reports whether a path's extension has a registered chunker.
func (r *Registry) Recognized(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byExt[ext]
	return ok
}

// DefaultRegistry holds the built-in chunkers.
var DefaultRegistry = NewRegistry()

var registerOnce sync.Once

func ensureDefaults() {
	registerOnce.Do(func() {
		DefaultRegistry.Register(&GoChunker{})
		DefaultRegistry.Register(&PythonChunker{})
		DefaultRegistry.Register(&JavaScriptChunker{})
		DefaultRegistry.Register(&MarkdownChunker{})
		plain := &PlainChunker{}
		DefaultRegistry.Register(plain)
		DefaultRegistry.SetFallback(plain)
	})
}

// Chunk splits text using the default registry. Structural chunkers that
// find no boundaries fall through to the whole-file chunker so every file
// yields at least one piece.
func Chunk(path, text string, opts Options) []Piece {
	ensureDefaults()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	c := DefaultRegistry.ForPath(path)
	pieces := c.Chunk(text, opts)
	if len(pieces) == 0 {
		pieces = (&PlainChunker{}).Chunk(text, opts)
	}
	return pieces
}

// Recognized reports whether the default registry knows the extension.
func Recognized(path string) bool {
	ensureDefaults()
	return DefaultRegistry.Recognized(path)
}

// splitLines splits keeping no terminators. The final empty element from a
// trailing newline is preserved so joins reproduce the input exactly.
func splitLines(text string) []string {
	return strings.Split(text, "\n")
}

// joinRange reassembles lines [start, end) into the exact original slice.
func joinRange(lines []string, start, end int) string {
	return strings.Join(lines[start:end], "\n")
}
