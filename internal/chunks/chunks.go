// Package chunks maintains the chunk index: language-aware chunking of
// source and markup files, content-hash chunk identity, an inverted keyword
// index, and a JSON manifest for persistence. Chunk ids are derived from the
// chunk text alone, so identical text anywhere in the tree collapses to one
// id and survives re-ingestion unchanged.
package chunks

import (
	"crypto/sha256"
	"encoding/hex"
)

// Chunk kinds.
const (
	KindFunction = "function"
	KindClass    = "class"
	KindSection  = "section"
	KindBlock    = "block"
	KindFile     = "file"
)

// Chunk is one indexed piece of a source file. Content is held in memory
// during a session and re-derived from the source file after a reload; the
// manifest persists metadata only.
type Chunk struct {
	// ID is "ch_" plus the first 16 hex characters of the SHA-256 of Content.
	ID string `json:"id"`

	// Source is the file path the chunk came from, relative to the ingest root.
	Source string `json:"source"`

	// StartLine and EndLine are 1-based, inclusive.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Kind is function, class, section, block, or file.
	Kind string `json:"kind"`

	// Name is the function, class, or section heading when known.
	Name string `json:"name,omitempty"`

	// Tags are free-form labels attached at ingest.
	Tags []string `json:"tags,omitempty"`

	// Content is the exact chunk text. Not serialized.
	Content string `json:"-"`
}

// ChunkID derives the content-hash id for a chunk text.
func ChunkID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "ch_" + hex.EncodeToString(sum[:])[:16]
}

// Result is one search hit.
type Result struct {
	ChunkID   string `json:"chunk_id"`
	Source    string `json:"source"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	Score     int    `json:"score"`
	Snippet   string `json:"snippet,omitempty"`
}
