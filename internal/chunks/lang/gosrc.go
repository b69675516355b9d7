package lang

import (
	"regexp"
	"strings"
)

var (
	goFuncRe   = regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?([A-Za-z_][A-Za-z0-9_]*)`)
	goTypeRe   = regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)`)
	goTopLevel = regexp.MustCompile(`^(func|type)\s`)
)

// GoChunker cuts Go source at top-level func and type declarations. The
// file header (package clause, imports, package vars) becomes one leading
// block piece.
type GoChunker struct{}

// Name returns the chunker name.
func (c *GoChunker) Name() string { return "go" }

// Extensions returns the file extensions this chunker handles.
func (c *GoChunker) Extensions() []string { return []string{".go"} }

// Chunk splits Go source into declaration-aligned pieces.
func (c *GoChunker) Chunk(text string, opts Options) []Piece {
	lines := splitLines(text)

	var boundaries []int
	for i, line := range lines {
		if goTopLevel.MatchString(line) {
			boundaries = append(boundaries, i)
		}
	}
	if len(boundaries) == 0 {
		return nil
	}

	var pieces []Piece
	if boundaries[0] > 0 {
		if p, ok := makePiece(lines, 0, boundaries[0], "block", ""); ok {
			pieces = append(pieces, p)
		}
	}
	for i, start := range boundaries {
		end := len(lines)
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		kind, name := goDeclInfo(lines[start])
		if p, ok := makePiece(lines, start, end, kind, name); ok {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func goDeclInfo(line string) (kind, name string) {
	if m := goFuncRe.FindStringSubmatch(line); m != nil {
		return "function", m[1]
	}
	if m := goTypeRe.FindStringSubmatch(line); m != nil {
		return "class", m[1]
	}
	return "block", ""
}

// makePiece builds a Piece from lines [start, end), trimming trailing blank
// lines out of the range but keeping the text slice exact. Whitespace-only
// ranges are dropped.
func makePiece(lines []string, start, end int, kind, name string) (Piece, bool) {
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if end <= start {
		return Piece{}, false
	}
	text := joinRange(lines, start, end)
	if strings.TrimSpace(text) == "" {
		return Piece{}, false
	}
	return Piece{
		StartLine: start + 1,
		EndLine:   end,
		Kind:      kind,
		Name:      name,
		Text:      text,
	}, true
}
