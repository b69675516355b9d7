package lang

import "regexp"

var (
	jsFuncRe  = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][A-Za-z0-9_$]*)?`)
	jsClassRe = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)
	jsConstRe = regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s+)?(?:function\b|\()`)
	jsTopRe   = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?(?:function\b|class\s)|^(?:export\s+)?(?:const|let|var)\s+[A-Za-z_$][A-Za-z0-9_$]*\s*=\s*(?:async\s+)?(?:function\b|\()`)
)

// JavaScriptChunker cuts JS/TS source at top-level function, class, and
// arrow-function assignments.
type JavaScriptChunker struct{}

// Name returns the chunker name.
func (c *JavaScriptChunker) Name() string { return "javascript" }

// Extensions returns the file extensions this chunker handles.
func (c *JavaScriptChunker) Extensions() []string {
	return []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}
}

// Chunk splits JS/TS source into declaration-aligned pieces.
func (c *JavaScriptChunker) Chunk(text string, opts Options) []Piece {
	lines := splitLines(text)

	var boundaries []int
	for i, line := range lines {
		if jsTopRe.MatchString(line) {
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
		kind, name := jsDeclInfo(lines[start])
		if p, ok := makePiece(lines, start, end, kind, name); ok {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func jsDeclInfo(line string) (kind, name string) {
	if m := jsClassRe.FindStringSubmatch(line); m != nil {
		return "class", m[1]
	}
	if m := jsConstRe.FindStringSubmatch(line); m != nil {
		return "function", m[1]
	}
	if m := jsFuncRe.FindStringSubmatch(line); m != nil && m[0] != "" {
		return "function", m[1]
	}
	return "block", ""
}
