package lang

import (
	"regexp"
	"strings"
)

var (
	pyDefRe   = regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)`)
	pyClassRe = regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// PythonChunker cuts Python source at column-zero def and class statements.
// Decorator lines directly above a declaration belong to its piece.
type PythonChunker struct{}

// Name returns the chunker name.
func (c *PythonChunker) Name() string { return "python" }

// Extensions returns the file extensions this chunker handles.
func (c *PythonChunker) Extensions() []string { return []string{".py"} }

// Chunk splits Python source into declaration-aligned pieces.
func (c *PythonChunker) Chunk(text string, opts Options) []Piece {
	lines := splitLines(text)

	var boundaries []int
	for i, line := range lines {
		if pyDefRe.MatchString(line) || pyClassRe.MatchString(line) {
			start := i
			// Pull leading decorators into the declaration's piece.
			for start > 0 && strings.HasPrefix(lines[start-1], "@") {
				start--
			}
			if len(boundaries) == 0 || boundaries[len(boundaries)-1] != start {
				boundaries = append(boundaries, start)
			}
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
		declLine := start
		for declLine < end && strings.HasPrefix(lines[declLine], "@") {
			declLine++
		}
		kind, name := pyDeclInfo(lines[declLine])
		if p, ok := makePiece(lines, start, end, kind, name); ok {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func pyDeclInfo(line string) (kind, name string) {
	if m := pyClassRe.FindStringSubmatch(line); m != nil {
		return "class", m[1]
	}
	if m := pyDefRe.FindStringSubmatch(line); m != nil {
		return "function", m[1]
	}
	return "block", ""
}
