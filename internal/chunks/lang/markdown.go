package lang

import (
	"regexp"
	"strings"
)

var mdHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// MarkdownChunker cuts markup at section headings. Headings inside fenced
// code blocks are ignored. Text before the first heading becomes a leading
// section piece.
type MarkdownChunker struct{}

// Name returns the chunker name.
func (c *MarkdownChunker) Name() string { return "markdown" }

// Extensions returns the file extensions this chunker handles.
func (c *MarkdownChunker) Extensions() []string {
	return []string{".md", ".markdown", ".rst", ".adoc"}
}

// Chunk splits markup into heading-aligned sections.
func (c *MarkdownChunker) Chunk(text string, opts Options) []Piece {
	lines := splitLines(text)

	type heading struct {
		line  int
		title string
	}
	var headings []heading
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
			headings = append(headings, heading{line: i, title: m[2]})
		}
	}
	if len(headings) == 0 {
		return nil
	}

	var pieces []Piece
	if headings[0].line > 0 {
		if p, ok := makePiece(lines, 0, headings[0].line, "section", ""); ok {
			pieces = append(pieces, p)
		}
	}
	for i, h := range headings {
		end := len(lines)
		if i+1 < len(headings) {
			end = headings[i+1].line
		}
		if p, ok := makePiece(lines, h.line, end, "section", h.title); ok {
			pieces = append(pieces, p)
		}
	}
	return pieces
}
