package lang

// PlainChunker is the fallback for files without structural boundaries.
// Small files become one whole-file piece; large files are cut into fixed
// line windows with optional overlap.
type PlainChunker struct{}

// Name returns the chunker name.
func (c *PlainChunker) Name() string { return "plain" }

// Extensions returns the file extensions this chunker handles directly.
func (c *PlainChunker) Extensions() []string {
	return []string{".txt", ".text", ".yaml", ".yml", ".json", ".toml", ".sh", ".sql", ".proto", ".log"}
}

// Chunk returns the whole file or fixed windows of it.
func (c *PlainChunker) Chunk(text string, opts Options) []Piece {
	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = 200
	}
	overlap := opts.Overlap
	if overlap < 0 || overlap >= maxLines {
		overlap = 0
	}

	lines := splitLines(text)
	if len(lines) <= maxLines {
		if p, ok := makePiece(lines, 0, len(lines), "file", ""); ok {
			return []Piece{p}
		}
		return nil
	}

	var pieces []Piece
	step := maxLines - overlap
	for start := 0; start < len(lines); start += step {
		end := start + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		if p, ok := makePiece(lines, start, end, "block", ""); ok {
			pieces = append(pieces, p)
		}
		if end == len(lines) {
			break
		}
	}
	return pieces
}
